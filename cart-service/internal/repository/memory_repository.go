package repository

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/fjod/go_cart/cart-service/internal/domain"
)

// MemoryRepository implements CartRepository with in-memory storage.
// Writers of one cart are serialized by a per-cart mutex; a transaction works on a
// private copy of the aggregate that replaces the stored one only on success.
type MemoryRepository struct {
	mu     sync.RWMutex
	carts  map[string]*domain.Cart // cartID -> committed aggregate
	locks  map[string]*sync.Mutex  // cartID -> writer lock
	itemID atomic.Int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		carts: make(map[string]*domain.Cart),
		locks: make(map[string]*sync.Mutex),
	}
}

func (m *MemoryRepository) CreateCart(ctx context.Context, cart *domain.Cart) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.carts[cart.ID]; exists {
		return ErrDuplicateCart
	}
	stored := cart.Clone()
	if stored.Items == nil {
		stored.Items = []domain.CartItem{}
	}
	m.carts[cart.ID] = stored
	m.locks[cart.ID] = &sync.Mutex{}
	return nil
}

func (m *MemoryRepository) GetCart(ctx context.Context, cartID string) (*domain.Cart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	cart, exists := m.carts[cartID]
	if !exists {
		return nil, domain.ErrCartNotFound
	}
	return cart.Clone(), nil
}

func (m *MemoryRepository) Update(ctx context.Context, cartID string, fn func(ctx context.Context, tx CartTx) error) error {
	m.mu.RLock()
	lock, exists := m.locks[cartID]
	m.mu.RUnlock()
	if !exists {
		return domain.ErrCartNotFound
	}

	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	working := m.carts[cartID].Clone()
	m.mu.RUnlock()

	tx := &snapshotTx{cart: working, nextID: func() int64 { return m.itemID.Add(1) }}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.carts[cartID] = working
	m.mu.Unlock()
	return nil
}

func (m *MemoryRepository) Close() error {
	return nil
}
