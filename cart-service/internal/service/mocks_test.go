package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fjod/go_cart/cart-service/internal/cache"
	"github.com/fjod/go_cart/cart-service/internal/domain"
	"github.com/fjod/go_cart/cart-service/internal/events"
	"github.com/fjod/go_cart/cart-service/internal/repository"
)

type mockCatalog struct {
	m        sync.RWMutex
	products map[int64]*domain.Product
	err      error
}

func newMockCatalog(products ...domain.Product) *mockCatalog {
	c := &mockCatalog{products: make(map[int64]*domain.Product)}
	for _, p := range products {
		p := p
		c.products[p.ID] = &p
	}
	return c
}

func (c *mockCatalog) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	c.m.RLock()
	defer c.m.RUnlock()
	if c.err != nil {
		return nil, c.err
	}
	p, ok := c.products[id]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (c *mockCatalog) GetProducts(_ context.Context, ids []int64) ([]*domain.Product, error) {
	c.m.RLock()
	defer c.m.RUnlock()
	if c.err != nil {
		return nil, c.err
	}
	var out []*domain.Product
	for _, id := range ids {
		if p, ok := c.products[id]; ok {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (c *mockCatalog) setPrice(id int64, price int64) {
	c.m.Lock()
	defer c.m.Unlock()
	c.products[id].Price = price
}

func (c *mockCatalog) setErr(err error) {
	c.m.Lock()
	defer c.m.Unlock()
	c.err = err
}

type mockCache struct {
	m     sync.RWMutex
	carts map[string]*domain.Cart
	err   error
}

func newMockCache() *mockCache {
	return &mockCache{carts: make(map[string]*domain.Cart)}
}

func (m *mockCache) Get(_ context.Context, cartID string) (*domain.Cart, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	cart, ok := m.carts[cartID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return cart.Clone(), nil
}

func (m *mockCache) Set(_ context.Context, cartID string, cart *domain.Cart) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.carts[cartID] = cart.Clone()
	return m.err
}

func (m *mockCache) Delete(_ context.Context, cartID string) error {
	m.m.Lock()
	defer m.m.Unlock()
	delete(m.carts, cartID)
	return m.err
}

func (m *mockCache) getCart(cartID string) *domain.Cart {
	m.m.RLock()
	defer m.m.RUnlock()
	return m.carts[cartID]
}

type mockNotifier struct {
	m      sync.Mutex
	events []events.ExpiryCandidate
	err    error
}

func (n *mockNotifier) CartEmptied(_ context.Context, event events.ExpiryCandidate) error {
	n.m.Lock()
	defer n.m.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *mockNotifier) received() []events.ExpiryCandidate {
	n.m.Lock()
	defer n.m.Unlock()
	return append([]events.ExpiryCandidate(nil), n.events...)
}

var errTotalsWrite = errors.New("disk full")

// failingTotalsRepo lets item writes succeed and fails the recalculation write,
// to observe that the item write is rolled back with it.
type failingTotalsRepo struct {
	repository.CartRepository
}

func (r failingTotalsRepo) Update(ctx context.Context, cartID string, fn func(ctx context.Context, tx repository.CartTx) error) error {
	return r.CartRepository.Update(ctx, cartID, func(ctx context.Context, tx repository.CartTx) error {
		return fn(ctx, failingTotalsTx{tx})
	})
}

type failingTotalsTx struct {
	repository.CartTx
}

func (failingTotalsTx) SaveTotals(context.Context, int64, int, time.Time) error {
	return errTotalsWrite
}

// slowReadRepo holds the first GetCart after its store read until release is closed,
// then reports the caller's cancellation like a driver would.
type slowReadRepo struct {
	repository.CartRepository
	once    sync.Once
	reading chan struct{}
	release chan struct{}
}

func newSlowReadRepo(repo repository.CartRepository) *slowReadRepo {
	return &slowReadRepo{
		CartRepository: repo,
		reading:        make(chan struct{}),
		release:        make(chan struct{}),
	}
}

func (r *slowReadRepo) GetCart(ctx context.Context, cartID string) (*domain.Cart, error) {
	cart, err := r.CartRepository.GetCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	r.once.Do(func() {
		close(r.reading)
		<-r.release
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return cart, nil
}
