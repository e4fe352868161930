package repository

import (
	"context"
	"time"

	"github.com/fjod/go_cart/cart-service/internal/domain"
)

// CartRepository is the cart aggregate store.
// Consumers define this interface, not the storage implementations.
type CartRepository interface {
	CreateCart(ctx context.Context, cart *domain.Cart) error
	// GetCart returns the cart with its items as one consistent snapshot.
	GetCart(ctx context.Context, cartID string) (*domain.Cart, error)
	// Update runs fn inside one transaction holding the cart exclusively.
	// Any error returned by fn rolls back every write made through tx.
	// domain.ErrCartNotFound is returned without calling fn when the cart does not exist.
	Update(ctx context.Context, cartID string, fn func(ctx context.Context, tx CartTx) error) error
	Close() error
}

// CartTx is the view of a single locked cart inside CartRepository.Update.
type CartTx interface {
	Cart() domain.Cart
	FindItem(ctx context.Context, productID int64) (*domain.CartItem, error)
	InsertItem(ctx context.Context, item *domain.CartItem) error
	SetItemQuantity(ctx context.Context, productID int64, quantity int, now time.Time) error
	DeleteItem(ctx context.Context, productID int64) error
	DeleteAllItems(ctx context.Context) error
	Items(ctx context.Context) ([]domain.CartItem, error)
	SaveTotals(ctx context.Context, total int64, itemCount int, now time.Time) error
}
