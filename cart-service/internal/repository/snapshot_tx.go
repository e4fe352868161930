package repository

import (
	"context"
	"time"

	"github.com/fjod/go_cart/cart-service/internal/domain"
)

// snapshotTx applies CartTx operations to a private copy of the aggregate.
// The owning store decides whether the copy is committed.
type snapshotTx struct {
	cart   *domain.Cart
	nextID func() int64
}

func (t *snapshotTx) Cart() domain.Cart {
	return *t.cart.Clone()
}

func (t *snapshotTx) FindItem(_ context.Context, productID int64) (*domain.CartItem, error) {
	item := t.cart.FindItem(productID)
	if item == nil {
		return nil, domain.ErrItemNotFound
	}
	found := *item
	return &found, nil
}

func (t *snapshotTx) InsertItem(_ context.Context, item *domain.CartItem) error {
	if !domain.ValidQuantity(item.Quantity) {
		return domain.ErrInvalidQuantity
	}
	if t.cart.FindItem(item.ProductID) != nil {
		return ErrDuplicateItem
	}
	item.ID = t.nextID()
	item.CartID = t.cart.ID
	t.cart.Items = append(t.cart.Items, *item)
	return nil
}

func (t *snapshotTx) SetItemQuantity(_ context.Context, productID int64, quantity int, now time.Time) error {
	if !domain.ValidQuantity(quantity) {
		return domain.ErrInvalidQuantity
	}
	item := t.cart.FindItem(productID)
	if item == nil {
		return domain.ErrItemNotFound
	}
	item.Quantity = quantity
	item.UpdatedAt = now
	return nil
}

func (t *snapshotTx) DeleteItem(_ context.Context, productID int64) error {
	for i, item := range t.cart.Items {
		if item.ProductID == productID {
			t.cart.Items = append(t.cart.Items[:i], t.cart.Items[i+1:]...)
			return nil
		}
	}
	return domain.ErrItemNotFound
}

func (t *snapshotTx) DeleteAllItems(context.Context) error {
	t.cart.Items = []domain.CartItem{}
	return nil
}

func (t *snapshotTx) Items(context.Context) ([]domain.CartItem, error) {
	items := make([]domain.CartItem, len(t.cart.Items))
	copy(items, t.cart.Items)
	return items, nil
}

func (t *snapshotTx) SaveTotals(_ context.Context, total int64, itemCount int, now time.Time) error {
	t.cart.Total = total
	t.cart.ItemCount = itemCount
	t.cart.UpdatedAt = now
	return nil
}
