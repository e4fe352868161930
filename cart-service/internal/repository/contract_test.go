package repository

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/go_cart/cart-service/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var errAbort = errors.New("abort")

func newTestCart(customerID *string) *domain.Cart {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &domain.Cart{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		Items:      []domain.CartItem{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func newTestItem(productID int64, quantity int, price int64) *domain.CartItem {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &domain.CartItem{
		ProductID: productID,
		Quantity:  quantity,
		Price:     price,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// saveTotals recomputes totals from the transaction's items, like the service does.
func saveTotals(ctx context.Context, tx CartTx) error {
	items, err := tx.Items(ctx)
	if err != nil {
		return err
	}
	total, count, err := domain.Totals(items)
	if err != nil {
		return err
	}
	return tx.SaveTotals(ctx, total, count, time.Now().UTC().Truncate(time.Millisecond))
}

func addItem(t *testing.T, repo CartRepository, cartID string, item *domain.CartItem) {
	t.Helper()
	err := repo.Update(context.Background(), cartID, func(ctx context.Context, tx CartTx) error {
		if err := tx.InsertItem(ctx, item); err != nil {
			return err
		}
		return saveTotals(ctx, tx)
	})
	require.NoError(t, err)
}

// runContractTests exercises the CartRepository contract against one store.
func runContractTests(t *testing.T, newRepo func(t *testing.T) CartRepository) {
	t.Run("CreateAndGet", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		customer := "customer-7"
		cart := newTestCart(&customer)

		require.NoError(t, repo.CreateCart(ctx, cart))

		got, err := repo.GetCart(ctx, cart.ID)
		require.NoError(t, err)
		assert.Equal(t, cart.ID, got.ID)
		require.NotNil(t, got.CustomerID)
		assert.Equal(t, customer, *got.CustomerID)
		assert.Equal(t, int64(0), got.Total)
		assert.Equal(t, 0, got.ItemCount)
		assert.Empty(t, got.Items)
		assert.NotNil(t, got.Items)
		assert.True(t, cart.CreatedAt.Equal(got.CreatedAt), "created_at %s round-tripped as %s", cart.CreatedAt, got.CreatedAt)
		assert.Nil(t, got.ExpiresAt)
	})

	t.Run("GuestCart", func(t *testing.T) {
		repo := newRepo(t)
		cart := newTestCart(nil)
		require.NoError(t, repo.CreateCart(context.Background(), cart))

		got, err := repo.GetCart(context.Background(), cart.ID)
		require.NoError(t, err)
		assert.Nil(t, got.CustomerID)
	})

	t.Run("DuplicateCart", func(t *testing.T) {
		repo := newRepo(t)
		cart := newTestCart(nil)
		require.NoError(t, repo.CreateCart(context.Background(), cart))

		err := repo.CreateCart(context.Background(), cart)
		assert.ErrorIs(t, err, ErrDuplicateCart)
	})

	t.Run("GetCartNotFound", func(t *testing.T) {
		repo := newRepo(t)

		cart, err := repo.GetCart(context.Background(), uuid.NewString())
		assert.ErrorIs(t, err, domain.ErrCartNotFound)
		assert.Nil(t, cart)
	})

	t.Run("UpdateCartNotFound", func(t *testing.T) {
		repo := newRepo(t)
		called := false

		err := repo.Update(context.Background(), uuid.NewString(), func(context.Context, CartTx) error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, domain.ErrCartNotFound)
		assert.False(t, called)
	})

	t.Run("InsertCommits", func(t *testing.T) {
		repo := newRepo(t)
		cart := newTestCart(nil)
		require.NoError(t, repo.CreateCart(context.Background(), cart))

		addItem(t, repo, cart.ID, newTestItem(1, 2, 1500))
		addItem(t, repo, cart.ID, newTestItem(2, 1, 2500))

		got, err := repo.GetCart(context.Background(), cart.ID)
		require.NoError(t, err)
		require.Len(t, got.Items, 2)
		assert.Equal(t, int64(5500), got.Total)
		assert.Equal(t, 3, got.ItemCount)
		assert.Equal(t, int64(1), got.Items[0].ProductID)
		assert.Equal(t, 2, got.Items[0].Quantity)
		assert.Equal(t, int64(1500), got.Items[0].Price)
		assert.Equal(t, cart.ID, got.Items[0].CartID)
		assert.NotZero(t, got.Items[0].ID)
		assert.NotEqual(t, got.Items[0].ID, got.Items[1].ID)
	})

	t.Run("DuplicateItem", func(t *testing.T) {
		repo := newRepo(t)
		cart := newTestCart(nil)
		require.NoError(t, repo.CreateCart(context.Background(), cart))
		addItem(t, repo, cart.ID, newTestItem(1, 1, 1500))

		err := repo.Update(context.Background(), cart.ID, func(ctx context.Context, tx CartTx) error {
			return tx.InsertItem(ctx, newTestItem(1, 1, 1500))
		})
		assert.ErrorIs(t, err, ErrDuplicateItem)
	})

	t.Run("ErrorRollsBackEveryWrite", func(t *testing.T) {
		repo := newRepo(t)
		cart := newTestCart(nil)
		require.NoError(t, repo.CreateCart(context.Background(), cart))
		addItem(t, repo, cart.ID, newTestItem(1, 1, 1500))

		err := repo.Update(context.Background(), cart.ID, func(ctx context.Context, tx CartTx) error {
			if err := tx.SetItemQuantity(ctx, 1, 9, time.Now().UTC()); err != nil {
				return err
			}
			if err := tx.InsertItem(ctx, newTestItem(2, 1, 2500)); err != nil {
				return err
			}
			if err := saveTotals(ctx, tx); err != nil {
				return err
			}
			return errAbort
		})
		require.ErrorIs(t, err, errAbort)

		got, err := repo.GetCart(context.Background(), cart.ID)
		require.NoError(t, err)
		require.Len(t, got.Items, 1)
		assert.Equal(t, 1, got.Items[0].Quantity)
		assert.Equal(t, int64(1500), got.Total)
		assert.Equal(t, 1, got.ItemCount)
	})

	t.Run("FindAndSetQuantity", func(t *testing.T) {
		repo := newRepo(t)
		cart := newTestCart(nil)
		require.NoError(t, repo.CreateCart(context.Background(), cart))
		addItem(t, repo, cart.ID, newTestItem(3, 1, 700))

		err := repo.Update(context.Background(), cart.ID, func(ctx context.Context, tx CartTx) error {
			item, err := tx.FindItem(ctx, 3)
			if err != nil {
				return err
			}
			if item.Quantity != 1 || item.Price != 700 {
				return errors.New("unexpected item")
			}
			if err := tx.SetItemQuantity(ctx, 3, 4, time.Now().UTC()); err != nil {
				return err
			}
			return saveTotals(ctx, tx)
		})
		require.NoError(t, err)

		got, err := repo.GetCart(context.Background(), cart.ID)
		require.NoError(t, err)
		assert.Equal(t, 4, got.Items[0].Quantity)
		assert.Equal(t, int64(700), got.Items[0].Price)
		assert.Equal(t, int64(2800), got.Total)
	})

	t.Run("MissingItem", func(t *testing.T) {
		repo := newRepo(t)
		cart := newTestCart(nil)
		require.NoError(t, repo.CreateCart(context.Background(), cart))
		ctx := context.Background()

		err := repo.Update(ctx, cart.ID, func(ctx context.Context, tx CartTx) error {
			_, err := tx.FindItem(ctx, 42)
			return err
		})
		assert.ErrorIs(t, err, domain.ErrItemNotFound)

		err = repo.Update(ctx, cart.ID, func(ctx context.Context, tx CartTx) error {
			return tx.SetItemQuantity(ctx, 42, 1, time.Now().UTC())
		})
		assert.ErrorIs(t, err, domain.ErrItemNotFound)

		err = repo.Update(ctx, cart.ID, func(ctx context.Context, tx CartTx) error {
			return tx.DeleteItem(ctx, 42)
		})
		assert.ErrorIs(t, err, domain.ErrItemNotFound)
	})

	t.Run("NonPositiveQuantityRejected", func(t *testing.T) {
		repo := newRepo(t)
		cart := newTestCart(nil)
		require.NoError(t, repo.CreateCart(context.Background(), cart))
		addItem(t, repo, cart.ID, newTestItem(1, 1, 100))

		err := repo.Update(context.Background(), cart.ID, func(ctx context.Context, tx CartTx) error {
			return tx.SetItemQuantity(ctx, 1, 0, time.Now().UTC())
		})
		assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

		err = repo.Update(context.Background(), cart.ID, func(ctx context.Context, tx CartTx) error {
			return tx.InsertItem(ctx, newTestItem(2, 0, 100))
		})
		assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	})

	t.Run("DeleteItems", func(t *testing.T) {
		repo := newRepo(t)
		cart := newTestCart(nil)
		require.NoError(t, repo.CreateCart(context.Background(), cart))
		addItem(t, repo, cart.ID, newTestItem(1, 1, 100))
		addItem(t, repo, cart.ID, newTestItem(2, 2, 200))
		addItem(t, repo, cart.ID, newTestItem(3, 3, 300))

		err := repo.Update(context.Background(), cart.ID, func(ctx context.Context, tx CartTx) error {
			if err := tx.DeleteItem(ctx, 2); err != nil {
				return err
			}
			return saveTotals(ctx, tx)
		})
		require.NoError(t, err)

		got, err := repo.GetCart(context.Background(), cart.ID)
		require.NoError(t, err)
		require.Len(t, got.Items, 2)
		assert.Equal(t, int64(1000), got.Total)

		err = repo.Update(context.Background(), cart.ID, func(ctx context.Context, tx CartTx) error {
			if err := tx.DeleteAllItems(ctx); err != nil {
				return err
			}
			items, err := tx.Items(ctx)
			if err != nil {
				return err
			}
			if len(items) != 0 {
				return errors.New("items left after delete all")
			}
			return saveTotals(ctx, tx)
		})
		require.NoError(t, err)

		got, err = repo.GetCart(context.Background(), cart.ID)
		require.NoError(t, err)
		assert.Empty(t, got.Items)
		assert.Equal(t, int64(0), got.Total)
		assert.Equal(t, 0, got.ItemCount)
		assert.Equal(t, cart.ID, got.ID)
	})

	t.Run("TxSeesLockedCart", func(t *testing.T) {
		repo := newRepo(t)
		customer := "customer-9"
		cart := newTestCart(&customer)
		require.NoError(t, repo.CreateCart(context.Background(), cart))
		addItem(t, repo, cart.ID, newTestItem(1, 2, 100))

		var seen domain.Cart
		err := repo.Update(context.Background(), cart.ID, func(ctx context.Context, tx CartTx) error {
			seen = tx.Cart()
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, cart.ID, seen.ID)
		require.NotNil(t, seen.CustomerID)
		assert.Equal(t, customer, *seen.CustomerID)
		assert.Equal(t, int64(200), seen.Total)
		assert.Equal(t, 2, seen.ItemCount)
	})

	t.Run("ConcurrentIncrements", func(t *testing.T) {
		repo := newRepo(t)
		cart := newTestCart(nil)
		require.NoError(t, repo.CreateCart(context.Background(), cart))
		addItem(t, repo, cart.ID, newTestItem(1, 1, 100))

		const workers = 10
		var committed atomic.Int64
		var g errgroup.Group
		for i := 0; i < workers; i++ {
			g.Go(func() error {
				err := repo.Update(context.Background(), cart.ID, func(ctx context.Context, tx CartTx) error {
					item, err := tx.FindItem(ctx, 1)
					if err != nil {
						return err
					}
					if err := tx.SetItemQuantity(ctx, 1, item.Quantity+1, time.Now().UTC()); err != nil {
						return err
					}
					return saveTotals(ctx, tx)
				})
				// optimistic stores may give up under contention; the write is then not applied
				if errors.Is(err, domain.ErrConcurrentModification) {
					return nil
				}
				if err == nil {
					committed.Add(1)
				}
				return err
			})
		}
		require.NoError(t, g.Wait())

		got, err := repo.GetCart(context.Background(), cart.ID)
		require.NoError(t, err)
		want := 1 + int(committed.Load())
		assert.Equal(t, want, got.Items[0].Quantity)
		assert.Equal(t, want, got.ItemCount)
		assert.Equal(t, int64(want)*100, got.Total)
	})
}
