package events

import (
	"context"
	"time"

	"github.com/fjod/go_cart/cart-service/internal/domain"
)

const EventTypeExpiryCandidate = "cart.expiry_candidate"

// ExpiryCandidate is emitted when a removal leaves a cart without items.
// Whether and when the cart expires is decided by whoever consumes it.
type ExpiryCandidate struct {
	CartID     string    `json:"cart_id"`
	CustomerID *string   `json:"customer_id,omitempty"`
	EmptiedAt  time.Time `json:"emptied_at"`
}

func NewExpiryCandidate(cart *domain.Cart) ExpiryCandidate {
	return ExpiryCandidate{
		CartID:     cart.ID,
		CustomerID: cart.CustomerID,
		EmptiedAt:  cart.UpdatedAt,
	}
}

type ExpiryNotifier interface {
	CartEmptied(ctx context.Context, event ExpiryCandidate) error
}

type NoopNotifier struct{}

func (NoopNotifier) CartEmptied(context.Context, ExpiryCandidate) error {
	return nil
}
