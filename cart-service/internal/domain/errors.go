package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidQuantity        = errors.New("quantity must be a positive integer")
	ErrProductUnavailable     = errors.New("product not available")
	ErrInsufficientStock      = errors.New("not enough stock")
	ErrCartNotFound           = errors.New("cart not found")
	ErrItemNotFound           = errors.New("item not found in cart")
	ErrProductNotFound        = errors.New("product not found")
	ErrConcurrentModification = errors.New("cart was modified concurrently")
)

// CartError carries the operation and the entities involved in a failed cart operation.
// It unwraps to one of the sentinel errors above or to an infrastructure error.
type CartError struct {
	Op        string
	CartID    string
	ProductID int64
	Err       error
}

func (e *CartError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.CartID != "" {
		fmt.Fprintf(&b, " cart=%s", e.CartID)
	}
	if e.ProductID != 0 {
		fmt.Fprintf(&b, " product=%d", e.ProductID)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *CartError) Unwrap() error {
	return e.Err
}
