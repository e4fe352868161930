package domain

import (
	"math"
	"time"
)

type Cart struct {
	ID         string     `json:"id" bson:"_id"`
	CustomerID *string    `json:"customer_id,omitempty" bson:"customer_id,omitempty"`
	Total      int64      `json:"total" bson:"total"`
	ItemCount  int        `json:"item_count" bson:"item_count"`
	Items      []CartItem `json:"items" bson:"items"`
	CreatedAt  time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" bson:"updated_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty" bson:"expires_at,omitempty"`
}

// CartItem is one product line of a cart. Price is the unit price captured
// when the line was created and is never re-read from the catalog.
type CartItem struct {
	ID        int64     `json:"id" bson:"id"`
	CartID    string    `json:"cart_id" bson:"-"`
	ProductID int64     `json:"product_id" bson:"product_id"`
	Quantity  int       `json:"quantity" bson:"quantity"`
	Price     int64     `json:"price" bson:"price"`
	Product   *Product  `json:"product,omitempty" bson:"-"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// MaxItemQuantity bounds the quantity of one cart line.
const MaxItemQuantity = 1_000_000

func (i CartItem) Subtotal() int64 {
	return i.Price * int64(i.Quantity)
}

// Totals sums the subtotal and quantity of every item. It returns ErrInvalidQuantity
// when a line is out of bounds or the amounts do not fit in an int64.
func Totals(items []CartItem) (total int64, itemCount int, err error) {
	for _, item := range items {
		if !ValidQuantity(item.Quantity) {
			return 0, 0, ErrInvalidQuantity
		}
		if item.Price != 0 && int64(item.Quantity) > math.MaxInt64/item.Price {
			return 0, 0, ErrInvalidQuantity
		}
		subtotal := item.Subtotal()
		if total > math.MaxInt64-subtotal {
			return 0, 0, ErrInvalidQuantity
		}
		total += subtotal
		itemCount += item.Quantity
	}
	return total, itemCount, nil
}

// ValidQuantity reports whether quantity is allowed on a cart line.
func ValidQuantity(quantity int) bool {
	return quantity > 0 && quantity <= MaxItemQuantity
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// FindItem returns the line holding productID, or nil.
func (c *Cart) FindItem(productID int64) *CartItem {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return &c.Items[i]
		}
	}
	return nil
}

// Clone returns a deep copy so stores can hand out snapshots without sharing slices.
func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	out := *c
	if c.CustomerID != nil {
		id := *c.CustomerID
		out.CustomerID = &id
	}
	if c.ExpiresAt != nil {
		at := *c.ExpiresAt
		out.ExpiresAt = &at
	}
	out.Items = make([]CartItem, len(c.Items))
	copy(out.Items, c.Items)
	for i := range out.Items {
		if p := out.Items[i].Product; p != nil {
			cp := *p
			out.Items[i].Product = &cp
		}
	}
	return &out
}
