package domain

import (
	"fmt"
	"time"
)

type ProductType string

const (
	ProductTypeDigital     ProductType = "digital"
	ProductTypeHardware    ProductType = "hardware"
	ProductTypeKitchenware ProductType = "kitchenware"
	ProductTypeClothing    ProductType = "clothing"
)

func ParseProductType(s string) (ProductType, error) {
	switch t := ProductType(s); t {
	case ProductTypeDigital, ProductTypeHardware, ProductTypeKitchenware, ProductTypeClothing:
		return t, nil
	default:
		return "", fmt.Errorf("unknown product type %q", s)
	}
}

// Product is owned by the catalog; the cart only reads it.
type Product struct {
	ID          int64       `json:"id"`
	SKU         string      `json:"sku"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Price       int64       `json:"price"`
	Type        ProductType `json:"type"`
	Available   bool        `json:"available"`
	Stock       int         `json:"stock"`
	CreatedAt   time.Time   `json:"created_at"`
}

func (p Product) IsDigital() bool {
	return p.Type == ProductTypeDigital
}

func (p Product) IsAvailable() bool {
	return p.Available
}

// HasStock reports whether quantity units can be sold. Digital products are unlimited.
func (p Product) HasStock(quantity int) bool {
	if p.IsDigital() {
		return true
	}
	return p.Stock >= quantity
}
