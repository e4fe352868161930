package catalog

import (
	"context"

	"github.com/fjod/go_cart/cart-service/internal/domain"
)

// ProductCatalog is the read-only product lookup the cart depends on.
type ProductCatalog interface {
	// GetProduct returns domain.ErrProductNotFound when id is unknown.
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	// GetProducts returns the products that exist among ids; unknown ids are skipped.
	GetProducts(ctx context.Context, ids []int64) ([]*domain.Product, error)
}
