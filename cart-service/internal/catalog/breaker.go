package catalog

import (
	"context"

	"github.com/fjod/go_cart/cart-service/internal/domain"
	"github.com/fjod/go_cart/pkg/circuitbreaker"
	"github.com/sony/gobreaker/v2"
)

// BreakerCatalog stops calling a failing catalog for a while instead of
// piling up slow lookups on every cart request.
type BreakerCatalog struct {
	next   ProductCatalog
	single *gobreaker.CircuitBreaker[*domain.Product]
	batch  *gobreaker.CircuitBreaker[[]*domain.Product]
}

func NewBreakerCatalog(next ProductCatalog, cfg circuitbreaker.Config) *BreakerCatalog {
	batchCfg := cfg
	batchCfg.Name = cfg.Name + "-batch"
	return &BreakerCatalog{
		next:   next,
		single: circuitbreaker.New[*domain.Product](cfg, domain.ErrProductNotFound),
		batch:  circuitbreaker.New[[]*domain.Product](batchCfg),
	}
}

func (c *BreakerCatalog) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	return c.single.Execute(func() (*domain.Product, error) {
		return c.next.GetProduct(ctx, id)
	})
}

func (c *BreakerCatalog) GetProducts(ctx context.Context, ids []int64) ([]*domain.Product, error) {
	return c.batch.Execute(func() ([]*domain.Product, error) {
		return c.next.GetProducts(ctx, ids)
	})
}
