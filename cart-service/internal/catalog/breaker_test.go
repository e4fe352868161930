package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_cart/cart-service/internal/domain"
	"github.com/fjod/go_cart/pkg/circuitbreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCatalog struct {
	m     sync.Mutex
	calls int
	err   error
}

func (s *stubCatalog) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.m.Lock()
	defer s.m.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &domain.Product{ID: id}, nil
}

func (s *stubCatalog) GetProducts(_ context.Context, ids []int64) ([]*domain.Product, error) {
	s.m.Lock()
	defer s.m.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([]*domain.Product, len(ids))
	for i, id := range ids {
		out[i] = &domain.Product{ID: id}
	}
	return out, nil
}

func (s *stubCatalog) callCount() int {
	s.m.Lock()
	defer s.m.Unlock()
	return s.calls
}

func testBreakerConfig() circuitbreaker.Config {
	cfg := circuitbreaker.DefaultConfig("catalog-test")
	cfg.ConsecutiveFailures = 3
	cfg.Timeout = time.Hour
	return cfg
}

func TestBreakerCatalog_PassesThrough(t *testing.T) {
	next := &stubCatalog{}
	c := NewBreakerCatalog(next, testBreakerConfig())

	p, err := c.GetProduct(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), p.ID)

	ps, err := c.GetProducts(context.Background(), []int64{1, 2})
	require.NoError(t, err)
	assert.Len(t, ps, 2)
}

func TestBreakerCatalog_OpensAfterFailures(t *testing.T) {
	next := &stubCatalog{err: errors.New("connection refused")}
	c := NewBreakerCatalog(next, testBreakerConfig())

	for i := 0; i < 3; i++ {
		_, err := c.GetProduct(context.Background(), 1)
		require.ErrorContains(t, err, "connection refused")
	}

	_, err := c.GetProduct(context.Background(), 1)
	assert.True(t, circuitbreaker.IsOpen(err))
	assert.Equal(t, 3, next.callCount())
}

func TestBreakerCatalog_NotFoundDoesNotTrip(t *testing.T) {
	next := &stubCatalog{err: domain.ErrProductNotFound}
	c := NewBreakerCatalog(next, testBreakerConfig())

	for i := 0; i < 10; i++ {
		_, err := c.GetProduct(context.Background(), 1)
		require.ErrorIs(t, err, domain.ErrProductNotFound)
	}
	assert.Equal(t, 10, next.callCount())
}
