package service

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/cart-service/internal/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func (s *CartService) startSpan(ctx context.Context, op, cartID string, productID int64) (context.Context, trace.Span) {
	attrs := make([]attribute.KeyValue, 0, 2)
	if cartID != "" {
		attrs = append(attrs, attribute.String("cart.id", cartID))
	}
	if productID != 0 {
		attrs = append(attrs, attribute.Int64("product.id", productID))
	}
	return s.tracer.Start(ctx, "CartService."+op, trace.WithAttributes(attrs...))
}

// fail records err on the span, logs it and wraps it with the operation context.
// Business rule violations are expected outcomes and logged below error level.
func (s *CartService) fail(ctx context.Context, span trace.Span, op, cartID string, productID int64, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	log := s.log.WithContext(ctx)
	if isBusinessError(err) {
		log.Info("cart operation rejected", "op", op, "cart_id", cartID, "product_id", productID, "reason", err)
	} else {
		log.Error("cart operation failed", "op", op, "cart_id", cartID, "product_id", productID, "error", err)
	}

	var cartErr *domain.CartError
	if errors.As(err, &cartErr) {
		return err
	}
	return &domain.CartError{Op: op, CartID: cartID, ProductID: productID, Err: err}
}

func isBusinessError(err error) bool {
	for _, target := range []error{
		domain.ErrInvalidQuantity,
		domain.ErrProductUnavailable,
		domain.ErrInsufficientStock,
		domain.ErrCartNotFound,
		domain.ErrItemNotFound,
		domain.ErrProductNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
