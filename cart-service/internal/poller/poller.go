package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/cart-service/internal/domain"
	"github.com/fjod/go_cart/pkg/logger"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultTopic   = "checkout-outbox"
	DefaultGroupID = "cart-service-consumer"

	readRetryDelay = time.Second
)

// errMalformed marks messages that can never be applied; they are committed and skipped.
var errMalformed = errors.New("malformed checkout message")

// CartClearer empties a cart and keeps its record.
type CartClearer interface {
	ClearCart(ctx context.Context, cartID string) (*domain.Cart, error)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// checkoutEvent is the part of a completed checkout the cart cares about.
type checkoutEvent struct {
	CheckoutID string `json:"checkout_id"`
	CartID     string `json:"cart_id"`
}

// Poller clears the cart of every completed checkout read from the outbox topic.
// An offset is committed only once its message is applied or known to be unusable,
// so a store outage delays checkout events instead of dropping them.
type Poller struct {
	carts      CartClearer
	reader     messageReader
	log        *logger.Logger
	retryDelay time.Duration
}

func NewPoller(carts CartClearer, log *logger.Logger, topic, groupID string, brokers ...string) *Poller {
	if topic == "" {
		topic = DefaultTopic
	}
	if groupID == "" {
		groupID = DefaultGroupID
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
	return &Poller{carts: carts, reader: reader, log: log, retryDelay: readRetryDelay}
}

// Run consumes until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	for {
		m, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.log.Warn("error reading message", "error", err)
			if !p.wait(ctx) {
				return nil
			}
			continue
		}

		if !p.apply(ctx, m) {
			return nil
		}
		if err := p.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// the message is delivered again after a restart; clearing twice is harmless
			p.log.Warn("failed to commit message", "offset", m.Offset, "error", err)
		}
	}
}

// apply handles m until it succeeds or fails permanently. It returns false when ctx ends first.
func (p *Poller) apply(ctx context.Context, m kafka.Message) bool {
	for {
		err := p.handle(ctx, m)
		if err == nil {
			return true
		}
		if errors.Is(err, errMalformed) {
			p.log.Error("checkout message skipped",
				"topic", m.Topic, "partition", m.Partition, "offset", m.Offset, "error", err)
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		p.log.Warn("checkout message not applied, retrying",
			"topic", m.Topic, "partition", m.Partition, "offset", m.Offset, "error", err)
		if !p.wait(ctx) {
			return false
		}
	}
}

func (p *Poller) wait(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(p.retryDelay):
		return true
	}
}

func (p *Poller) handle(ctx context.Context, m kafka.Message) error {
	var event checkoutEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	if event.CartID == "" {
		return fmt.Errorf("%w: missing or invalid cart_id", errMalformed)
	}

	_, err := p.carts.ClearCart(ctx, event.CartID)
	if errors.Is(err, domain.ErrCartNotFound) {
		p.log.Info("checkout for unknown cart ignored", "cart_id", event.CartID, "checkout_id", event.CheckoutID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}

	p.log.Info("cart cleared after checkout", "cart_id", event.CartID, "checkout_id", event.CheckoutID)
	return nil
}

func (p *Poller) Close() error {
	return p.reader.Close()
}
