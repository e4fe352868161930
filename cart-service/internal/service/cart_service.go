package service

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/go_cart/cart-service/internal/cache"
	"github.com/fjod/go_cart/cart-service/internal/catalog"
	"github.com/fjod/go_cart/cart-service/internal/domain"
	"github.com/fjod/go_cart/cart-service/internal/events"
	"github.com/fjod/go_cart/cart-service/internal/repository"
	"github.com/fjod/go_cart/pkg/logger"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const (
	opCreateCart     = "CreateCart"
	opGetCart        = "GetCart"
	opAddToCart      = "AddToCart"
	opUpdateItem     = "UpdateItem"
	opRemoveFromCart = "RemoveFromCart"
	opClearCart      = "ClearCart"

	sideEffectTimeout = time.Second
	loadTimeout       = 5 * time.Second
)

// CartService is the cart mutation engine. It holds no cart state of its own:
// every mutation runs inside one repository transaction that ends with recalculation.
type CartService struct {
	repo     repository.CartRepository
	products catalog.ProductCatalog
	cache    cache.CartCache
	notifier events.ExpiryNotifier
	log      *logger.Logger
	tracer   trace.Tracer
	now      func() time.Time
	sfg      singleflight.Group // Prevents cache stampede
	gens     cartGenerations
}

type Option func(*CartService)

func WithCache(c cache.CartCache) Option {
	return func(s *CartService) { s.cache = c }
}

func WithExpiryNotifier(n events.ExpiryNotifier) Option {
	return func(s *CartService) { s.notifier = n }
}

func WithLogger(l *logger.Logger) Option {
	return func(s *CartService) { s.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *CartService) { s.now = now }
}

func NewCartService(repo repository.CartRepository, products catalog.ProductCatalog, opts ...Option) *CartService {
	s := &CartService{
		repo:     repo,
		products: products,
		cache:    cache.NoopCache{},
		notifier: events.NoopNotifier{},
		log:      logger.Nop(),
		tracer:   otel.Tracer("github.com/fjod/go_cart/cart-service/internal/service"),
		now: func() time.Time {
			// millisecond precision survives every store, mongo included
			return time.Now().UTC().Truncate(time.Millisecond)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateCart starts an empty cart, optionally owned by a customer.
func (s *CartService) CreateCart(ctx context.Context, customerID *string) (*domain.Cart, error) {
	ctx, span := s.startSpan(ctx, opCreateCart, "", 0)
	defer span.End()

	if customerID != nil && *customerID == "" {
		customerID = nil
	}
	now := s.now()
	cart := &domain.Cart{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		Items:      []domain.CartItem{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.repo.CreateCart(ctx, cart); err != nil {
		return nil, s.fail(ctx, span, opCreateCart, cart.ID, 0, err)
	}

	s.log.WithContext(ctx).Info("cart created", "cart_id", cart.ID)
	return cart, nil
}

// GetCart returns the cart with its items, each joined with its catalog product.
func (s *CartService) GetCart(ctx context.Context, cartID string) (*domain.Cart, error) {
	ctx, span := s.startSpan(ctx, opGetCart, cartID, 0)
	defer span.End()

	if !validCartID(cartID) {
		return nil, s.fail(ctx, span, opGetCart, cartID, 0, domain.ErrCartNotFound)
	}

	// Use singleflight to prevent multiple concurrent cache misses for same key.
	// The shared load is detached from any one caller; each caller waits on its own ctx.
	ch := s.sfg.DoChan(cartID, func() (interface{}, error) {
		return s.loadCart(ctx, cartID)
	})
	select {
	case <-ctx.Done():
		return nil, s.fail(ctx, span, opGetCart, cartID, 0, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, s.fail(ctx, span, opGetCart, cartID, 0, res.Err)
		}
		// results are shared between singleflight callers
		return res.Val.(*domain.Cart).Clone(), nil
	}
}

func (s *CartService) loadCart(ctx context.Context, cartID string) (*domain.Cart, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
	defer cancel()

	cart, err := s.cache.Get(ctx, cartID)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		s.log.WithContext(ctx).Warn("cache get failed", "cart_id", cartID, "error", err)
	}

	// read before the store so a mutation committed after this point is detected
	gen := s.gens.current(cartID)
	cart, err = s.repo.GetCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	s.attachProducts(ctx, cart)

	go s.fillCache(cartID, gen, cart.Clone())
	return cart, nil
}

// fillCache stores a snapshot read at generation gen unless the cart has been
// mutated since. A mutation that lands while the entry is written removes it again.
func (s *CartService) fillCache(cartID string, gen uint64, snapshot *domain.Cart) {
	if s.gens.current(cartID) != gen {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	if err := s.cache.Set(ctx, cartID, snapshot); err != nil {
		s.log.Warn("cache set failed", "cart_id", cartID, "error", err)
		return
	}
	if s.gens.current(cartID) != gen {
		s.invalidateCache(cartID)
	}
}

// AddToCart adds quantity units of product. An existing line is incremented and keeps
// its original price; a new line snapshots product.Price. Stock is checked, not reserved.
func (s *CartService) AddToCart(ctx context.Context, cartID string, product domain.Product, quantity int) (*domain.Cart, error) {
	ctx, span := s.startSpan(ctx, opAddToCart, cartID, product.ID)
	defer span.End()

	if err := checkAddable(product, quantity); err != nil {
		return nil, s.fail(ctx, span, opAddToCart, cartID, product.ID, err)
	}

	cart, err := s.mutate(ctx, cartID, func(ctx context.Context, tx repository.CartTx) error {
		now := s.now()
		item, err := tx.FindItem(ctx, product.ID)
		switch {
		case err == nil:
			merged := item.Quantity + quantity
			if !domain.ValidQuantity(merged) {
				return domain.ErrInvalidQuantity
			}
			return tx.SetItemQuantity(ctx, product.ID, merged, now)
		case errors.Is(err, domain.ErrItemNotFound):
			return tx.InsertItem(ctx, &domain.CartItem{
				ProductID: product.ID,
				Quantity:  quantity,
				Price:     product.Price,
				CreatedAt: now,
				UpdatedAt: now,
			})
		default:
			return err
		}
	})
	if err != nil {
		return nil, s.fail(ctx, span, opAddToCart, cartID, product.ID, err)
	}

	s.log.WithContext(ctx).Info("item added", "cart_id", cartID, "product_id", product.ID, "quantity", quantity)
	return cart, nil
}

// AddItem resolves productID through the catalog and adds it like AddToCart.
func (s *CartService) AddItem(ctx context.Context, cartID string, productID int64, quantity int) (*domain.Cart, error) {
	if !domain.ValidQuantity(quantity) {
		return nil, &domain.CartError{Op: opAddToCart, CartID: cartID, ProductID: productID, Err: domain.ErrInvalidQuantity}
	}

	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return nil, &domain.CartError{Op: opAddToCart, CartID: cartID, ProductID: productID, Err: err}
	}
	return s.AddToCart(ctx, cartID, *product, quantity)
}

// UpdateItem sets the quantity of an existing line. The line keeps its price snapshot.
func (s *CartService) UpdateItem(ctx context.Context, cartID string, productID int64, newQuantity int) (*domain.Cart, error) {
	ctx, span := s.startSpan(ctx, opUpdateItem, cartID, productID)
	defer span.End()

	if !domain.ValidQuantity(newQuantity) {
		return nil, s.fail(ctx, span, opUpdateItem, cartID, productID, domain.ErrInvalidQuantity)
	}

	// Looked up outside the transaction: stock is read without locking the product,
	// and a missing cart or line is reported before any catalog failure.
	product, lookupErr := s.products.GetProduct(ctx, productID)

	cart, err := s.mutate(ctx, cartID, func(ctx context.Context, tx repository.CartTx) error {
		if _, err := tx.FindItem(ctx, productID); err != nil {
			return err
		}
		if lookupErr != nil {
			return lookupErr
		}
		if !product.HasStock(newQuantity) {
			return domain.ErrInsufficientStock
		}
		return tx.SetItemQuantity(ctx, productID, newQuantity, s.now())
	})
	if err != nil {
		return nil, s.fail(ctx, span, opUpdateItem, cartID, productID, err)
	}

	s.log.WithContext(ctx).Info("item quantity set", "cart_id", cartID, "product_id", productID, "quantity", newQuantity)
	return cart, nil
}

// RemoveFromCart deletes the line for productID. A cart left empty is reported
// as an expiry candidate; it is not expired here.
func (s *CartService) RemoveFromCart(ctx context.Context, cartID string, productID int64) (*domain.Cart, error) {
	ctx, span := s.startSpan(ctx, opRemoveFromCart, cartID, productID)
	defer span.End()

	cart, err := s.mutate(ctx, cartID, func(ctx context.Context, tx repository.CartTx) error {
		return tx.DeleteItem(ctx, productID)
	})
	if err != nil {
		return nil, s.fail(ctx, span, opRemoveFromCart, cartID, productID, err)
	}

	s.log.WithContext(ctx).Info("item removed", "cart_id", cartID, "product_id", productID)
	if cart.IsEmpty() {
		s.signalExpiryCandidate(ctx, cart)
	}
	return cart, nil
}

// ClearCart deletes every line and resets the totals. The cart record is kept.
func (s *CartService) ClearCart(ctx context.Context, cartID string) (*domain.Cart, error) {
	ctx, span := s.startSpan(ctx, opClearCart, cartID, 0)
	defer span.End()

	cart, err := s.mutate(ctx, cartID, func(ctx context.Context, tx repository.CartTx) error {
		return tx.DeleteAllItems(ctx)
	})
	if err != nil {
		return nil, s.fail(ctx, span, opClearCart, cartID, 0, err)
	}

	s.log.WithContext(ctx).Info("cart cleared", "cart_id", cartID)
	return cart, nil
}

// mutate runs change and the recalculation in one repository transaction and
// returns the aggregate as committed.
func (s *CartService) mutate(ctx context.Context, cartID string, change func(ctx context.Context, tx repository.CartTx) error) (*domain.Cart, error) {
	if !validCartID(cartID) {
		return nil, domain.ErrCartNotFound
	}

	var refreshed *domain.Cart
	err := s.repo.Update(ctx, cartID, func(ctx context.Context, tx repository.CartTx) error {
		if err := change(ctx, tx); err != nil {
			return err
		}
		cart, err := s.recalculate(ctx, tx)
		if err != nil {
			return err
		}
		refreshed = cart
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.gens.bump(cartID)
	s.invalidateCache(cartID)
	s.attachProducts(ctx, refreshed)
	return refreshed, nil
}

// recalculate derives total and item_count from the live item set and writes them back.
func (s *CartService) recalculate(ctx context.Context, tx repository.CartTx) (*domain.Cart, error) {
	items, err := tx.Items(ctx)
	if err != nil {
		return nil, err
	}

	total, itemCount, err := domain.Totals(items)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := tx.SaveTotals(ctx, total, itemCount, now); err != nil {
		return nil, err
	}

	cart := tx.Cart()
	cart.Items = items
	cart.Total = total
	cart.ItemCount = itemCount
	cart.UpdatedAt = now
	return &cart, nil
}

func (s *CartService) attachProducts(ctx context.Context, cart *domain.Cart) {
	if len(cart.Items) == 0 {
		return
	}

	ids := make([]int64, len(cart.Items))
	for i, item := range cart.Items {
		ids[i] = item.ProductID
	}
	products, err := s.products.GetProducts(ctx, ids)
	if err != nil {
		s.log.WithContext(ctx).Warn("product lookup failed", "cart_id", cart.ID, "error", err)
		return
	}

	byID := make(map[int64]*domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	for i := range cart.Items {
		cart.Items[i].Product = byID[cart.Items[i].ProductID]
	}
}

func (s *CartService) invalidateCache(cartID string) {
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	if err := s.cache.Delete(ctx, cartID); err != nil {
		s.log.Warn("cache invalidate failed", "cart_id", cartID, "error", err)
	}
}

func (s *CartService) signalExpiryCandidate(ctx context.Context, cart *domain.Cart) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	if err := s.notifier.CartEmptied(ctx, events.NewExpiryCandidate(cart)); err != nil {
		s.log.WithContext(ctx).Error("expiry candidate not published", "cart_id", cart.ID, "error", err)
	}
}

// checkAddable validates an add request against the product before anything is written.
func checkAddable(product domain.Product, quantity int) error {
	if !domain.ValidQuantity(quantity) {
		return domain.ErrInvalidQuantity
	}
	if !product.IsAvailable() {
		return domain.ErrProductUnavailable
	}
	if !product.HasStock(quantity) {
		return domain.ErrInsufficientStock
	}
	return nil
}

func validCartID(cartID string) bool {
	_, err := uuid.Parse(cartID)
	return err == nil
}
