package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/cart-service/internal/domain"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLRepository stores carts in the carts and cart_items tables of a sqlite or postgres database.
type SQLRepository struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLRepository(db *sql.DB, dialect Dialect) *SQLRepository {
	return &SQLRepository{db: db, dialect: dialect}
}

const selectCartWithItems = `
	SELECT c.id, c.customer_id, c.total, c.item_count, c.created_at, c.updated_at, c.expires_at,
	       i.id, i.product_id, i.quantity, i.price, i.created_at, i.updated_at
	FROM carts c
	LEFT JOIN cart_items i ON i.cart_id = c.id
	WHERE c.id = $1
	ORDER BY i.id
`

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r *SQLRepository) CreateCart(ctx context.Context, cart *domain.Cart) error {
	query := `INSERT INTO carts (id, customer_id, total, item_count, created_at, updated_at, expires_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		cart.ID,
		nullString(cart.CustomerID),
		cart.Total,
		cart.ItemCount,
		cart.CreatedAt,
		cart.UpdatedAt,
		nullTime(cart.ExpiresAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateCart
		}
		return fmt.Errorf("insert cart: %w", err)
	}
	return nil
}

// GetCart join-fetches the cart and its items in one statement, so totals and items
// always come from the same committed state.
func (r *SQLRepository) GetCart(ctx context.Context, cartID string) (*domain.Cart, error) {
	return loadCart(ctx, r.db, cartID)
}

func (r *SQLRepository) Update(ctx context.Context, cartID string, fn func(ctx context.Context, tx CartTx) error) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var lockedID string
	err = tx.QueryRowContext(ctx, r.lockCartQuery(), cartID).Scan(&lockedID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrCartNotFound
	}
	if err != nil {
		return fmt.Errorf("lock cart: %w", err)
	}

	cart, err := loadCart(ctx, tx, cartID)
	if err != nil {
		return err
	}

	if err = fn(ctx, &sqlTx{tx: tx, cart: cart}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *SQLRepository) lockCartQuery() string {
	if r.dialect == DialectPostgres {
		return `SELECT id FROM carts WHERE id = $1 FOR UPDATE`
	}
	// sqlite transactions already hold the database write lock (BEGIN IMMEDIATE)
	return `SELECT id FROM carts WHERE id = $1`
}

func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func loadCart(ctx context.Context, q queryer, cartID string) (*domain.Cart, error) {
	rows, err := q.QueryContext(ctx, selectCartWithItems, cartID)
	if err != nil {
		return nil, fmt.Errorf("query cart: %w", err)
	}
	defer rows.Close()

	var cart *domain.Cart
	for rows.Next() {
		var (
			c          domain.Cart
			customerID sql.NullString
			expiresAt  sql.NullTime
			itemID     sql.NullInt64
			productID  sql.NullInt64
			quantity   sql.NullInt64
			price      sql.NullInt64
			itemCreat  sql.NullTime
			itemUpdat  sql.NullTime
		)
		if err := rows.Scan(
			&c.ID,
			&customerID,
			&c.Total,
			&c.ItemCount,
			&c.CreatedAt,
			&c.UpdatedAt,
			&expiresAt,
			&itemID,
			&productID,
			&quantity,
			&price,
			&itemCreat,
			&itemUpdat,
		); err != nil {
			return nil, fmt.Errorf("scan cart row: %w", err)
		}

		if cart == nil {
			if customerID.Valid {
				c.CustomerID = &customerID.String
			}
			if expiresAt.Valid {
				c.ExpiresAt = &expiresAt.Time
			}
			c.Items = []domain.CartItem{}
			cart = &c
		}
		if itemID.Valid {
			cart.Items = append(cart.Items, domain.CartItem{
				ID:        itemID.Int64,
				CartID:    cart.ID,
				ProductID: productID.Int64,
				Quantity:  int(quantity.Int64),
				Price:     price.Int64,
				CreatedAt: itemCreat.Time,
				UpdatedAt: itemUpdat.Time,
			})
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	if cart == nil {
		return nil, domain.ErrCartNotFound
	}
	return cart, nil
}

type sqlTx struct {
	tx   *sql.Tx
	cart *domain.Cart
}

func (t *sqlTx) Cart() domain.Cart {
	return *t.cart.Clone()
}

func (t *sqlTx) FindItem(ctx context.Context, productID int64) (*domain.CartItem, error) {
	query := `SELECT id, product_id, quantity, price, created_at, updated_at
	          FROM cart_items WHERE cart_id = $1 AND product_id = $2`

	item := domain.CartItem{CartID: t.cart.ID}
	err := t.tx.QueryRowContext(ctx, query, t.cart.ID, productID).Scan(
		&item.ID,
		&item.ProductID,
		&item.Quantity,
		&item.Price,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query cart item: %w", err)
	}
	return &item, nil
}

func (t *sqlTx) InsertItem(ctx context.Context, item *domain.CartItem) error {
	if !domain.ValidQuantity(item.Quantity) {
		return domain.ErrInvalidQuantity
	}
	query := `INSERT INTO cart_items (cart_id, product_id, quantity, price, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6)
	          RETURNING id`

	err := t.tx.QueryRowContext(ctx, query,
		t.cart.ID,
		item.ProductID,
		item.Quantity,
		item.Price,
		item.CreatedAt,
		item.UpdatedAt).Scan(&item.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateItem
		}
		return fmt.Errorf("insert cart item: %w", err)
	}
	item.CartID = t.cart.ID
	return nil
}

func (t *sqlTx) SetItemQuantity(ctx context.Context, productID int64, quantity int, now time.Time) error {
	if !domain.ValidQuantity(quantity) {
		return domain.ErrInvalidQuantity
	}
	query := `UPDATE cart_items SET quantity = $1, updated_at = $2 WHERE cart_id = $3 AND product_id = $4`

	res, err := t.tx.ExecContext(ctx, query, quantity, now, t.cart.ID, productID)
	if err != nil {
		return fmt.Errorf("update cart item: %w", err)
	}
	return requireRow(res, domain.ErrItemNotFound)
}

func (t *sqlTx) DeleteItem(ctx context.Context, productID int64) error {
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2`, t.cart.ID, productID)
	if err != nil {
		return fmt.Errorf("delete cart item: %w", err)
	}
	return requireRow(res, domain.ErrItemNotFound)
}

func (t *sqlTx) DeleteAllItems(ctx context.Context) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, t.cart.ID); err != nil {
		return fmt.Errorf("delete cart items: %w", err)
	}
	return nil
}

func (t *sqlTx) Items(ctx context.Context) ([]domain.CartItem, error) {
	query := `SELECT id, product_id, quantity, price, created_at, updated_at
	          FROM cart_items WHERE cart_id = $1 ORDER BY id`

	rows, err := t.tx.QueryContext(ctx, query, t.cart.ID)
	if err != nil {
		return nil, fmt.Errorf("query cart items: %w", err)
	}
	defer rows.Close()

	items := []domain.CartItem{}
	for rows.Next() {
		item := domain.CartItem{CartID: t.cart.ID}
		if err := rows.Scan(
			&item.ID,
			&item.ProductID,
			&item.Quantity,
			&item.Price,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return items, nil
}

func (t *sqlTx) SaveTotals(ctx context.Context, total int64, itemCount int, now time.Time) error {
	query := `UPDATE carts SET total = $1, item_count = $2, updated_at = $3 WHERE id = $4`

	res, err := t.tx.ExecContext(ctx, query, total, itemCount, now, t.cart.ID)
	if err != nil {
		return fmt.Errorf("update cart totals: %w", err)
	}
	if err := requireRow(res, domain.ErrCartNotFound); err != nil {
		return err
	}
	t.cart.Total = total
	t.cart.ItemCount = itemCount
	t.cart.UpdatedAt = now
	return nil
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return false
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
