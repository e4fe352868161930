package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/fjod/go_cart/cart-service/internal/domain"
)

// SQLCatalog reads products from the products table shared with the cart schema.
type SQLCatalog struct {
	db *sql.DB
}

func NewSQLCatalog(db *sql.DB) *SQLCatalog {
	return &SQLCatalog{db: db}
}

const productColumns = `id, sku, name, description, price, type, is_available, stock, created_at`

func (c *SQLCatalog) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	p, err := scanProduct(c.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query product: %w", err)
	}
	return p, nil
}

func (c *SQLCatalog) GetProducts(ctx context.Context, ids []int64) ([]*domain.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := `SELECT ` + productColumns + ` FROM products WHERE id IN (` +
		strings.Join(placeholders, ", ") + `) ORDER BY id`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []*domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return products, nil
}

// SaveProduct inserts p, or updates it when p.ID is already set.
// The catalog is owned elsewhere; this exists for seeding and tests.
func (c *SQLCatalog) SaveProduct(ctx context.Context, p *domain.Product) error {
	if _, err := domain.ParseProductType(string(p.Type)); err != nil {
		return err
	}

	if p.ID == 0 {
		query := `INSERT INTO products (sku, name, description, price, type, is_available, stock, created_at)
		          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		          RETURNING id`
		err := c.db.QueryRowContext(ctx, query,
			p.SKU, p.Name, p.Description, p.Price, string(p.Type), p.Available, p.Stock, p.CreatedAt,
		).Scan(&p.ID)
		if err != nil {
			return fmt.Errorf("insert product: %w", err)
		}
		return nil
	}

	query := `UPDATE products
	          SET sku = $1, name = $2, description = $3, price = $4, type = $5, is_available = $6, stock = $7
	          WHERE id = $8`
	res, err := c.db.ExecContext(ctx, query,
		p.SKU, p.Name, p.Description, p.Price, string(p.Type), p.Available, p.Stock, p.ID)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	p := &domain.Product{}
	var productType string
	err := row.Scan(
		&p.ID,
		&p.SKU,
		&p.Name,
		&p.Description,
		&p.Price,
		&productType,
		&p.Available,
		&p.Stock,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Type = domain.ProductType(productType)
	return p, nil
}
