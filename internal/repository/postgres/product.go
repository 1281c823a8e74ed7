package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/repository"
	"github.com/google/uuid"
)

const productColumns = "id, name, stock, price, created_at"

type productRepository struct {
	db *sql.DB
}

// NewProductRepository creates a new ProductRepository backed by Postgres.
func NewProductRepository(db *sql.DB) repository.ProductRepository {
	return &productRepository{db: db}
}

func (r *productRepository) GetProduct(ctx context.Context, id string) (*entity.Product, error) {
	var p entity.Product
	err := r.db.QueryRowContext(ctx, "SELECT "+productColumns+" FROM products WHERE id = $1", id).
		Scan(&p.ID, &p.Name, &p.Stock, &p.Price, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %s: %w", id, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query product: %w", err)
	}
	return &p, nil
}

func (r *productRepository) UpdateStock(ctx context.Context, id string, quantity int) error {
	if quantity < 0 {
		return fmt.Errorf("%w: stock must be >= 0", entity.ErrInvalidInput)
	}
	res, err := r.db.ExecContext(ctx, "UPDATE products SET stock = $1 WHERE id = $2", quantity, id)
	if err != nil {
		return fmt.Errorf("failed to update product stock: %w", err)
	}
	return expectOneRow(res, "product", id)
}

// DecrementStock relies on the conditional UPDATE so concurrent callers can
// never drive stock below zero.
func (r *productRepository) DecrementStock(ctx context.Context, id string, quantity int) (*entity.Product, error) {
	var p entity.Product
	err := r.db.QueryRowContext(ctx,
		"UPDATE products SET stock = stock - $1 WHERE id = $2 AND stock >= $1 RETURNING "+productColumns,
		quantity, id,
	).Scan(&p.ID, &p.Name, &p.Stock, &p.Price, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.GetProduct(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("product %s: %w", id, entity.ErrInsufficientStock)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decrement product stock: %w", err)
	}
	return &p, nil
}

func (r *productRepository) RestoreStock(ctx context.Context, id string, quantity int) error {
	res, err := r.db.ExecContext(ctx, "UPDATE products SET stock = stock + $1 WHERE id = $2", quantity, id)
	if err != nil {
		return fmt.Errorf("failed to restore product stock: %w", err)
	}
	return expectOneRow(res, "product", id)
}

func (r *productRepository) FindAll(ctx context.Context) ([]entity.Product, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+productColumns+" FROM products ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	return scanProducts(rows)
}

func (r *productRepository) Search(ctx context.Context, text string, limit int) ([]entity.Product, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+productColumns+" FROM products WHERE name ILIKE '%' || $1 || '%' ORDER BY name, id LIMIT $2",
		text, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search products: %w", err)
	}
	return scanProducts(rows)
}

func (r *productRepository) Create(ctx context.Context, p *entity.Product) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO products (id, name, stock, price, created_at) VALUES ($1, $2, $3, $4, $5)",
		p.ID, p.Name, p.Stock, p.Price, p.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("product %s: %w", p.ID, entity.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}

func (r *productRepository) Update(ctx context.Context, p *entity.Product) error {
	err := r.db.QueryRowContext(ctx,
		"UPDATE products SET name = $1, stock = $2, price = $3 WHERE id = $4 RETURNING created_at",
		p.Name, p.Stock, p.Price, p.ID,
	).Scan(&p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("product %s: %w", p.ID, entity.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	return nil
}

func (r *productRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM products WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	return expectOneRow(res, "product", id)
}

func (r *productRepository) Seed(ctx context.Context, products []entity.Product) error {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM products").Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to count products: %w", err)
	}
	if count > 0 {
		return nil // already seeded
	}

	for _, p := range products {
		_, err := r.db.ExecContext(ctx,
			"INSERT INTO products (id, name, stock, price) VALUES ($1, $2, $3, $4)",
			p.ID, p.Name, p.Stock, p.Price,
		)
		if err != nil {
			return fmt.Errorf("failed to seed product %s: %w", p.ID, err)
		}
	}
	return nil
}

func scanProducts(rows *sql.Rows) ([]entity.Product, error) {
	defer rows.Close()
	var products []entity.Product
	for rows.Next() {
		var p entity.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Stock, &p.Price, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating product rows: %w", err)
	}
	return products, nil
}

func expectOneRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, entity.ErrNotFound)
	}
	return nil
}
