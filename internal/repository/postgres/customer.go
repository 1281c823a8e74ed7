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

const customerColumns = "id, seller_id, first_name, last_name, company, email, phone, created_at"

type customerRepository struct {
	db *sql.DB
}

// NewCustomerRepository creates a new CustomerRepository backed by Postgres.
func NewCustomerRepository(db *sql.DB) repository.CustomerRepository {
	return &customerRepository{db: db}
}

func (r *customerRepository) GetCustomer(ctx context.Context, id string) (*entity.Customer, error) {
	var c entity.Customer
	err := r.db.QueryRowContext(ctx, "SELECT "+customerColumns+" FROM customers WHERE id = $1", id).
		Scan(&c.ID, &c.SellerID, &c.FirstName, &c.LastName, &c.Company, &c.Email, &c.Phone, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("customer %s: %w", id, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query customer: %w", err)
	}
	return &c, nil
}

func (r *customerRepository) FindBySeller(ctx context.Context, sellerID string) ([]entity.Customer, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+customerColumns+" FROM customers WHERE seller_id = $1 ORDER BY id", sellerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query customers: %w", err)
	}
	defer rows.Close()

	var customers []entity.Customer
	for rows.Next() {
		var c entity.Customer
		if err := rows.Scan(&c.ID, &c.SellerID, &c.FirstName, &c.LastName, &c.Company, &c.Email, &c.Phone, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating customer rows: %w", err)
	}
	return customers, nil
}

func (r *customerRepository) Create(ctx context.Context, c *entity.Customer) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO customers ("+customerColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		c.ID, c.SellerID, c.FirstName, c.LastName, c.Company, c.Email, c.Phone, c.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("customer %s: %w", c.Email, entity.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to insert customer: %w", err)
	}
	return nil
}

func (r *customerRepository) Update(ctx context.Context, c *entity.Customer) error {
	err := r.db.QueryRowContext(ctx,
		"UPDATE customers SET first_name = $1, last_name = $2, company = $3, email = $4, phone = $5 WHERE id = $6 RETURNING created_at",
		c.FirstName, c.LastName, c.Company, c.Email, c.Phone, c.ID,
	).Scan(&c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("customer %s: %w", c.ID, entity.ErrNotFound)
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("customer %s: %w", c.Email, entity.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to update customer: %w", err)
	}
	return nil
}

func (r *customerRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM customers WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete customer: %w", err)
	}
	return expectOneRow(res, "customer", id)
}
