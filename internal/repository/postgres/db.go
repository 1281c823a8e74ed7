package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

const uniqueViolation = "23505"

func InitDB(ctx context.Context, dsn string, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info("Database connected and migrated")
	return db, nil
}

// Migrate creates the schema if it does not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			stock INT NOT NULL DEFAULT 0 CHECK (stock >= 0),
			price NUMERIC NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS customers (
			id TEXT PRIMARY KEY,
			seller_id TEXT NOT NULL,
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			company TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL,
			phone TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS customers_email_lower_idx ON customers (lower(email));

		CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			seller_id TEXT NOT NULL,
			customer_id TEXT NOT NULL,
			total NUMERIC NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'PENDING',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS orders_status_customer_idx ON orders (status, customer_id);
		CREATE INDEX IF NOT EXISTS orders_seller_idx ON orders (seller_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS order_items (
			order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
			position INT NOT NULL,
			product_id TEXT NOT NULL,
			quantity INT NOT NULL CHECK (quantity > 0),
			PRIMARY KEY (order_id, position)
		);

		CREATE TABLE IF NOT EXISTS order_events (
			id TEXT PRIMARY KEY,
			stream_id TEXT NOT NULL,
			stream_type TEXT NOT NULL,
			version INT NOT NULL,
			event_type TEXT NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (stream_id, version)
		);
	`)
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
