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
	"github.com/lib/pq"
)

const orderColumns = "id, seller_id, customer_id, total, status, created_at"

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository creates a new OrderRepository backed by Postgres.
func NewOrderRepository(db *sql.DB) repository.OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) InsertOrder(ctx context.Context, order *entity.Order) (*entity.Order, error) {
	o := *order
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO orders ("+orderColumns+") VALUES ($1, $2, $3, $4, $5, $6)",
		o.ID, o.SellerID, o.CustomerID, o.Total, string(o.Status), o.CreatedAt,
	)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("order %s: %w", o.ID, entity.ErrAlreadyExists)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}
	if err := insertItems(ctx, tx, o.ID, o.Items); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	o.Items = append([]entity.LineItem(nil), o.Items...)
	return &o, nil
}

func (r *orderRepository) GetOrder(ctx context.Context, id string) (*entity.Order, error) {
	var o entity.Order
	err := r.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id).
		Scan(&o.ID, &o.SellerID, &o.CustomerID, &o.Total, &o.Status, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query order: %w", err)
	}
	items, err := loadItems(ctx, r.db, []string{id})
	if err != nil {
		return nil, err
	}
	o.Items = items[id]
	return &o, nil
}

// UpdateOrder applies the non-nil fields of patch in one transaction. A
// non-nil Items replaces every stored line item of the order.
func (r *orderRepository) UpdateOrder(ctx context.Context, id string, patch entity.OrderPatch) (*entity.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var customerID, total, status any
	if patch.CustomerID != nil {
		customerID = *patch.CustomerID
	}
	if patch.Total != nil {
		total = patch.Total.String()
	}
	if patch.Status != nil {
		status = string(*patch.Status)
	}

	var o entity.Order
	err = tx.QueryRowContext(ctx,
		`UPDATE orders SET
			customer_id = COALESCE($1, customer_id),
			total = COALESCE($2::numeric, total),
			status = COALESCE($3, status)
		WHERE id = $4 RETURNING `+orderColumns,
		customerID, total, status, id,
	).Scan(&o.ID, &o.SellerID, &o.CustomerID, &o.Total, &o.Status, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update order: %w", err)
	}

	if patch.Items != nil {
		if _, err := tx.ExecContext(ctx, "DELETE FROM order_items WHERE order_id = $1", id); err != nil {
			return nil, fmt.Errorf("failed to clear order items: %w", err)
		}
		if err := insertItems(ctx, tx, id, patch.Items); err != nil {
			return nil, err
		}
		o.Items = append([]entity.LineItem(nil), patch.Items...)
	} else {
		items, err := loadItems(ctx, tx, []string{id})
		if err != nil {
			return nil, err
		}
		o.Items = items[id]
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &o, nil
}

func (r *orderRepository) DeleteOrder(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM orders WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	return expectOneRow(res, "order", id)
}

func (r *orderRepository) AggregateCompletedTotalsByCustomer(ctx context.Context, limit int) ([]entity.CustomerTotal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT customer_id, SUM(total) AS total FROM orders
		WHERE status = $1
		GROUP BY customer_id
		ORDER BY total DESC, customer_id ASC
		LIMIT $2`,
		string(entity.OrderStatusCompleted), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate orders by customer: %w", err)
	}
	defer rows.Close()

	var totals []entity.CustomerTotal
	for rows.Next() {
		var t entity.CustomerTotal
		if err := rows.Scan(&t.CustomerID, &t.Total); err != nil {
			return nil, fmt.Errorf("failed to scan customer total: %w", err)
		}
		totals = append(totals, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating aggregate rows: %w", err)
	}
	return totals, nil
}

func (r *orderRepository) AggregateCompletedTotalsBySeller(ctx context.Context, limit int) ([]entity.SellerTotal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT seller_id, SUM(total) AS total FROM orders
		WHERE status = $1
		GROUP BY seller_id
		ORDER BY total DESC, seller_id ASC
		LIMIT $2`,
		string(entity.OrderStatusCompleted), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate orders by seller: %w", err)
	}
	defer rows.Close()

	var totals []entity.SellerTotal
	for rows.Next() {
		var t entity.SellerTotal
		if err := rows.Scan(&t.SellerID, &t.Total); err != nil {
			return nil, fmt.Errorf("failed to scan seller total: %w", err)
		}
		totals = append(totals, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating aggregate rows: %w", err)
	}
	return totals, nil
}

func (r *orderRepository) FindBySeller(ctx context.Context, sellerID string, status entity.OrderStatus) ([]entity.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+orderColumns+` FROM orders
		WHERE seller_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id ASC`,
		sellerID, string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}

	var orders []entity.Order
	var ids []string
	for rows.Next() {
		var o entity.Order
		if err := rows.Scan(&o.ID, &o.SellerID, &o.CustomerID, &o.Total, &o.Status, &o.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
		ids = append(ids, o.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order rows: %w", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	items, err := loadItems(ctx, r.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

func insertItems(ctx context.Context, tx *sql.Tx, orderID string, items []entity.LineItem) error {
	for i, item := range items {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO order_items (order_id, position, product_id, quantity) VALUES ($1, $2, $3, $4)",
			orderID, i, item.ProductID, item.Quantity,
		)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}
	return nil
}

func loadItems(ctx context.Context, q queryer, orderIDs []string) (map[string][]entity.LineItem, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT order_id, product_id, quantity FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position",
		pq.Array(orderIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	items := make(map[string][]entity.LineItem, len(orderIDs))
	for rows.Next() {
		var orderID string
		var item entity.LineItem
		if err := rows.Scan(&orderID, &item.ProductID, &item.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		items[orderID] = append(items[orderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order item rows: %w", err)
	}
	return items, nil
}
