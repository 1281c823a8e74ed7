package entity

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a product in the shared catalog.
type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Stock     int             `json:"stock"`
	Price     decimal.Decimal `json:"price"`
	CreatedAt time.Time       `json:"created_at"`
}

// Validate checks the catalog invariants of a product.
func (p Product) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: product name is required", ErrInvalidInput)
	}
	if p.Stock < 0 {
		return fmt.Errorf("%w: stock must be >= 0", ErrInvalidInput)
	}
	if p.Price.IsNegative() {
		return fmt.Errorf("%w: price must be >= 0", ErrInvalidInput)
	}
	return nil
}

// Customer is a client managed by exactly one seller.
type Customer struct {
	ID        string    `json:"id"`
	SellerID  string    `json:"seller_id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Company   string    `json:"company"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// OrderStatus is the caller-driven lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Valid reports whether s is one of the known statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

// LineItem is a (product, quantity) pair within an order.
type LineItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Order represents a sales order placed by a seller for a customer.
type Order struct {
	ID         string          `json:"id"`
	SellerID   string          `json:"seller_id"`
	CustomerID string          `json:"customer_id"`
	Items      []LineItem      `json:"items"`
	Total      decimal.Decimal `json:"total"`
	Status     OrderStatus     `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
}

// OrderPatch carries the fields of an order update. Nil fields are left
// untouched; a non-nil Items replaces the whole line-item set.
type OrderPatch struct {
	CustomerID *string
	Items      []LineItem
	Total      *decimal.Decimal
	Status     *OrderStatus
}

// CustomerTotal is one group of the completed-orders aggregation.
type CustomerTotal struct {
	CustomerID string
	Total      decimal.Decimal
}

// SellerTotal is one group of the completed-orders aggregation by seller.
type SellerTotal struct {
	SellerID string          `json:"seller_id"`
	Total    decimal.Decimal `json:"total"`
}

// LeaderboardEntry is a ranked customer with the value of its completed orders.
type LeaderboardEntry struct {
	CustomerID string          `json:"customer_id"`
	Customer   *Customer       `json:"customer,omitempty"`
	Total      decimal.Decimal `json:"total"`
}

// --- Commands ---

// PlaceOrder is the input of an order creation.
type PlaceOrder struct {
	CustomerID string           `json:"customer_id"`
	Items      []LineItem       `json:"items"`
	Total      *decimal.Decimal `json:"total,omitempty"`
	Status     OrderStatus      `json:"status,omitempty"`
}

// Validate checks the shape of the command before any store is consulted.
func (c PlaceOrder) Validate() error {
	if c.CustomerID == "" {
		return fmt.Errorf("%w: customer_id is required", ErrInvalidInput)
	}
	if len(c.Items) == 0 {
		return fmt.Errorf("%w: order must have at least one item", ErrInvalidInput)
	}
	if err := validateItems(c.Items); err != nil {
		return err
	}
	if c.Total != nil && c.Total.IsNegative() {
		return fmt.Errorf("%w: total must be >= 0", ErrInvalidInput)
	}
	if c.Status != "" && !c.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, c.Status)
	}
	return nil
}

// UpdateOrder is the input of an order update. Items, when non-nil, fully
// replaces the prior line items and is validated against stock again.
type UpdateOrder struct {
	CustomerID *string          `json:"customer_id,omitempty"`
	Items      []LineItem       `json:"items,omitempty"`
	Total      *decimal.Decimal `json:"total,omitempty"`
	Status     *OrderStatus     `json:"status,omitempty"`
}

// Validate checks the shape of the command before any store is consulted.
func (c UpdateOrder) Validate() error {
	if c.CustomerID != nil && *c.CustomerID == "" {
		return fmt.Errorf("%w: customer_id must not be empty", ErrInvalidInput)
	}
	if c.Items != nil {
		if len(c.Items) == 0 {
			return fmt.Errorf("%w: items must not be empty when present", ErrInvalidInput)
		}
		if err := validateItems(c.Items); err != nil {
			return err
		}
	}
	if c.Total != nil && c.Total.IsNegative() {
		return fmt.Errorf("%w: total must be >= 0", ErrInvalidInput)
	}
	if c.Status != nil && !c.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, *c.Status)
	}
	return nil
}

func validateItems(items []LineItem) error {
	for i, item := range items {
		if item.ProductID == "" {
			return fmt.Errorf("%w: items[%d].product_id is required", ErrInvalidInput, i)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: items[%d].quantity must be > 0", ErrInvalidInput, i)
		}
	}
	return nil
}

// --- Events ---

// OrderPlaced is emitted when an order is persisted.
type OrderPlaced struct {
	OrderID    string          `json:"order_id"`
	SellerID   string          `json:"seller_id"`
	CustomerID string          `json:"customer_id"`
	Items      []LineItem      `json:"items"`
	Total      decimal.Decimal `json:"total"`
	Status     OrderStatus     `json:"status"`
	PlacedAt   time.Time       `json:"placed_at"`
}

func (e OrderPlaced) EventType() string { return "OrderPlaced" }

// OrderUpdated is emitted when an order is modified by its seller.
type OrderUpdated struct {
	OrderID    string          `json:"order_id"`
	CustomerID string          `json:"customer_id"`
	Items      []LineItem      `json:"items"`
	Total      decimal.Decimal `json:"total"`
	Status     OrderStatus     `json:"status"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func (e OrderUpdated) EventType() string { return "OrderUpdated" }

// OrderDeleted is emitted when an order is removed by its seller.
type OrderDeleted struct {
	OrderID   string    `json:"order_id"`
	SellerID  string    `json:"seller_id"`
	DeletedAt time.Time `json:"deleted_at"`
}

func (e OrderDeleted) EventType() string { return "OrderDeleted" }

// TopCustomersUpdated carries a leaderboard snapshot to subscribers.
type TopCustomersUpdated struct {
	TopCustomers []LeaderboardEntry `json:"top_customers"`
	ComputedAt   time.Time          `json:"computed_at"`
}
