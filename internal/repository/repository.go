package repository

import (
	"context"

	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/entity"
)

// CatalogStore is the stock-bearing view of the catalog used by the order workflow.
type CatalogStore interface {
	GetProduct(ctx context.Context, id string) (*entity.Product, error)
	UpdateStock(ctx context.Context, id string, quantity int) error
	// DecrementStock subtracts quantity only if the current stock covers it.
	// It returns entity.ErrInsufficientStock when it does not.
	DecrementStock(ctx context.Context, id string, quantity int) (*entity.Product, error)
	RestoreStock(ctx context.Context, id string, quantity int) error
}

// ProductRepository handles persistence for Products.
type ProductRepository interface {
	CatalogStore
	FindAll(ctx context.Context) ([]entity.Product, error)
	Search(ctx context.Context, text string, limit int) ([]entity.Product, error)
	Create(ctx context.Context, p *entity.Product) error
	Update(ctx context.Context, p *entity.Product) error
	Delete(ctx context.Context, id string) error
	// Seed inserts initial products if none exist.
	Seed(ctx context.Context, products []entity.Product) error
}

// OrderStore is the order persistence used by the order workflow.
type OrderStore interface {
	InsertOrder(ctx context.Context, order *entity.Order) (*entity.Order, error)
	GetOrder(ctx context.Context, id string) (*entity.Order, error)
	UpdateOrder(ctx context.Context, id string, patch entity.OrderPatch) (*entity.Order, error)
	DeleteOrder(ctx context.Context, id string) error
	// AggregateCompletedTotalsByCustomer sums COMPLETED orders per customer,
	// ordered by descending total then ascending customer id.
	AggregateCompletedTotalsByCustomer(ctx context.Context, limit int) ([]entity.CustomerTotal, error)
}

// OrderRepository handles persistence for Orders.
type OrderRepository interface {
	OrderStore
	// FindBySeller lists a seller's orders, newest first. An empty status matches all.
	FindBySeller(ctx context.Context, sellerID string, status entity.OrderStatus) ([]entity.Order, error)
	AggregateCompletedTotalsBySeller(ctx context.Context, limit int) ([]entity.SellerTotal, error)
}

// CustomerDirectory resolves customers referenced by orders.
type CustomerDirectory interface {
	GetCustomer(ctx context.Context, id string) (*entity.Customer, error)
}

// CustomerRepository handles persistence for Customers.
type CustomerRepository interface {
	CustomerDirectory
	FindBySeller(ctx context.Context, sellerID string) ([]entity.Customer, error)
	// Create returns entity.ErrAlreadyExists when the email is taken.
	Create(ctx context.Context, c *entity.Customer) error
	Update(ctx context.Context, c *entity.Customer) error
	Delete(ctx context.Context, id string) error
}

// EventStore handles appending and loading events for an order stream.
type EventStore interface {
	SaveEvents(ctx context.Context, streamID string, streamType string, expectedVersion int, events []entity.Event) error
	LoadEvents(ctx context.Context, streamID string) ([]entity.EventStoreRecord, error)
}
