package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/messaging"
	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	orderStreamType = "order"

	historyAppendAttempts = 5
)

// TopCustomersComputer recomputes the leaderboard.
type TopCustomersComputer interface {
	ComputeTopCustomers(ctx context.Context) ([]entity.LeaderboardEntry, error)
}

// SnapshotPublisher delivers a leaderboard snapshot to subscribers.
type SnapshotPublisher interface {
	Publish(ctx context.Context, entries []entity.LeaderboardEntry) error
}

// OrderService is the order workflow engine: it validates orders against
// stock, persists them and pushes the recomputed leaderboard.
//
// Leaderboard recompute and publish run after the order is persisted; a
// failure there is logged and the persisted order is still returned. The
// same holds for order history and domain events.
type OrderService struct {
	orders      repository.OrderRepository
	customers   repository.CustomerDirectory
	inventory   *InventoryValidator
	aggregator  TopCustomersComputer
	leaderboard SnapshotPublisher
	eventStore  repository.EventStore
	publisher   messaging.Publisher
	logger      *zap.Logger
	tracer      trace.Tracer
	now         func() time.Time

	// refreshMu keeps leaderboard snapshots published in compute order.
	refreshMu sync.Mutex
	// historyMu serializes history appends made by this process; the
	// version check still guards against other instances.
	historyMu sync.Mutex
}

func NewOrderService(
	orders repository.OrderRepository,
	customers repository.CustomerDirectory,
	inventory *InventoryValidator,
	aggregator TopCustomersComputer,
	leaderboard SnapshotPublisher,
	eventStore repository.EventStore,
	publisher messaging.Publisher,
	logger *zap.Logger,
	tp trace.TracerProvider,
) *OrderService {
	if publisher == nil {
		publisher = messaging.NopPublisher{}
	}
	return &OrderService{
		orders:      orders,
		customers:   customers,
		inventory:   inventory,
		aggregator:  aggregator,
		leaderboard: leaderboard,
		eventStore:  eventStore,
		publisher:   publisher,
		logger:      logger,
		tracer:      tp.Tracer("sales-backend/order-service"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// PlaceOrder creates an order for one of the requester's customers.
func (s *OrderService) PlaceOrder(ctx context.Context, requester string, cmd entity.PlaceOrder) (order *entity.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.PlaceOrder", trace.WithAttributes(
		attribute.String("seller.id", requester),
		attribute.String("customer.id", cmd.CustomerID),
		attribute.Int("order.items", len(cmd.Items)),
	))
	defer func() { endSpan(span, err) }()

	s.logger.Info("Service: Placing order",
		zap.String("seller_id", requester),
		zap.String("customer_id", cmd.CustomerID),
		zap.Int("items", len(cmd.Items)))

	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	customer, err := s.customers.GetCustomer(ctx, cmd.CustomerID)
	if err != nil {
		return nil, err
	}
	if customer.SellerID != requester {
		return nil, entity.ErrForbidden
	}

	plan, err := s.inventory.Reserve(ctx, cmd.Items)
	if err != nil {
		return nil, err
	}

	total := plan.Total
	if cmd.Total != nil {
		total = *cmd.Total
	}
	status := cmd.Status
	if status == "" {
		status = entity.OrderStatusPending
	}

	order, err = s.orders.InsertOrder(ctx, &entity.Order{
		SellerID:   requester,
		CustomerID: cmd.CustomerID,
		Items:      cmd.Items,
		Total:      total,
		Status:     status,
		CreatedAt:  s.now(),
	})
	if err != nil {
		s.inventory.Release(ctx, plan)
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}
	span.SetAttributes(attribute.String("order.id", order.ID))

	placed := entity.OrderPlaced{
		OrderID:    order.ID,
		SellerID:   order.SellerID,
		CustomerID: order.CustomerID,
		Items:      order.Items,
		Total:      order.Total,
		Status:     order.Status,
		PlacedAt:   order.CreatedAt,
	}
	s.appendHistory(ctx, order.ID, placed)
	s.publishEvent(ctx, messaging.TopicOrderPlaced, order.ID, placed)
	s.refreshLeaderboard(ctx)

	return order, nil
}

// UpdateOrder patches an order. The requester must own both the order and
// the customer it will reference. Items, when present, replace the prior
// items and are checked against stock again; stock taken by the replaced
// items is not given back.
func (s *OrderService) UpdateOrder(ctx context.Context, requester, orderID string, cmd entity.UpdateOrder) (order *entity.Order, err error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.UpdateOrder", trace.WithAttributes(
		attribute.String("seller.id", requester),
		attribute.String("order.id", orderID),
	))
	defer func() { endSpan(span, err) }()

	s.logger.Info("Service: Updating order", zap.String("seller_id", requester), zap.String("order_id", orderID))

	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	existing, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	customerID := existing.CustomerID
	if cmd.CustomerID != nil {
		customerID = *cmd.CustomerID
	}
	customer, err := s.customers.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if customer.SellerID != requester || existing.SellerID != requester {
		return nil, entity.ErrForbidden
	}

	patch := entity.OrderPatch{
		CustomerID: cmd.CustomerID,
		Total:      cmd.Total,
		Status:     cmd.Status,
	}
	var plan *StockPlan
	if cmd.Items != nil {
		span.SetAttributes(attribute.Int("order.items", len(cmd.Items)))
		plan, err = s.inventory.Reserve(ctx, cmd.Items)
		if err != nil {
			return nil, err
		}
		patch.Items = cmd.Items
		if patch.Total == nil {
			patch.Total = &plan.Total
		}
	}

	order, err = s.orders.UpdateOrder(ctx, orderID, patch)
	if err != nil {
		if plan != nil {
			s.inventory.Release(ctx, plan)
		}
		return nil, fmt.Errorf("failed to update order: %w", err)
	}

	updated := entity.OrderUpdated{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Items:      order.Items,
		Total:      order.Total,
		Status:     order.Status,
		UpdatedAt:  s.now(),
	}
	s.appendHistory(ctx, order.ID, updated)
	s.publishEvent(ctx, messaging.TopicOrderUpdated, order.ID, updated)
	s.refreshLeaderboard(ctx)

	return order, nil
}

// DeleteOrder removes one of the requester's orders. It never publishes a
// leaderboard snapshot.
func (s *OrderService) DeleteOrder(ctx context.Context, requester, orderID string) (err error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.DeleteOrder", trace.WithAttributes(
		attribute.String("seller.id", requester),
		attribute.String("order.id", orderID),
	))
	defer func() { endSpan(span, err) }()

	s.logger.Info("Service: Deleting order", zap.String("seller_id", requester), zap.String("order_id", orderID))

	existing, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if existing.SellerID != requester {
		return entity.ErrForbidden
	}
	if err := s.orders.DeleteOrder(ctx, orderID); err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}

	deleted := entity.OrderDeleted{OrderID: orderID, SellerID: requester, DeletedAt: s.now()}
	s.appendHistory(ctx, orderID, deleted)
	s.publishEvent(ctx, messaging.TopicOrderDeleted, orderID, deleted)
	return nil
}

// GetOrder returns one of the requester's orders.
func (s *OrderService) GetOrder(ctx context.Context, requester, orderID string) (*entity.Order, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.SellerID != requester {
		return nil, entity.ErrForbidden
	}
	return order, nil
}

// ListOrders returns the requester's orders, newest first. An empty status
// matches every status.
func (s *OrderService) ListOrders(ctx context.Context, requester string, status entity.OrderStatus) ([]entity.Order, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", entity.ErrInvalidInput, status)
	}
	orders, err := s.orders.FindBySeller(ctx, requester, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	if orders == nil {
		orders = []entity.Order{}
	}
	return orders, nil
}

// OrderHistory returns the event history of one of the requester's orders,
// including orders that have since been deleted.
func (s *OrderService) OrderHistory(ctx context.Context, requester, orderID string) ([]entity.EventStoreRecord, error) {
	records, err := s.eventStore.LoadEvents(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order history: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("order %s: %w", orderID, entity.ErrNotFound)
	}
	agg := entity.NewOrderAggregate(orderID)
	if err := agg.Rehydrate(records); err != nil {
		return nil, fmt.Errorf("failed to rehydrate order aggregate: %w", err)
	}
	if agg.SellerID != requester {
		return nil, entity.ErrForbidden
	}
	return records, nil
}

func (s *OrderService) appendHistory(ctx context.Context, orderID string, event entity.Event) {
	ctx = context.WithoutCancel(ctx)
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	var err error
	for attempt := 1; attempt <= historyAppendAttempts; attempt++ {
		err = s.tryAppendHistory(ctx, orderID, event)
		if !errors.Is(err, entity.ErrVersionConflict) {
			break
		}
		s.logger.Debug("Order history version conflict, retrying",
			zap.String("order_id", orderID),
			zap.Int("attempt", attempt))
	}
	if err != nil {
		s.logger.Error("Failed to save order event",
			zap.String("order_id", orderID),
			zap.String("event_type", event.EventType()),
			zap.Error(err))
	}
}

// tryAppendHistory appends event at the stream's current version.
func (s *OrderService) tryAppendHistory(ctx context.Context, orderID string, event entity.Event) error {
	records, err := s.eventStore.LoadEvents(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to load order history: %w", err)
	}
	agg := entity.NewOrderAggregate(orderID)
	if err := agg.Rehydrate(records); err != nil {
		return fmt.Errorf("failed to rehydrate order aggregate: %w", err)
	}
	return s.eventStore.SaveEvents(ctx, orderID, orderStreamType, agg.GetVersion(), []entity.Event{event})
}

func (s *OrderService) publishEvent(ctx context.Context, topic, key string, event any) {
	if err := s.publisher.PublishEvent(context.WithoutCancel(ctx), topic, key, event); err != nil {
		s.logger.Error("Failed to publish order event", zap.String("topic", topic), zap.String("order_id", key), zap.Error(err))
	}
}

// refreshLeaderboard recomputes the leaderboard and publishes it once.
func (s *OrderService) refreshLeaderboard(ctx context.Context) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	ctx, span := s.tracer.Start(context.WithoutCancel(ctx), "OrderService.RefreshLeaderboard")
	var err error
	defer func() { endSpan(span, err) }()

	var entries []entity.LeaderboardEntry
	entries, err = s.aggregator.ComputeTopCustomers(ctx)
	if err != nil {
		s.logger.Error("Failed to recompute leaderboard", zap.Error(err))
		return
	}
	span.SetAttributes(attribute.Int("leaderboard.entries", len(entries)))
	if err = s.leaderboard.Publish(ctx, entries); err != nil {
		s.logger.Error("Failed to publish leaderboard", zap.Error(err))
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// IsClientError reports whether err is caused by the request rather than the system.
func IsClientError(err error) bool {
	return errors.Is(err, entity.ErrInvalidInput) ||
		errors.Is(err, entity.ErrNotFound) ||
		errors.Is(err, entity.ErrForbidden) ||
		errors.Is(err, entity.ErrInsufficientStock) ||
		errors.Is(err, entity.ErrAlreadyExists)
}
