package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/repository"
	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/repository/memory"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	mu    sync.Mutex
	calls [][]entity.LeaderboardEntry
}

func (p *recordingPublisher) Publish(ctx context.Context, entries []entity.LeaderboardEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, entries)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *recordingPublisher) last() []entity.LeaderboardEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[len(p.calls)-1]
}

type fixture struct {
	products  repository.ProductRepository
	orders    repository.OrderRepository
	customers repository.CustomerRepository
	events    repository.EventStore
	agg       *LeaderboardAggregator
	published *recordingPublisher
	svc       *OrderService
}

func newFixture(t *testing.T, catalog repository.CatalogStore) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		products:  memory.NewProductRepository(),
		orders:    memory.NewOrderRepository(),
		customers: memory.NewCustomerRepository(),
		events:    memory.NewEventStore(),
		published: &recordingPublisher{},
	}
	err := f.products.Seed(ctx, []entity.Product{
		{ID: "p1", Name: "Standing Desk", Stock: 5, Price: decimal.NewFromInt(10)},
		{ID: "p2", Name: "Desk Lamp", Stock: 100, Price: decimal.RequireFromString("2.50")},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	for _, c := range []entity.Customer{
		{ID: "cA", SellerID: "A", FirstName: "Ada", Email: "ada@example.com"},
		{ID: "cA2", SellerID: "A", FirstName: "Alan", Email: "alan@example.com"},
		{ID: "cB", SellerID: "B", FirstName: "Bea", Email: "bea@example.com"},
	} {
		if err := f.customers.Create(ctx, &c); err != nil {
			t.Fatalf("create customer: %v", err)
		}
	}
	if catalog == nil {
		catalog = f.products
	}
	logger := zap.NewNop()
	f.agg = NewLeaderboardAggregator(f.orders, f.customers, DefaultTopCustomers, logger)
	f.svc = NewOrderService(
		f.orders, f.customers,
		NewInventoryValidator(catalog, logger),
		f.agg, f.published, f.events, nil,
		logger, noop.NewTracerProvider(),
	)
	return f
}

func items(pairs ...any) []entity.LineItem {
	var out []entity.LineItem
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, entity.LineItem{ProductID: pairs[i].(string), Quantity: pairs[i+1].(int)})
	}
	return out
}

func (f *fixture) stock(t *testing.T, id string) int {
	t.Helper()
	p, err := f.products.GetProduct(context.Background(), id)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	return p.Stock
}

func (f *fixture) orderCount(t *testing.T, seller string) int {
	t.Helper()
	orders, err := f.orders.FindBySeller(context.Background(), seller, "")
	if err != nil {
		t.Fatalf("find orders: %v", err)
	}
	return len(orders)
}

func TestPlaceOrderSecondOrderExceedsRemainingStock(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	order, err := f.svc.PlaceOrder(ctx, "A", entity.PlaceOrder{CustomerID: "cA", Items: items("p1", 3)})
	if err != nil {
		t.Fatalf("first order: %v", err)
	}
	if order.SellerID != "A" || order.Status != entity.OrderStatusPending {
		t.Fatalf("unexpected order: %+v", order)
	}
	if !order.Total.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("expected catalog total 30, got %s", order.Total)
	}
	if got := f.stock(t, "p1"); got != 2 {
		t.Fatalf("expected stock 2, got %d", got)
	}

	_, err = f.svc.PlaceOrder(ctx, "A", entity.PlaceOrder{CustomerID: "cA", Items: items("p1", 3)})
	var stockErr *entity.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if stockErr.ProductName != "Standing Desk" || stockErr.Available != 2 || stockErr.Requested != 3 {
		t.Fatalf("wrong product identified: %+v", stockErr)
	}
	if got := f.stock(t, "p1"); got != 2 {
		t.Fatalf("stock changed by failed order: %d", got)
	}
	if n := f.orderCount(t, "A"); n != 1 {
		t.Fatalf("expected 1 persisted order, got %d", n)
	}
}

func TestPlaceOrderRejectsWholeRequestBeforeTouchingStock(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.PlaceOrder(ctx, "A", entity.PlaceOrder{CustomerID: "cA", Items: items("p2", 4, "p1", 6)})
	if !errors.Is(err, entity.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if got := f.stock(t, "p2"); got != 100 {
		t.Fatalf("earlier line item was decremented: %d", got)
	}

	// the same product twice is checked against its combined demand
	_, err = f.svc.PlaceOrder(ctx, "A", entity.PlaceOrder{CustomerID: "cA", Items: items("p1", 3, "p1", 3)})
	if !errors.Is(err, entity.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock for combined demand, got %v", err)
	}
	if got := f.stock(t, "p1"); got != 5 {
		t.Fatalf("expected stock 5, got %d", got)
	}
	if n := f.orderCount(t, "A"); n != 0 {
		t.Fatalf("expected no persisted order, got %d", n)
	}
	if f.published.count() != 0 {
		t.Fatalf("failed orders must not publish")
	}
}

func TestPlaceOrderForOtherSellersCustomerIsForbidden(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.PlaceOrder(context.Background(), "B", entity.PlaceOrder{CustomerID: "cA", Items: items("p1", 1)})
	if !errors.Is(err, entity.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if got := f.stock(t, "p1"); got != 5 {
		t.Fatalf("forbidden order touched stock: %d", got)
	}
	if n := f.orderCount(t, "B"); n != 0 {
		t.Fatalf("forbidden order persisted")
	}
}

func TestPlaceOrderValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	tests := map[string]struct {
		cmd  entity.PlaceOrder
		want error
	}{
		"no items":         {entity.PlaceOrder{CustomerID: "cA"}, entity.ErrInvalidInput},
		"zero quantity":    {entity.PlaceOrder{CustomerID: "cA", Items: items("p1", 0)}, entity.ErrInvalidInput},
		"unknown customer": {entity.PlaceOrder{CustomerID: "nobody", Items: items("p1", 1)}, entity.ErrNotFound},
		"unknown product":  {entity.PlaceOrder{CustomerID: "cA", Items: items("ghost", 1)}, entity.ErrNotFound},
		"bad status":       {entity.PlaceOrder{CustomerID: "cA", Items: items("p1", 1), Status: "SHIPPED"}, entity.ErrInvalidInput},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := f.svc.PlaceOrder(ctx, "A", tt.cmd); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestUpdateOrderOwnershipGate(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order, err := f.svc.PlaceOrder(ctx, "A", entity.PlaceOrder{CustomerID: "cA", Items: items("p1", 1)})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	published := f.published.count()
	completed := entity.OrderStatusCompleted
	other := "cB"

	tests := map[string]struct {
		requester string
		cmd       entity.UpdateOrder
	}{
		"other seller":            {"B", entity.UpdateOrder{Status: &completed}},
		"other sellers customer":  {"A", entity.UpdateOrder{CustomerID: &other}},
		"other seller with items": {"B", entity.UpdateOrder{Items: items("p1", 2)}},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.UpdateOrder(ctx, tt.requester, order.ID, tt.cmd)
			if !errors.Is(err, entity.ErrForbidden) {
				t.Fatalf("expected ErrForbidden, got %v", err)
			}
		})
	}

	got, _ := f.orders.GetOrder(ctx, order.ID)
	if got.Status != entity.OrderStatusPending || got.CustomerID != "cA" {
		t.Fatalf("forbidden update mutated order: %+v", got)
	}
	if s := f.stock(t, "p1"); s != 4 {
		t.Fatalf("forbidden update touched stock: %d", s)
	}
	if f.published.count() != published {
		t.Fatalf("forbidden update published")
	}
}

func TestUpdateOrderReplacesItemsWithoutRestoringStock(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order, err := f.svc.PlaceOrder(ctx, "A", entity.PlaceOrder{CustomerID: "cA", Items: items("p1", 2)})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	newCustomer := "cA2"
	updated, err := f.svc.UpdateOrder(ctx, "A", order.ID, entity.UpdateOrder{
		CustomerID: &newCustomer,
		Items:      items("p2", 4),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.CustomerID != "cA2" || len(updated.Items) != 1 || updated.Items[0].ProductID != "p2" {
		t.Fatalf("unexpected update: %+v", updated)
	}
	if !updated.Total.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected recomputed total 10, got %s", updated.Total)
	}
	if s := f.stock(t, "p1"); s != 3 {
		t.Fatalf("replaced items must not be restocked, got %d", s)
	}
	if s := f.stock(t, "p2"); s != 96 {
		t.Fatalf("new items not decremented, got %d", s)
	}

	if _, err := f.svc.UpdateOrder(ctx, "A", order.ID, entity.UpdateOrder{Items: []entity.LineItem{}}); !errors.Is(err, entity.ErrInvalidInput) {
		t.Fatalf("empty replacement items must be rejected, got %v", err)
	}
	if _, err := f.svc.UpdateOrder(ctx, "A", "missing", entity.UpdateOrder{}); !errors.Is(err, entity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestComputeTopCustomers(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	insert := func(customer string, total int64, status entity.OrderStatus) {
		t.Helper()
		_, err := f.orders.InsertOrder(ctx, &entity.Order{
			SellerID: "A", CustomerID: customer, Items: items("p1", 1),
			Total: decimal.NewFromInt(total), Status: status,
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	insert("cA", 150, entity.OrderStatusCompleted)
	insert("cA", 50, entity.OrderStatusCompleted)
	insert("cA2", 999, entity.OrderStatusPending)
	insert("cA2", 999, entity.OrderStatusCancelled)

	entries, err := f.agg.ComputeTopCustomers(ctx)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("only customers with completed orders are ranked: %+v", entries)
	}
	if entries[0].CustomerID != "cA" || !entries[0].Total.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("expected cA with 200, got %+v", entries[0])
	}
	if entries[0].Customer == nil || entries[0].Customer.FirstName != "Ada" {
		t.Fatalf("customer record not joined: %+v", entries[0])
	}

	for i := 0; i < 12; i++ {
		insert(string(rune('a'+i)), int64(10+i), entity.OrderStatusCompleted)
	}
	entries, err = f.agg.ComputeTopCustomers(ctx)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if len(entries) != 10 {
		t.Fatalf("expected 10 entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i-1].Total.LessThan(entries[i].Total) {
			t.Fatalf("not sorted descending at %d: %+v", i, entries)
		}
	}
	if entries[1].Customer != nil {
		t.Fatalf("unknown customer should keep a nil record: %+v", entries[1])
	}
}

func TestEverySuccessfulMutationPublishesCurrentLeaderboardOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	completed := entity.OrderStatusCompleted

	order, err := f.svc.PlaceOrder(ctx, "A", entity.PlaceOrder{CustomerID: "cA", Items: items("p2", 2), Status: completed})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if f.published.count() != 1 {
		t.Fatalf("expected 1 publish, got %d", f.published.count())
	}
	want, _ := f.agg.ComputeTopCustomers(ctx)
	got := f.published.last()
	if len(got) != 1 || got[0].CustomerID != want[0].CustomerID || !got[0].Total.Equal(want[0].Total) {
		t.Fatalf("published %+v, want %+v", got, want)
	}

	total := decimal.NewFromInt(75)
	if _, err := f.svc.UpdateOrder(ctx, "A", order.ID, entity.UpdateOrder{Total: &total}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if f.published.count() != 2 {
		t.Fatalf("expected 2 publishes, got %d", f.published.count())
	}
	if got := f.published.last(); !got[0].Total.Equal(total) {
		t.Fatalf("snapshot not recomputed after update: %+v", got)
	}
}

func TestDeleteOrderNeverPublishes(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order, err := f.svc.PlaceOrder(ctx, "A", entity.PlaceOrder{CustomerID: "cA", Items: items("p1", 1)})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	before := f.published.count()

	if err := f.svc.DeleteOrder(ctx, "B", order.ID); !errors.Is(err, entity.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := f.svc.DeleteOrder(ctx, "A", order.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := f.svc.DeleteOrder(ctx, "A", order.ID); !errors.Is(err, entity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if f.published.count() != before {
		t.Fatalf("delete published a leaderboard")
	}
}

func TestConcurrentOrdersNeverOversell(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.PlaceOrder(ctx, "A", entity.PlaceOrder{CustomerID: "cA", Items: items("p2", 1, "p1", 1)})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, entity.ErrInsufficientStock) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 5 {
		t.Fatalf("expected 5 successful orders, got %d", succeeded)
	}
	if s := f.stock(t, "p1"); s != 0 {
		t.Fatalf("expected p1 stock 0, got %d", s)
	}
	// compensation gives back p2 for every order that lost the p1 race
	if s := f.stock(t, "p2"); s != 95 {
		t.Fatalf("expected p2 stock 95, got %d", s)
	}
}

func TestOrderHistory(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order, err := f.svc.PlaceOrder(ctx, "A", entity.PlaceOrder{CustomerID: "cA", Items: items("p1", 1)})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	status := entity.OrderStatusCancelled
	if _, err := f.svc.UpdateOrder(ctx, "A", order.ID, entity.UpdateOrder{Status: &status}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := f.svc.DeleteOrder(ctx, "A", order.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	records, err := f.svc.OrderHistory(ctx, "A", order.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var types []string
	for _, r := range records {
		types = append(types, r.EventType)
	}
	if len(types) != 3 || types[0] != "OrderPlaced" || types[1] != "OrderUpdated" || types[2] != "OrderDeleted" {
		t.Fatalf("unexpected history: %v", types)
	}
	if _, err := f.svc.OrderHistory(ctx, "B", order.ID); !errors.Is(err, entity.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestConcurrentUpdatesKeepEveryHistoryEvent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	order, err := f.svc.PlaceOrder(ctx, "A", entity.PlaceOrder{CustomerID: "cA", Items: items("p2", 1)})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	const updates = 50
	completed := entity.OrderStatusCompleted
	var wg sync.WaitGroup
	for i := 0; i < updates; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.UpdateOrder(ctx, "A", order.ID, entity.UpdateOrder{Status: &completed}); err != nil {
				t.Errorf("update: %v", err)
			}
		}()
	}
	wg.Wait()

	records, err := f.svc.OrderHistory(ctx, "A", order.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(records) != updates+1 {
		t.Fatalf("expected %d history events, got %d", updates+1, len(records))
	}
	for i, r := range records {
		if r.Version != i+1 {
			t.Fatalf("record %d has version %d", i, r.Version)
		}
	}
}

// conflictingEvents fails the first save with a version conflict, as when
// another instance appends to the same stream first.
type conflictingEvents struct {
	repository.EventStore
	conflicts atomic.Int32
}

func (c *conflictingEvents) SaveEvents(ctx context.Context, streamID, streamType string, expectedVersion int, events []entity.Event) error {
	if c.conflicts.Add(1) == 1 {
		return fmt.Errorf("%w: expected version %d", entity.ErrVersionConflict, expectedVersion)
	}
	return c.EventStore.SaveEvents(ctx, streamID, streamType, expectedVersion, events)
}

func TestHistoryAppendRetriesOnVersionConflict(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	events := &conflictingEvents{EventStore: f.events}
	logger := zap.NewNop()
	svc := NewOrderService(
		f.orders, f.customers,
		NewInventoryValidator(f.products, logger),
		f.agg, f.published, events, nil,
		logger, noop.NewTracerProvider(),
	)

	order, err := svc.PlaceOrder(ctx, "A", entity.PlaceOrder{CustomerID: "cA", Items: items("p2", 1)})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	records, err := svc.OrderHistory(ctx, "A", order.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(records) != 1 || records[0].EventType != "OrderPlaced" {
		t.Fatalf("unexpected history: %+v", records)
	}
	if n := events.conflicts.Load(); n != 2 {
		t.Fatalf("expected 2 save attempts, got %d", n)
	}
}

func TestLastPublishedLeaderboardMatchesFinalState(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	completed := entity.OrderStatusCompleted

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		customer := "cA"
		if i%3 == 0 {
			customer = "cA2"
		}
		qty := i%4 + 1
		wg.Add(1)
		go func() {
			defer wg.Done()
			cmd := entity.PlaceOrder{CustomerID: customer, Items: items("p2", qty), Status: completed}
			if _, err := f.svc.PlaceOrder(ctx, "A", cmd); err != nil {
				t.Errorf("place: %v", err)
			}
		}()
	}
	wg.Wait()

	want, err := f.agg.ComputeTopCustomers(ctx)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	got := f.published.last()
	if len(got) != len(want) {
		t.Fatalf("last snapshot has %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].CustomerID != want[i].CustomerID || !got[i].Total.Equal(want[i].Total) {
			t.Fatalf("entry %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestListAndGetOrders(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	completed := entity.OrderStatusCompleted
	first, _ := f.svc.PlaceOrder(ctx, "A", entity.PlaceOrder{CustomerID: "cA", Items: items("p2", 1)})
	if _, err := f.svc.PlaceOrder(ctx, "A", entity.PlaceOrder{CustomerID: "cA", Items: items("p2", 1), Status: completed}); err != nil {
		t.Fatalf("place: %v", err)
	}

	all, err := f.svc.ListOrders(ctx, "A", "")
	if err != nil || len(all) != 2 {
		t.Fatalf("list all: %v %d", err, len(all))
	}
	done, _ := f.svc.ListOrders(ctx, "A", entity.OrderStatusCompleted)
	if len(done) != 1 {
		t.Fatalf("status filter: %d", len(done))
	}
	if _, err := f.svc.ListOrders(ctx, "A", "LOST"); !errors.Is(err, entity.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := f.svc.GetOrder(ctx, "B", first.ID); !errors.Is(err, entity.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}
