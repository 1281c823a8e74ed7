package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/entity"
	memorybroker "github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/messaging/memory"
	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/repository"
	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/repository/memory"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// gatedOrders blocks aggregation until release is closed.
type gatedOrders struct {
	repository.OrderRepository
	release chan struct{}
	calls   atomic.Int32
}

func (g *gatedOrders) AggregateCompletedTotalsByCustomer(ctx context.Context, limit int) ([]entity.CustomerTotal, error) {
	g.calls.Add(1)
	<-g.release
	return g.OrderRepository.AggregateCompletedTotalsByCustomer(ctx, limit)
}

func newLeaderboard(t *testing.T, orders repository.OrderRepository) (*LeaderboardPublisher, *LeaderboardAggregator) {
	t.Helper()
	logger := zap.NewNop()
	customers := memory.NewCustomerRepository()
	if err := customers.Create(context.Background(), &entity.Customer{ID: "c1", SellerID: "A", FirstName: "Ada", Email: "ada@example.com"}); err != nil {
		t.Fatalf("create customer: %v", err)
	}
	agg := NewLeaderboardAggregator(orders, customers, DefaultTopCustomers, logger)
	broker := memorybroker.NewBroker(4, logger)
	t.Cleanup(func() { _ = broker.Close() })
	return NewLeaderboardPublisher(broker, agg, "", logger), agg
}

func TestPublishReachesActiveSubscribersOnly(t *testing.T) {
	pub, _ := newLeaderboard(t, memory.NewOrderRepository())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// nothing published before a subscription is replayed
	if err := pub.Publish(ctx, []entity.LeaderboardEntry{{CustomerID: "early", Total: decimal.NewFromInt(1)}}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	first, err := pub.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	second, err := pub.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	entries := []entity.LeaderboardEntry{{CustomerID: "c1", Total: decimal.NewFromInt(200)}}
	if err := pub.Publish(ctx, entries); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for _, sub := range []<-chan entity.TopCustomersUpdated{first, second} {
		select {
		case snap := <-sub:
			if len(snap.TopCustomers) != 1 || snap.TopCustomers[0].CustomerID != "c1" {
				t.Fatalf("unexpected snapshot: %+v", snap)
			}
			if !snap.TopCustomers[0].Total.Equal(decimal.NewFromInt(200)) {
				t.Fatalf("total lost in transit: %s", snap.TopCustomers[0].Total)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("subscriber did not receive snapshot")
		}
	}

	cancel()
	select {
	case _, ok := <-first:
		if ok {
			t.Fatal("expected closed stream after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after cancel")
	}
}

func TestPublishEmptyLeaderboard(t *testing.T) {
	pub, _ := newLeaderboard(t, memory.NewOrderRepository())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := pub.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := pub.Publish(ctx, nil); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case snap := <-sub:
		if snap.TopCustomers == nil || len(snap.TopCustomers) != 0 {
			t.Fatalf("expected empty non-nil list, got %#v", snap.TopCustomers)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot")
	}
}

func TestGetTopCustomersSharesOneComputation(t *testing.T) {
	orders := &gatedOrders{OrderRepository: memory.NewOrderRepository(), release: make(chan struct{})}
	_, err := orders.InsertOrder(context.Background(), &entity.Order{
		SellerID: "A", CustomerID: "c1", Items: items("p1", 1),
		Total: decimal.NewFromInt(40), Status: entity.OrderStatusCompleted,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	pub, _ := newLeaderboard(t, orders)

	var wg sync.WaitGroup
	results := make([][]entity.LeaderboardEntry, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entries, err := pub.GetTopCustomers(context.Background())
			if err != nil {
				t.Errorf("get: %v", err)
				return
			}
			results[i] = entries
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(orders.release)
	wg.Wait()

	if n := orders.calls.Load(); n != 1 {
		t.Fatalf("expected one aggregation, got %d", n)
	}
	for _, r := range results {
		if len(r) != 1 || r[0].Customer == nil || r[0].Customer.FirstName != "Ada" {
			t.Fatalf("unexpected result: %+v", r)
		}
	}
	// callers get their own slices
	results[0][0].CustomerID = "mutated"
	if results[1][0].CustomerID != "c1" {
		t.Fatal("results share backing storage")
	}
}

func TestGetTopCustomersCallerCancellation(t *testing.T) {
	orders := &gatedOrders{OrderRepository: memory.NewOrderRepository(), release: make(chan struct{})}
	pub, _ := newLeaderboard(t, orders)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := pub.GetTopCustomers(ctx)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// the shared computation keeps running for later callers
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(orders.release)
	}()
	entries, err := pub.GetTopCustomers(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(entries) != 0 || entries == nil {
		t.Fatalf("expected empty non-nil leaderboard, got %#v", entries)
	}
	if n := orders.calls.Load(); n != 1 {
		t.Fatalf("expected the cancelled computation to be reused, got %d calls", n)
	}
}

func TestComputeTopSellers(t *testing.T) {
	orders := memory.NewOrderRepository()
	ctx := context.Background()
	for i, seller := range []string{"A", "B", "C", "D", "B"} {
		_, err := orders.InsertOrder(ctx, &entity.Order{
			SellerID: seller, CustomerID: "c1", Items: items("p1", 1),
			Total: decimal.NewFromInt(int64(10 * (i + 1))), Status: entity.OrderStatusCompleted,
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	pub, _ := newLeaderboard(t, orders)

	sellers, err := pub.GetTopSellers(ctx)
	if err != nil {
		t.Fatalf("top sellers: %v", err)
	}
	if len(sellers) != TopSellersLimit {
		t.Fatalf("expected %d sellers, got %d", TopSellersLimit, len(sellers))
	}
	if sellers[0].SellerID != "B" || !sellers[0].Total.Equal(decimal.NewFromInt(70)) {
		t.Fatalf("unexpected leader: %+v", sellers[0])
	}
}
