package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/messaging"
	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTopCustomers = 10
	TopSellersLimit     = 3
	TopCustomersTopic   = "top-customers"

	customerJoinConcurrency = 4
)

// LeaderboardAggregator ranks customers by the value of their COMPLETED orders.
type LeaderboardAggregator struct {
	orders    repository.OrderRepository
	customers repository.CustomerDirectory
	limit     int
	logger    *zap.Logger
}

func NewLeaderboardAggregator(orders repository.OrderRepository, customers repository.CustomerDirectory, limit int, logger *zap.Logger) *LeaderboardAggregator {
	if limit <= 0 {
		limit = DefaultTopCustomers
	}
	return &LeaderboardAggregator{orders: orders, customers: customers, limit: limit, logger: logger}
}

// ComputeTopCustomers returns at most limit entries, descending by total with
// ties broken by ascending customer id. Customers that no longer exist keep
// their entry with a nil Customer.
func (a *LeaderboardAggregator) ComputeTopCustomers(ctx context.Context) ([]entity.LeaderboardEntry, error) {
	totals, err := a.orders.AggregateCompletedTotalsByCustomer(ctx, a.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate completed orders: %w", err)
	}

	entries := make([]entity.LeaderboardEntry, len(totals))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(customerJoinConcurrency)
	for i, t := range totals {
		entries[i] = entity.LeaderboardEntry{CustomerID: t.CustomerID, Total: t.Total}
		g.Go(func() error {
			c, err := a.customers.GetCustomer(gctx, t.CustomerID)
			if errors.Is(err, entity.ErrNotFound) {
				a.logger.Warn("Leaderboard: customer missing for completed orders", zap.String("customer_id", t.CustomerID))
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to load customer %s: %w", t.CustomerID, err)
			}
			entries[i].Customer = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if c := entries[i].Total.Cmp(entries[j].Total); c != 0 {
			return c > 0
		}
		return entries[i].CustomerID < entries[j].CustomerID
	})
	if len(entries) > a.limit {
		entries = entries[:a.limit]
	}
	return entries, nil
}

// ComputeTopSellers ranks sellers by the value of their COMPLETED orders.
func (a *LeaderboardAggregator) ComputeTopSellers(ctx context.Context) ([]entity.SellerTotal, error) {
	totals, err := a.orders.AggregateCompletedTotalsBySeller(ctx, TopSellersLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate completed orders by seller: %w", err)
	}
	return totals, nil
}

// LeaderboardPublisher broadcasts leaderboard snapshots over a Broker and
// serves the current leaderboard on demand.
type LeaderboardPublisher struct {
	broker     messaging.Broker
	aggregator *LeaderboardAggregator
	topic      string
	logger     *zap.Logger
	group      singleflight.Group
}

func NewLeaderboardPublisher(broker messaging.Broker, aggregator *LeaderboardAggregator, topic string, logger *zap.Logger) *LeaderboardPublisher {
	if topic == "" {
		topic = TopCustomersTopic
	}
	return &LeaderboardPublisher{broker: broker, aggregator: aggregator, topic: topic, logger: logger}
}

// Publish sends one snapshot to every active subscriber.
func (p *LeaderboardPublisher) Publish(ctx context.Context, entries []entity.LeaderboardEntry) error {
	if entries == nil {
		entries = []entity.LeaderboardEntry{}
	}
	payload, err := json.Marshal(entity.TopCustomersUpdated{
		TopCustomers: entries,
		ComputedAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal leaderboard: %w", err)
	}
	if err := p.broker.Publish(ctx, p.topic, payload); err != nil {
		return fmt.Errorf("failed to publish leaderboard: %w", err)
	}
	p.logger.Debug("Leaderboard published", zap.Int("entries", len(entries)))
	return nil
}

// Subscribe returns the snapshots published from now on, until ctx ends.
func (p *LeaderboardPublisher) Subscribe(ctx context.Context) (<-chan entity.TopCustomersUpdated, error) {
	raw, err := p.broker.Subscribe(ctx, p.topic)
	if err != nil {
		return nil, err
	}
	out := make(chan entity.TopCustomersUpdated)
	go func() {
		defer close(out)
		for payload := range raw {
			var snapshot entity.TopCustomersUpdated
			if err := json.Unmarshal(payload, &snapshot); err != nil {
				p.logger.Warn("Leaderboard: dropping undecodable snapshot", zap.Error(err))
				continue
			}
			select {
			case out <- snapshot:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// GetTopCustomers recomputes the leaderboard. Concurrent callers share one
// computation; a caller leaving early does not cancel it for the others.
func (p *LeaderboardPublisher) GetTopCustomers(ctx context.Context) ([]entity.LeaderboardEntry, error) {
	ch := p.group.DoChan("top-customers", func() (any, error) {
		return p.aggregator.ComputeTopCustomers(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		shared := res.Val.([]entity.LeaderboardEntry)
		entries := make([]entity.LeaderboardEntry, len(shared))
		copy(entries, shared)
		return entries, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetTopSellers returns the top sellers by completed order value.
func (p *LeaderboardPublisher) GetTopSellers(ctx context.Context) ([]entity.SellerTotal, error) {
	return p.aggregator.ComputeTopSellers(ctx)
}
