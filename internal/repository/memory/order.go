package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type orderRepository struct {
	mu sync.RWMutex
	m  map[string]entity.Order
}

// NewOrderRepository creates an empty OrderRepository held in memory.
func NewOrderRepository() repository.OrderRepository {
	return &orderRepository{m: make(map[string]entity.Order)}
}

func (r *orderRepository) InsertOrder(ctx context.Context, order *entity.Order) (*entity.Order, error) {
	o := cloneOrder(*order)
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[o.ID]; ok {
		return nil, fmt.Errorf("order %s: %w", o.ID, entity.ErrAlreadyExists)
	}
	r.m[o.ID] = o
	out := cloneOrder(o)
	return &out, nil
}

func (r *orderRepository) GetOrder(ctx context.Context, id string) (*entity.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.m[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, entity.ErrNotFound)
	}
	out := cloneOrder(o)
	return &out, nil
}

func (r *orderRepository) UpdateOrder(ctx context.Context, id string, patch entity.OrderPatch) (*entity.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.m[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, entity.ErrNotFound)
	}
	if patch.CustomerID != nil {
		o.CustomerID = *patch.CustomerID
	}
	if patch.Items != nil {
		o.Items = append([]entity.LineItem(nil), patch.Items...)
	}
	if patch.Total != nil {
		o.Total = *patch.Total
	}
	if patch.Status != nil {
		o.Status = *patch.Status
	}
	r.m[id] = o
	out := cloneOrder(o)
	return &out, nil
}

func (r *orderRepository) DeleteOrder(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[id]; !ok {
		return fmt.Errorf("order %s: %w", id, entity.ErrNotFound)
	}
	delete(r.m, id)
	return nil
}

func (r *orderRepository) AggregateCompletedTotalsByCustomer(ctx context.Context, limit int) ([]entity.CustomerTotal, error) {
	sums := r.completedTotals(func(o entity.Order) string { return o.CustomerID })
	totals := make([]entity.CustomerTotal, 0, len(sums))
	for id, total := range sums {
		totals = append(totals, entity.CustomerTotal{CustomerID: id, Total: total})
	}
	sort.Slice(totals, func(i, j int) bool {
		if c := totals[i].Total.Cmp(totals[j].Total); c != 0 {
			return c > 0
		}
		return totals[i].CustomerID < totals[j].CustomerID
	})
	if limit > 0 && len(totals) > limit {
		totals = totals[:limit]
	}
	return totals, nil
}

func (r *orderRepository) FindBySeller(ctx context.Context, sellerID string, status entity.OrderStatus) ([]entity.Order, error) {
	r.mu.RLock()
	var orders []entity.Order
	for _, o := range r.m {
		if o.SellerID != sellerID {
			continue
		}
		if status != "" && o.Status != status {
			continue
		}
		orders = append(orders, cloneOrder(o))
	}
	r.mu.RUnlock()
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].ID < orders[j].ID
	})
	return orders, nil
}

func (r *orderRepository) AggregateCompletedTotalsBySeller(ctx context.Context, limit int) ([]entity.SellerTotal, error) {
	sums := r.completedTotals(func(o entity.Order) string { return o.SellerID })
	totals := make([]entity.SellerTotal, 0, len(sums))
	for id, total := range sums {
		totals = append(totals, entity.SellerTotal{SellerID: id, Total: total})
	}
	sort.Slice(totals, func(i, j int) bool {
		if c := totals[i].Total.Cmp(totals[j].Total); c != 0 {
			return c > 0
		}
		return totals[i].SellerID < totals[j].SellerID
	})
	if limit > 0 && len(totals) > limit {
		totals = totals[:limit]
	}
	return totals, nil
}

func (r *orderRepository) completedTotals(key func(entity.Order) string) map[string]decimal.Decimal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sums := make(map[string]decimal.Decimal)
	for _, o := range r.m {
		if o.Status != entity.OrderStatusCompleted {
			continue
		}
		k := key(o)
		sums[k] = sums[k].Add(o.Total)
	}
	return sums
}

func cloneOrder(o entity.Order) entity.Order {
	o.Items = append([]entity.LineItem(nil), o.Items...)
	return o
}
