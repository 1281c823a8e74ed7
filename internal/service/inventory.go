package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PlannedLine is the combined demand for one product.
type PlannedLine struct {
	Product  entity.Product
	Quantity int
}

// StockPlan is an approved set of decrements, one line per distinct product
// in the order the products first appear in the request.
type StockPlan struct {
	Lines []PlannedLine
	// Total is the catalog value of the request, sum of price times quantity.
	Total decimal.Decimal
}

// InventoryValidator turns line items into a stock plan and applies it.
//
// Validation reads every product and rejects the whole request if any
// combined demand exceeds stock, without touching stock. Apply decrements
// each line through the store's conditional decrement; a line that loses a
// race restores the lines already applied by this call. A cancelled context
// stops before the next decrement and leaves applied decrements in place.
type InventoryValidator struct {
	catalog repository.CatalogStore
	logger  *zap.Logger
}

func NewInventoryValidator(catalog repository.CatalogStore, logger *zap.Logger) *InventoryValidator {
	return &InventoryValidator{catalog: catalog, logger: logger}
}

// Validate checks items against current stock and returns the plan.
func (v *InventoryValidator) Validate(ctx context.Context, items []entity.LineItem) (*StockPlan, error) {
	demand := make(map[string]int, len(items))
	var order []string
	for _, item := range items {
		if _, seen := demand[item.ProductID]; !seen {
			order = append(order, item.ProductID)
		}
		demand[item.ProductID] += item.Quantity
	}

	plan := &StockPlan{Lines: make([]PlannedLine, 0, len(order)), Total: decimal.Zero}
	for _, id := range order {
		p, err := v.catalog.GetProduct(ctx, id)
		if err != nil {
			return nil, err
		}
		qty := demand[id]
		if qty > p.Stock {
			return nil, &entity.InsufficientStockError{
				ProductID:   p.ID,
				ProductName: p.Name,
				Requested:   qty,
				Available:   p.Stock,
			}
		}
		plan.Lines = append(plan.Lines, PlannedLine{Product: *p, Quantity: qty})
		plan.Total = plan.Total.Add(p.Price.Mul(decimal.NewFromInt(int64(qty))))
	}
	return plan, nil
}

// Apply decrements stock for every line of plan.
func (v *InventoryValidator) Apply(ctx context.Context, plan *StockPlan) error {
	for i, line := range plan.Lines {
		if err := ctx.Err(); err != nil {
			v.logger.Warn("Inventory: request cancelled mid-apply",
				zap.Int("applied_lines", i), zap.Int("total_lines", len(plan.Lines)))
			return fmt.Errorf("failed to apply stock plan: %w", err)
		}

		_, err := v.catalog.DecrementStock(ctx, line.Product.ID, line.Quantity)
		if err == nil {
			continue
		}

		v.restore(ctx, plan.Lines[:i])
		if errors.Is(err, entity.ErrInsufficientStock) {
			available := 0
			if p, getErr := v.catalog.GetProduct(ctx, line.Product.ID); getErr == nil {
				available = p.Stock
			}
			return &entity.InsufficientStockError{
				ProductID:   line.Product.ID,
				ProductName: line.Product.Name,
				Requested:   line.Quantity,
				Available:   available,
			}
		}
		return fmt.Errorf("failed to decrement stock for %s: %w", line.Product.ID, err)
	}
	return nil
}

// Reserve validates items and applies the resulting plan.
func (v *InventoryValidator) Reserve(ctx context.Context, items []entity.LineItem) (*StockPlan, error) {
	plan, err := v.Validate(ctx, items)
	if err != nil {
		return nil, err
	}
	if err := v.Apply(ctx, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// Release gives back every line of an applied plan.
func (v *InventoryValidator) Release(ctx context.Context, plan *StockPlan) {
	v.restore(ctx, plan.Lines)
}

func (v *InventoryValidator) restore(ctx context.Context, lines []PlannedLine) {
	// compensation must run even when the request context is gone
	ctx = context.WithoutCancel(ctx)
	for _, line := range lines {
		if err := v.catalog.RestoreStock(ctx, line.Product.ID, line.Quantity); err != nil {
			v.logger.Error("Inventory: failed to restore stock",
				zap.String("product_id", line.Product.ID),
				zap.Int("quantity", line.Quantity),
				zap.Error(err))
		}
	}
}
