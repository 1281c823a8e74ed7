package entity

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderAggregate rebuilds the state of an order by replaying its history.
type OrderAggregate struct {
	AggregateBase
	SellerID   string
	CustomerID string
	Items      []LineItem
	Total      decimal.Decimal
	Status     OrderStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Deleted    bool
}

// NewOrderAggregate creates an empty OrderAggregate for the given order id.
func NewOrderAggregate(id string) *OrderAggregate {
	return &OrderAggregate{
		AggregateBase: AggregateBase{ID: id, Version: 0},
	}
}

// ApplyEvent mutates the aggregate state based on the event.
func (a *OrderAggregate) ApplyEvent(e Event) error {
	switch e := e.(type) {
	case OrderPlaced:
		a.SellerID = e.SellerID
		a.CustomerID = e.CustomerID
		a.Items = e.Items
		a.Total = e.Total
		a.Status = e.Status
		a.CreatedAt = e.PlacedAt
		a.UpdatedAt = e.PlacedAt
	case OrderUpdated:
		a.CustomerID = e.CustomerID
		a.Items = e.Items
		a.Total = e.Total
		a.Status = e.Status
		a.UpdatedAt = e.UpdatedAt
	case OrderDeleted:
		a.Deleted = true
		a.UpdatedAt = e.DeletedAt
	default:
		return fmt.Errorf("unknown event type for OrderAggregate: %s", e.EventType())
	}
	a.Version++
	return nil
}

// Rehydrate rebuilds the aggregate from a list of records.
func (a *OrderAggregate) Rehydrate(records []EventStoreRecord) error {
	for _, rec := range records {
		var e Event
		var err error
		switch rec.EventType {
		case "OrderPlaced":
			var ev OrderPlaced
			err = json.Unmarshal(rec.Payload, &ev)
			e = ev
		case "OrderUpdated":
			var ev OrderUpdated
			err = json.Unmarshal(rec.Payload, &ev)
			e = ev
		case "OrderDeleted":
			var ev OrderDeleted
			err = json.Unmarshal(rec.Payload, &ev)
			e = ev
		default:
			return fmt.Errorf("unknown event type in stream: %s", rec.EventType)
		}
		if err == nil {
			err = a.ApplyEvent(e)
		}
		if err != nil {
			return fmt.Errorf("failed to apply event from stream: %w", err)
		}
	}
	return nil
}
