package entity

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func record(t *testing.T, version int, e Event) EventStoreRecord {
	t.Helper()
	payload, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return EventStoreRecord{StreamID: "o1", Version: version, EventType: e.EventType(), Payload: payload}
}

func TestOrderAggregateRehydrate(t *testing.T) {
	placedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	records := []EventStoreRecord{
		record(t, 1, OrderPlaced{
			OrderID: "o1", SellerID: "s1", CustomerID: "c1",
			Items: []LineItem{{ProductID: "p1", Quantity: 2}},
			Total: decimal.NewFromInt(20), Status: OrderStatusPending, PlacedAt: placedAt,
		}),
		record(t, 2, OrderUpdated{
			OrderID: "o1", CustomerID: "c2",
			Items: []LineItem{{ProductID: "p1", Quantity: 2}},
			Total: decimal.NewFromInt(20), Status: OrderStatusCompleted, UpdatedAt: placedAt.Add(time.Hour),
		}),
	}

	agg := NewOrderAggregate("o1")
	if err := agg.Rehydrate(records); err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	if agg.GetVersion() != 2 {
		t.Fatalf("expected version 2, got %d", agg.GetVersion())
	}
	if agg.SellerID != "s1" || agg.CustomerID != "c2" || agg.Status != OrderStatusCompleted {
		t.Fatalf("unexpected state: %+v", agg)
	}
	if !agg.CreatedAt.Equal(placedAt) || agg.Deleted {
		t.Fatalf("unexpected lifecycle: %+v", agg)
	}

	if err := agg.Rehydrate([]EventStoreRecord{record(t, 3, OrderDeleted{OrderID: "o1"})}); err != nil {
		t.Fatalf("rehydrate delete: %v", err)
	}
	if !agg.Deleted || agg.GetVersion() != 3 {
		t.Fatalf("expected deleted at version 3: %+v", agg)
	}
}

func TestOrderAggregateRejectsUnknownEvent(t *testing.T) {
	agg := NewOrderAggregate("o1")
	err := agg.Rehydrate([]EventStoreRecord{{EventType: "CartCheckedOut", Payload: []byte("{}")}})
	if err == nil {
		t.Fatalf("expected error for unknown event")
	}
}
