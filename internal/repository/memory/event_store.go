package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/repository"
	"github.com/google/uuid"
)

type eventStore struct {
	mu      sync.Mutex
	streams map[string][]entity.EventStoreRecord
}

// NewEventStore creates an EventStore held in memory.
func NewEventStore() repository.EventStore {
	return &eventStore{streams: make(map[string][]entity.EventStoreRecord)}
}

func (s *eventStore) SaveEvents(ctx context.Context, streamID string, streamType string, expectedVersion int, events []entity.Event) error {
	if len(events) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current := entity.StreamVersion(s.streams[streamID])
	if current != expectedVersion {
		return fmt.Errorf("%w: expected version %d, got %d", entity.ErrVersionConflict, expectedVersion, current)
	}

	version := expectedVersion
	now := time.Now().UTC()
	records := make([]entity.EventStoreRecord, 0, len(events))
	for _, event := range events {
		version++
		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event %s: %w", event.EventType(), err)
		}
		records = append(records, entity.EventStoreRecord{
			ID:         uuid.NewString(),
			StreamID:   streamID,
			StreamType: streamType,
			Version:    version,
			EventType:  event.EventType(),
			Payload:    payload,
			CreatedAt:  now,
		})
	}
	s.streams[streamID] = append(s.streams[streamID], records...)
	return nil
}

func (s *eventStore) LoadEvents(ctx context.Context, streamID string) ([]entity.EventStoreRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entity.EventStoreRecord(nil), s.streams[streamID]...), nil
}
