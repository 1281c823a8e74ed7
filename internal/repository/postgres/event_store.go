package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/repository"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const eventColumns = "id, stream_id, stream_type, version, event_type, payload, created_at"

type eventStore struct {
	db *sql.DB
}

// NewEventStore creates an EventStore keeping order history in the
// order_events table.
func NewEventStore(db *sql.DB) repository.EventStore {
	return &eventStore{db: db}
}

// SaveEvents appends events to a stream inside one transaction. Writers to
// the same stream queue on a transaction-scoped advisory lock, so the version
// check and the COPY that follows it cannot interleave with another instance.
func (s *eventStore) SaveEvents(ctx context.Context, streamID string, streamType string, expectedVersion int, events []entity.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", streamType+"/"+streamID); err != nil {
		return fmt.Errorf("failed to lock stream %s: %w", streamID, err)
	}

	var current int
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM order_events WHERE stream_type = $1 AND stream_id = $2",
		streamType, streamID,
	).Scan(&current)
	if err != nil {
		return fmt.Errorf("failed to read version of stream %s: %w", streamID, err)
	}
	if current != expectedVersion {
		return fmt.Errorf("%w: expected version %d, got %d", entity.ErrVersionConflict, expectedVersion, current)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("order_events",
		"id", "stream_id", "stream_type", "version", "event_type", "payload", "created_at"))
	if err != nil {
		return fmt.Errorf("failed to prepare event copy: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event %s: %w", event.EventType(), err)
		}
		if _, err := stmt.ExecContext(ctx, uuid.NewString(), streamID, streamType, expectedVersion+i+1, event.EventType(), string(payload), now); err != nil {
			return fmt.Errorf("failed to queue event %s: %w", event.EventType(), err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: stream %s moved past version %d", entity.ErrVersionConflict, streamID, expectedVersion)
		}
		return fmt.Errorf("failed to copy events: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit events: %w", err)
	}
	return nil
}

// LoadEvents returns a stream in version order. Deleted orders keep their
// history.
func (s *eventStore) LoadEvents(ctx context.Context, streamID string) ([]entity.EventStoreRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+eventColumns+" FROM order_events WHERE stream_id = $1 ORDER BY version",
		streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history of %s: %w", streamID, err)
	}
	defer rows.Close()

	var records []entity.EventStoreRecord
	for rows.Next() {
		var r entity.EventStoreRecord
		if err := rows.Scan(&r.ID, &r.StreamID, &r.StreamType, &r.Version, &r.EventType, &r.Payload, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history rows: %w", err)
	}
	return records, nil
}
