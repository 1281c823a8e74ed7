package entity

import "time"

// EventStoreRecord represents an event stored for an order stream.
type EventStoreRecord struct {
	ID         string    `json:"id"`
	StreamID   string    `json:"stream_id"`
	StreamType string    `json:"stream_type"`
	Version    int       `json:"version"`
	EventType  string    `json:"event_type"`
	Payload    []byte    `json:"payload"`
	CreatedAt  time.Time `json:"created_at"`
}

// Event represents a domain event.
type Event interface {
	EventType() string
}

// StreamVersion returns the version of the last record, 0 for an empty stream.
func StreamVersion(records []EventStoreRecord) int {
	if len(records) == 0 {
		return 0
	}
	return records[len(records)-1].Version
}

// AggregateBase holds the identity and stream version of an aggregate.
type AggregateBase struct {
	ID      string
	Version int
}

// GetVersion returns the version of the last applied event.
func (a *AggregateBase) GetVersion() int {
	return a.Version
}
