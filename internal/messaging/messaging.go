package messaging

import (
	"context"

	"go.uber.org/zap"
)

// Topics for order domain events.
const (
	TopicOrderPlaced  = "orders.placed"
	TopicOrderUpdated = "orders.updated"
	TopicOrderDeleted = "orders.deleted"
)

// Publisher defines an interface for publishing events to a message broker.
type Publisher interface {
	PublishEvent(ctx context.Context, topic string, key string, event any) error
}

// Broker fans payloads out to every active subscriber of a topic.
// Subscribers only see payloads published after they subscribed. The
// returned channel is closed when ctx ends or the broker is closed.
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)
	Close() error
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) PublishEvent(context.Context, string, string, any) error { return nil }

// Relay copies payloads from in to a channel of the given buffer. When the
// reader falls behind, the oldest buffered payload is dropped so that the
// newest snapshot always gets through and the transport is never held up.
// The returned channel closes when in closes or ctx ends.
func Relay[T any](ctx context.Context, in <-chan T, buffer int, payload func(T) ([]byte, bool), logger *zap.Logger) <-chan []byte {
	if buffer < 1 {
		buffer = 1
	}
	out := make(chan []byte, buffer)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-in:
				if !ok {
					return
				}
				p, ok := payload(v)
				if !ok {
					continue
				}
				offer(out, p, logger)
			}
		}
	}()
	return out
}

func offer(out chan []byte, p []byte, logger *zap.Logger) {
	select {
	case out <- p:
		return
	default:
	}
	select {
	case <-out:
		logger.Debug("Subscriber lagging, dropped oldest payload")
	default:
	}
	select {
	case out <- p:
	default:
		logger.Debug("Subscriber lagging, dropped payload")
	}
}
