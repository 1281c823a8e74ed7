// Package redis implements the leaderboard broker on Redis PUBLISH/SUBSCRIBE.
package redis

import (
	"context"
	"fmt"

	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/messaging"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type broker struct {
	client *redis.Client
	buffer int
	logger *zap.Logger
}

// NewBroker creates a Broker backed by client. The broker owns client.
func NewBroker(client *redis.Client, buffer int, logger *zap.Logger) messaging.Broker {
	return &broker{client: client, buffer: buffer, logger: logger}
}

func (b *broker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.client.Publish(ctx, topic, string(payload)).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (b *broker) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	sub := b.client.Subscribe(ctx, topic)
	// wait for the confirmation so nothing published after return is missed
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	go func() {
		<-ctx.Done()
		if err := sub.Close(); err != nil {
			b.logger.Debug("Failed to close redis subscription", zap.Error(err))
		}
	}()

	return messaging.Relay(ctx, sub.Channel(), b.buffer, func(m *redis.Message) ([]byte, bool) {
		return []byte(m.Payload), true
	}, b.logger.With(zap.String("topic", topic))), nil
}

func (b *broker) Close() error {
	return b.client.Close()
}
