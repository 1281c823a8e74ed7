// Package memory implements the in-process leaderboard broker on top of
// watermill's GoChannel pub/sub.
package memory

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/messaging"
	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/observability"
	"go.uber.org/zap"
)

type broker struct {
	pubSub *gochannel.GoChannel
	buffer int
	logger *zap.Logger
}

// NewBroker creates a Broker whose subscribers live in this process.
// Publish returns once every subscriber has taken the payload, so payloads
// reach each subscriber in publish order.
func NewBroker(buffer int, logger *zap.Logger) messaging.Broker {
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            int64(buffer),
		Persistent:                     false,
		BlockPublishUntilSubscriberAck: true,
	}, observability.NewWatermillLogger(logger))
	return &broker{pubSub: pubSub, buffer: buffer, logger: logger}
}

func (b *broker) Publish(ctx context.Context, topic string, payload []byte) error {
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubSub.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (b *broker) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	msgs, err := b.pubSub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	return messaging.Relay(ctx, msgs, b.buffer, func(msg *message.Message) ([]byte, bool) {
		msg.Ack()
		return msg.Payload, true
	}, b.logger.With(zap.String("topic", topic))), nil
}

func (b *broker) Close() error {
	return b.pubSub.Close()
}
