package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	wmkafka "github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/messaging"
	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/observability"
	"go.uber.org/zap"
)

type broker struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	buffer     int
	logger     *zap.Logger
}

// NewBroker creates a leaderboard Broker on Kafka. Subscribers consume
// without a consumer group from the newest offset, so every subscriber sees
// every snapshot published after it joined and nothing before.
func NewBroker(brokers []string, buffer int, logger *zap.Logger) (messaging.Broker, error) {
	wmLogger := observability.NewWatermillLogger(logger)

	publisher, err := wmkafka.NewPublisher(wmkafka.PublisherConfig{
		Brokers:               brokers,
		Marshaler:             wmkafka.DefaultMarshaler{},
		OverwriteSaramaConfig: wmkafka.DefaultSaramaSyncPublisherConfig(),
	}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
	}

	saramaConfig := wmkafka.DefaultSaramaSubscriberConfig()
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest

	subscriber, err := wmkafka.NewSubscriber(wmkafka.SubscriberConfig{
		Brokers:               brokers,
		Unmarshaler:           wmkafka.DefaultMarshaler{},
		OverwriteSaramaConfig: saramaConfig,
		ConsumerGroup:         "",
	}, wmLogger)
	if err != nil {
		publisher.Close()
		return nil, fmt.Errorf("failed to create kafka subscriber: %w", err)
	}

	return NewBrokerWith(publisher, subscriber, buffer, logger), nil
}

// NewBrokerWith builds a Broker on any watermill publisher/subscriber pair.
func NewBrokerWith(publisher message.Publisher, subscriber message.Subscriber, buffer int, logger *zap.Logger) messaging.Broker {
	return &broker{publisher: publisher, subscriber: subscriber, buffer: buffer, logger: logger}
}

func (b *broker) Publish(ctx context.Context, topic string, payload []byte) error {
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	if err := b.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (b *broker) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	msgs, err := b.subscriber.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	return messaging.Relay(ctx, msgs, b.buffer, func(msg *message.Message) ([]byte, bool) {
		msg.Ack()
		return msg.Payload, true
	}, b.logger.With(zap.String("topic", topic))), nil
}

func (b *broker) Close() error {
	return errors.Join(b.subscriber.Close(), b.publisher.Close())
}
