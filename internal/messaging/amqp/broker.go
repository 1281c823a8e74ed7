// Package amqp implements the leaderboard broker on RabbitMQ. Each
// subscriber gets its own exclusive, auto-deleted queue bound to a topic
// exchange, so every subscriber receives every message published after it
// subscribed.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/messaging"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	ExchangeName = "sales.leaderboard"
	ExchangeType = "topic"
)

type broker struct {
	conn   *amqp.Connection
	mu     sync.Mutex // guards pubCh; amqp channels are not safe for concurrent publishing
	pubCh  *amqp.Channel
	buffer int
	logger *zap.Logger
}

// Dial connects to RabbitMQ with a few retries and declares the exchange.
func Dial(url string, attempts int, logger *zap.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	for i := 0; i < attempts; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		logger.Warn("Failed to connect to RabbitMQ", zap.Int("attempt", i+1), zap.Error(err))
		if i+1 < attempts {
			time.Sleep(2 * time.Second)
		}
	}
	return nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
}

// NewBroker creates a Broker on an open connection. The broker owns conn.
func NewBroker(conn *amqp.Connection, buffer int, logger *zap.Logger) (messaging.Broker, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("could not open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		ExchangeName, // name
		ExchangeType, // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("could not declare exchange: %w", err)
	}
	return &broker{conn: conn, pubCh: ch, buffer: buffer, logger: logger}, nil
}

func (b *broker) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	err := b.pubCh.PublishWithContext(ctx,
		ExchangeName, // exchange
		topic,        // routing key
		false,        // mandatory
		false,        // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now().UTC(),
			Body:        payload,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (b *broker) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("could not open channel: %w", err)
	}

	q, err := ch.QueueDeclare(
		"",    // random name
		false, // non-durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("could not declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, topic, ExchangeName, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("could not bind queue: %w", err)
	}
	deliveries, err := ch.Consume(
		q.Name, // queue
		"",     // consumer tag
		true,   // auto-ack
		false,  // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("could not start consume: %w", err)
	}

	go func() {
		<-ctx.Done()
		// closing the channel deletes the exclusive queue and ends deliveries
		if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			b.logger.Warn("Failed to close subscriber channel", zap.Error(err))
		}
	}()

	return messaging.Relay(ctx, deliveries, b.buffer, func(d amqp.Delivery) ([]byte, bool) {
		return d.Body, true
	}, b.logger.With(zap.String("topic", topic))), nil
}

func (b *broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return errors.Join(b.pubCh.Close(), b.conn.Close())
}
