package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	"github.com/egannguyen/go-kafka-ecommerce/sales-backend/internal/messaging"
	kafkaGo "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// MessageWriter is the subset of the traced kafka-go writer used by the publisher.
type MessageWriter interface {
	WriteMessage(ctx context.Context, msg kafkaGo.Message) error
	Close() error
}

type eventPublisher struct {
	writer MessageWriter
	logger *zap.Logger
}

// NewEventPublisher creates a Publisher writing order domain events to Kafka.
// Every write is traced through tp and carries the trace context in headers.
func NewEventPublisher(brokers []string, clientID string, tp trace.TracerProvider, logger *zap.Logger) (messaging.Publisher, func() error, error) {
	base := &kafkaGo.Writer{
		Addr:                   kafkaGo.TCP(brokers...),
		Balancer:               &kafkaGo.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	writer, err := otelkafka.NewWriter(base,
		otelkafka.WithTracerProvider(tp),
		otelkafka.WithPropagator(propagation.TraceContext{}),
		otelkafka.WithAttributes([]attribute.KeyValue{
			semconv.MessagingSystemKafka,
			attribute.String("messaging.kafka.client_id", clientID),
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create kafka writer: %w", err)
	}
	p := NewEventPublisherWithWriter(writer, logger)
	return p, writer.Close, nil
}

// NewEventPublisherWithWriter creates a Publisher on top of an existing writer.
func NewEventPublisherWithWriter(writer MessageWriter, logger *zap.Logger) messaging.Publisher {
	return &eventPublisher{writer: writer, logger: logger}
}

func (p *eventPublisher) PublishEvent(ctx context.Context, topic string, key string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafkaGo.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now().UTC(),
	}
	if e, ok := event.(interface{ EventType() string }); ok {
		msg.Headers = append(msg.Headers, kafkaGo.Header{Key: "event_type", Value: []byte(e.EventType())})
	}

	if err := p.writer.WriteMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to %s: %w", topic, err)
	}
	p.logger.Debug("Event published", zap.String("topic", topic), zap.String("key", key))
	return nil
}
