// Package event publishes product events after their writes have committed.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/rack-inventory/internal/core/domain"
	"github.com/rl1809/rack-inventory/internal/observability"
	"github.com/rl1809/rack-inventory/internal/port"
)

const eventTypeHeader = "event-type"

// Producer is the subset of a kafka writer the publisher needs.
type Producer interface {
	WriteMessage(ctx context.Context, msg kafka.Message) error
	Close() error
}

type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	BatchSize    int
}

// NewKafkaProducer builds a traced writer that injects the span context into
// message headers.
func NewKafkaProducer(cfg ProducerConfig, tp trace.TracerProvider) (Producer, error) {
	baseWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		BatchSize:    cfg.BatchSize,
	}

	writer, err := otelkafka.NewWriter(baseWriter,
		otelkafka.WithTracerProvider(tp),
		otelkafka.WithPropagator(propagation.TraceContext{}),
		otelkafka.WithAttributes(
			[]attribute.KeyValue{
				semconv.MessagingDestinationNameKey.String(cfg.Topic),
				attribute.String("messaging.kafka.client_id", observability.ServiceName),
			},
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka writer: %w", err)
	}
	return writer, nil
}

type envelope struct {
	Type string       `json:"type"`
	Data domain.Event `json:"data"`
}

// KafkaPublisher writes one message per event, keyed by product code so a
// product's events stay ordered within a partition.
type KafkaPublisher struct {
	producer Producer
}

func NewKafkaPublisher(producer Producer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

var _ port.EventPublisher = (*KafkaPublisher)(nil)

func (p *KafkaPublisher) Publish(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(envelope{Type: event.Type(), Data: event})
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.Type(), err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(event.Key(), 10)),
		Value: payload,
		Headers: []kafka.Header{
			{Key: eventTypeHeader, Value: []byte(event.Type())},
		},
	}
	if err := p.producer.WriteMessage(ctx, msg); err != nil {
		return fmt.Errorf("write %s: %w", event.Type(), err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// NoopPublisher drops events; used when no brokers are configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, domain.Event) error { return nil }
func (NoopPublisher) Close() error                                { return nil }
