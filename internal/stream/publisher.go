// Package stream connects the engine to Kafka: committed transitions go out
// on the payment-events topic, and payment requests come in from the
// payment-requests topic.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"payment-engine/internal/config"
	"payment-engine/internal/payment"
)

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 100
)

var (
	publishSuccessCounter = metrics.GetOrCreateCounter(`stream_publisher_total{result="success"}`)
	publishErrorCounter   = metrics.GetOrCreateCounter(`stream_publisher_total{result="error"}`)
)

func NewWriter(cfg config.Kafka) *kafka.Writer {
	batchSize := cfg.Writer.BatchSize
	if batchSize == 0 {
		batchSize = defaultBatchSize
	}
	batchTimeout := cfg.Writer.BatchTimeoutMs
	if batchTimeout == 0 {
		batchTimeout = defaultBatchTimeout
	}

	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Broker.URL),
		Topic:                  cfg.Topic.PaymentEvents,
		Balancer:               &kafka.ReferenceHash{},
		BatchSize:              batchSize,
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           time.Duration(batchTimeout) * time.Millisecond,
		Async:                  false,
		AllowAutoTopicCreation: false,
	}
}

// Publisher emits lifecycle events, keyed by payment id so per-payment
// ordering is preserved. Best-effort: errors are logged and counted.
type Publisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewPublisher(writer *kafka.Writer, logger *slog.Logger) *Publisher {
	return &Publisher{writer: writer, logger: logger}
}

func (p *Publisher) Publish(ctx context.Context, pay *payment.Payment, from, to payment.Status) {
	event := LifecycleEvent{
		ID:      uuid.New(),
		Event:   "payment.status_changed",
		From:    from,
		To:      to,
		Payload: *pay,
	}

	messageBytes, err := json.Marshal(event)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error marshalling lifecycle event", "id", pay.ID, "error", err)
		publishErrorCounter.Inc()
		return
	}

	msg := kafka.Message{
		Key:   []byte(pay.ID.String()),
		Value: messageBytes,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.ErrorContext(ctx, "Error publishing lifecycle event", "id", pay.ID, "error", err)
		publishErrorCounter.Inc()
		return
	}
	publishSuccessCounter.Inc()
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
