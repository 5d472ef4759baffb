package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"payment-engine/internal/config"
	"payment-engine/internal/engine"
	"payment-engine/internal/logging"
)

var (
	consumerReadErrorCounter      = metrics.GetOrCreateCounter(`stream_consumer_total{result="read_error"}`)
	consumerUnmarshalErrorCounter = metrics.GetOrCreateCounter(`stream_consumer_total{result="unmarshal_error"}`)
	consumerProcessErrorCounter   = metrics.GetOrCreateCounter(`stream_consumer_total{result="process_error"}`)
	consumerSuccessCounter        = metrics.GetOrCreateCounter(`stream_consumer_total{result="success"}`)
)

func NewReader(cfg config.Kafka) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: strings.Split(cfg.Broker.URL, ","),
		GroupID: cfg.Reader.GroupID,
		Topic:   cfg.Topic.PaymentRequests,
	})
}

// ReadPaymentRequests consumes inbound payment requests and runs each one
// through create + process. Runs until the context is cancelled.
func ReadPaymentRequests(ctx context.Context, reader *kafka.Reader, eng *engine.Engine, logger *slog.Logger) {
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.InfoContext(ctx, "Context done, stopping payment request consumer")
				return
			}
			logger.ErrorContext(ctx, fmt.Sprintf("Error reading message: %v", err))
			consumerReadErrorCounter.Inc()
			continue
		}

		// correlation id for all logs in this message's scope
		msgCtx := logging.AppendCtx(ctx, slog.String("runId", uuid.New().String()))

		var req PaymentRequest
		if err := json.Unmarshal(m.Value, &req); err != nil {
			logger.ErrorContext(msgCtx, fmt.Sprintf("Error unmarshalling message: %v", err))
			consumerUnmarshalErrorCounter.Inc()
			continue
		}

		p, err := eng.Create(msgCtx, engine.CreateInput{
			Amount:        req.Amount,
			Currency:      req.Currency,
			Reference:     req.Reference,
			Description:   req.Description,
			CustomerEmail: req.CustomerEmail,
			WebhookURL:    req.WebhookURL,
		})
		if err != nil {
			logger.ErrorContext(msgCtx, "Error creating payment from request", "reference", req.Reference, "error", err)
			consumerProcessErrorCounter.Inc()
			continue
		}

		if _, err := eng.Process(msgCtx, p.ID); err != nil {
			logger.ErrorContext(msgCtx, "Error processing payment from request", "id", p.ID, "error", err)
			consumerProcessErrorCounter.Inc()
			continue
		}
		consumerSuccessCounter.Inc()
	}
}
