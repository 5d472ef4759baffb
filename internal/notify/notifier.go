// Package notify delivers payment status changes to caller-supplied webhook
// URLs. Delivery is best-effort and runs after the transition is committed:
// failures are logged and counted, never propagated into the write path.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"

	"payment-engine/internal/payment"
)

var (
	deliverySuccessCounter = metrics.GetOrCreateCounter(`webhook_deliveries_total{result="success"}`)
	deliveryFailedCounter  = metrics.GetOrCreateCounter(`webhook_deliveries_total{result="failed"}`)
	deliverySkippedCounter = metrics.GetOrCreateCounter(`webhook_deliveries_total{result="skipped"}`)
)

// StatusChange is the payload posted to the webhook URL.
type StatusChange struct {
	Event         string                `json:"event"`
	PaymentID     uuid.UUID             `json:"paymentId"`
	Reference     string                `json:"reference"`
	Status        payment.Status        `json:"status"`
	FailureReason payment.FailureReason `json:"failureReason,omitempty"`
	RuleTriggered payment.Rule          `json:"ruleTriggered,omitempty"`
}

type Notifier struct {
	sender *Sender
	logger *slog.Logger
}

func NewNotifier(sender *Sender, logger *slog.Logger) *Notifier {
	return &Notifier{sender: sender, logger: logger}
}

func (n *Notifier) Notify(ctx context.Context, p *payment.Payment, from, to payment.Status) {
	if p.WebhookURL == "" {
		deliverySkippedCounter.Inc()
		return
	}

	eventName := "payment.status_changed"
	if to == payment.StatusRefunded {
		eventName = "payment.refunded"
	}

	change := StatusChange{
		Event:         eventName,
		PaymentID:     p.ID,
		Reference:     p.Reference,
		Status:        p.Status,
		FailureReason: p.FailureReason,
		RuleTriggered: p.RuleTriggered,
	}

	payloadBytes, err := json.Marshal(change)
	if err != nil {
		n.logger.ErrorContext(ctx, "Error marshalling webhook payload", "id", p.ID, "error", err)
		deliveryFailedCounter.Inc()
		return
	}

	if err := n.sender.Send(ctx, p.WebhookURL, payloadBytes); err != nil {
		n.logger.WarnContext(ctx, "Webhook delivery failed", "id", p.ID, "url", p.WebhookURL, "error", err)
		deliveryFailedCounter.Inc()
		return
	}

	n.logger.InfoContext(ctx, "Delivered webhook", "id", p.ID, "from", from, "to", to)
	deliverySuccessCounter.Inc()
}
