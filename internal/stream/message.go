package stream

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"payment-engine/internal/payment"
)

// PaymentRequest is the inbound command to create and start a payment.
type PaymentRequest struct {
	Reference     string          `json:"reference"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Description   string          `json:"description,omitempty"`
	CustomerEmail string          `json:"customerEmail,omitempty"`
	WebhookURL    string          `json:"webhookUrl,omitempty"`
}

// LifecycleEvent is the outbound record of one committed transition.
type LifecycleEvent struct {
	ID      uuid.UUID       `json:"id"`
	Event   string          `json:"event"`
	From    payment.Status  `json:"fromStatus"`
	To      payment.Status  `json:"toStatus"`
	Payload payment.Payment `json:"payload"`
}
