package payment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusProcessing Status = "PROCESSING"
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
	StatusRefunded   Status = "REFUNDED"
)

type FailureReason string

const (
	ReasonInvalidAmount   FailureReason = "INVALID_AMOUNT"
	ReasonInvalidRequest  FailureReason = "INVALID_REQUEST"
	ReasonFraudSuspected  FailureReason = "FRAUD_SUSPECTED"
	ReasonProcessingError FailureReason = "PROCESSING_ERROR"
)

// Rule identifies which evaluation rule decided a failure outcome.
type Rule string

const (
	RuleInvalidAmount   Rule = "INVALID_AMOUNT"
	RuleInvalidRequest  Rule = "INVALID_REQUEST"
	RuleFraudHighAmount Rule = "FRAUD_HIGH_AMOUNT"
	RuleRandomFailure   Rule = "RANDOM_FAILURE"
)

// transitions is the allowed state machine: from status -> set of valid targets.
var transitions = map[Status][]Status{
	StatusCreated:    {StatusProcessing},
	StatusProcessing: {StatusSuccess, StatusFailed},
	StatusSuccess:    {StatusRefunded},
	StatusFailed:     {StatusProcessing},
	StatusRefunded:   {},
}

func CanTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

type Payment struct {
	ID                  uuid.UUID       `json:"id"`
	Reference           string          `json:"reference"`
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency"`
	Description         string          `json:"description,omitempty"`
	CustomerEmail       string          `json:"customerEmail,omitempty"`
	WebhookURL          string          `json:"webhookUrl,omitempty"`
	Status              Status          `json:"status"`
	FailureReason       FailureReason   `json:"failureReason,omitempty"`
	RuleTriggered       Rule            `json:"ruleTriggered,omitempty"`
	FraudFlag           bool            `json:"fraudFlag"`
	RetryCount          int             `json:"retryCount"`
	ProcessingStartedAt *time.Time      `json:"processingStartedAt,omitempty"`
	CompletedAt         *time.Time      `json:"completedAt,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
	Events              []Event         `json:"events"`
}

// Event is an immutable audit record of one committed status transition.
type Event struct {
	ID        uuid.UUID `json:"id"`
	PaymentID uuid.UUID `json:"paymentId"`
	From      Status    `json:"fromStatus"`
	To        Status    `json:"toStatus"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Clone returns a deep copy so callers can hand out snapshots without
// exposing engine-owned state.
func (p *Payment) Clone() *Payment {
	c := *p
	if p.ProcessingStartedAt != nil {
		t := *p.ProcessingStartedAt
		c.ProcessingStartedAt = &t
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		c.CompletedAt = &t
	}
	if p.Events != nil {
		c.Events = make([]Event, len(p.Events))
		copy(c.Events, p.Events)
	}
	return &c
}
