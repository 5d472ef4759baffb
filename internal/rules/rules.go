// Package rules decides the outcome of a processing payment. Rules are
// applied in fixed priority order, deterministic checks before the random
// failure draw; the first match wins.
package rules

import (
	"math/rand"

	"github.com/shopspring/decimal"

	"payment-engine/internal/config"
	"payment-engine/internal/payment"
)

// Outcome is the evaluator's decision for a single resolve call.
type Outcome struct {
	Failed bool
	Reason payment.FailureReason
	Rule   payment.Rule
	Fraud  bool
}

// Evaluator applies the failure rules to a payment snapshot. The draw
// function is injectable so tests can force deterministic outcomes.
type Evaluator struct {
	fraudThreshold decimal.Decimal
	failureRate    float64
	draw           func() float64
}

func NewEvaluator(cfg config.Engine, draw func() float64) *Evaluator {
	if draw == nil {
		draw = rand.Float64
	}
	return &Evaluator{
		fraudThreshold: decimal.NewFromFloat(cfg.FraudThreshold),
		failureRate:    cfg.FailureRate,
		draw:           draw,
	}
}

func (e *Evaluator) Evaluate(p *payment.Payment) Outcome {
	if p.Amount.LessThanOrEqual(decimal.Zero) {
		return Outcome{Failed: true, Reason: payment.ReasonInvalidAmount, Rule: payment.RuleInvalidAmount}
	}

	if p.Currency == "" || p.Reference == "" {
		return Outcome{Failed: true, Reason: payment.ReasonInvalidRequest, Rule: payment.RuleInvalidRequest}
	}

	if p.Amount.GreaterThan(e.fraudThreshold) {
		return Outcome{Failed: true, Reason: payment.ReasonFraudSuspected, Rule: payment.RuleFraudHighAmount, Fraud: true}
	}

	if e.draw() < e.failureRate {
		return Outcome{Failed: true, Reason: payment.ReasonProcessingError, Rule: payment.RuleRandomFailure}
	}

	return Outcome{}
}
