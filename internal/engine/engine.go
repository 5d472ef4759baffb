// Package engine owns the payment state machine. All status mutation goes
// through it: operations on the same payment are serialized by a per-id
// lock, every committed transition appends exactly one audit event, and
// webhook/stream notifications are dispatched only after the store commit.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"payment-engine/internal/config"
	"payment-engine/internal/payment"
	"payment-engine/internal/rules"
	"payment-engine/internal/store"
)

var (
	transitionCommittedCounter = metrics.GetOrCreateCounter(`payment_transitions_total{result="committed"}`)
	transitionRejectedCounter  = metrics.GetOrCreateCounter(`payment_transitions_total{result="rejected"}`)

	resolveSuccessCounter = metrics.GetOrCreateCounter(`payment_resolutions_total{outcome="success"}`)
	resolveFailedCounter  = metrics.GetOrCreateCounter(`payment_resolutions_total{outcome="failed"}`)
	resolveNoopCounter    = metrics.GetOrCreateCounter(`payment_resolutions_total{outcome="noop"}`)

	resolveDurationHistogram = metrics.GetOrCreateHistogram(`payment_resolution_duration_milliseconds`)
)

// Notifier delivers a payment snapshot to its webhook target. Best-effort:
// implementations log failures and never return them into the write path.
type Notifier interface {
	Notify(ctx context.Context, p *payment.Payment, from, to payment.Status)
}

// Publisher emits a lifecycle event to the outbound stream. Best-effort,
// same contract as Notifier.
type Publisher interface {
	Publish(ctx context.Context, p *payment.Payment, from, to payment.Status)
}

type CreateInput struct {
	Amount        decimal.Decimal
	Currency      string
	Reference     string
	Description   string
	CustomerEmail string
	WebhookURL    string
}

type Engine struct {
	store      store.Store
	eval       *rules.Evaluator
	sched      Scheduler
	notifier   Notifier
	publisher  Publisher
	locks      *lockTable
	clock      func() time.Time
	maxRetries int
	logger     *slog.Logger
}

func New(st store.Store, eval *rules.Evaluator, notifier Notifier, publisher Publisher, cfg config.Engine, logger *slog.Logger) *Engine {
	e := &Engine{
		store:      st,
		eval:       eval,
		notifier:   notifier,
		publisher:  publisher,
		locks:      newLockTable(),
		clock:      time.Now,
		maxRetries: cfg.MaxRetries,
		logger:     logger,
	}
	e.sched = NewTimerScheduler(cfg.ProcessingDelay(), e.fireResolve, logger)
	return e
}

// Stop shuts the scheduler down, flushing pending resolutions.
func (e *Engine) Stop(ctx context.Context) error {
	if ts, ok := e.sched.(*TimerScheduler); ok {
		return ts.Stop(ctx)
	}
	return nil
}

// RecoverPending re-schedules payments left in PROCESSING by a previous
// run. Only meaningful with a durable store.
func (e *Engine) RecoverPending(ctx context.Context) error {
	pending, err := e.store.List(ctx, store.Filter{Status: payment.StatusProcessing})
	if err != nil {
		return errors.Wrap(err, "listing pending payments")
	}
	for _, p := range pending {
		e.logger.InfoContext(ctx, "Re-scheduling resolution for pending payment", "id", p.ID)
		e.sched.Schedule(p.ID)
	}
	return nil
}

func (e *Engine) Create(ctx context.Context, in CreateInput) (*payment.Payment, error) {
	if in.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, &payment.ValidationError{Field: "amount", Message: "must be positive"}
	}
	if in.Currency == "" {
		return nil, &payment.ValidationError{Field: "currency", Message: "must not be empty"}
	}
	if in.Reference == "" {
		return nil, &payment.ValidationError{Field: "reference", Message: "must not be empty"}
	}

	now := e.clock()
	p := &payment.Payment{
		ID:            uuid.New(),
		Reference:     in.Reference,
		Amount:        in.Amount,
		Currency:      in.Currency,
		Description:   in.Description,
		CustomerEmail: in.CustomerEmail,
		WebhookURL:    in.WebhookURL,
		Status:        payment.StatusCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := e.store.Create(ctx, p); err != nil {
		if errors.Is(err, store.ErrDuplicateReference) {
			return nil, &payment.ValidationError{Field: "reference", Message: "already exists"}
		}
		return nil, err
	}

	e.logger.InfoContext(ctx, "Created payment", "id", p.ID, "reference", p.Reference)
	return p.Clone(), nil
}

// Process moves a CREATED payment into PROCESSING and schedules its delayed
// resolution. The caller is not blocked on the processing delay.
func (e *Engine) Process(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	e.locks.lock(id)
	defer e.locks.unlock(id)

	p, err := e.get(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.Status != payment.StatusCreated {
		transitionRejectedCounter.Inc()
		return nil, &payment.InvalidStateError{Op: "process", Status: p.Status}
	}

	now := e.clock()
	p.ProcessingStartedAt = &now

	if err := e.apply(ctx, p, payment.StatusProcessing, ""); err != nil {
		return nil, err
	}

	e.sched.Schedule(p.ID)
	return p.Clone(), nil
}

// Resolve decides the outcome of a PROCESSING payment. Invoked by the
// scheduler; a payment that is no longer PROCESSING is a no-op so duplicate
// firings are harmless.
func (e *Engine) Resolve(ctx context.Context, id uuid.UUID) error {
	start := time.Now()
	defer func() {
		resolveDurationHistogram.Update(float64(time.Since(start).Milliseconds()))
	}()

	e.locks.lock(id)
	defer e.locks.unlock(id)

	p, err := e.get(ctx, id)
	if err != nil {
		return err
	}

	if p.Status != payment.StatusProcessing {
		e.logger.InfoContext(ctx, "Payment already resolved, skipping", "id", id, "status", p.Status)
		resolveNoopCounter.Inc()
		return nil
	}

	outcome := e.eval.Evaluate(p)
	if !outcome.Failed {
		resolveSuccessCounter.Inc()
		return e.apply(ctx, p, payment.StatusSuccess, "")
	}

	resolveFailedCounter.Inc()
	p.FailureReason = outcome.Reason
	p.RuleTriggered = outcome.Rule
	if outcome.Fraud {
		p.FraudFlag = true
	}
	return e.apply(ctx, p, payment.StatusFailed, string(outcome.Reason))
}

// Retry re-enters the delayed resolution path for a FAILED payment, bounded
// by the configured maximum.
func (e *Engine) Retry(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	e.locks.lock(id)
	defer e.locks.unlock(id)

	p, err := e.get(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.Status != payment.StatusFailed {
		transitionRejectedCounter.Inc()
		return nil, &payment.InvalidStateError{Op: "retry", Status: p.Status}
	}
	if p.RetryCount >= e.maxRetries {
		transitionRejectedCounter.Inc()
		return nil, &payment.RetryExhaustedError{ID: p.ID.String(), Max: e.maxRetries}
	}

	p.RetryCount++

	if err := e.apply(ctx, p, payment.StatusProcessing, ""); err != nil {
		return nil, err
	}

	e.sched.Schedule(p.ID)
	return p.Clone(), nil
}

// Refund moves a SUCCESS payment into the absorbing REFUNDED state.
func (e *Engine) Refund(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	e.locks.lock(id)
	defer e.locks.unlock(id)

	p, err := e.get(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.Status != payment.StatusSuccess {
		transitionRejectedCounter.Inc()
		return nil, &payment.InvalidStateError{Op: "refund", Status: p.Status}
	}

	if err := e.apply(ctx, p, payment.StatusRefunded, "customer-initiated refund"); err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	return e.get(ctx, id)
}

// Find looks a payment up by id or, failing uuid parsing, by reference.
func (e *Engine) Find(ctx context.Context, identifier string) (*payment.Payment, error) {
	if id, err := uuid.Parse(identifier); err == nil {
		return e.get(ctx, id)
	}

	p, err := e.store.GetByReference(ctx, identifier)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &payment.NotFoundError{ID: identifier}
	}
	return p, err
}

func (e *Engine) List(ctx context.Context, filter store.Filter) ([]*payment.Payment, error) {
	return e.store.List(ctx, filter)
}

func (e *Engine) get(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	p, err := e.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &payment.NotFoundError{ID: id.String()}
	}
	return p, err
}

// apply commits one transition: it validates the target against the state
// machine, stamps timestamps, and writes the mutated payment together with
// its audit event as one atomic store update. Side effects run after the
// commit, off the per-id lock path.
func (e *Engine) apply(ctx context.Context, p *payment.Payment, to payment.Status, reason string) error {
	from := p.Status
	if !payment.CanTransition(from, to) {
		transitionRejectedCounter.Inc()
		return &payment.InvalidStateError{Op: "transition to " + string(to), Status: from}
	}

	now := e.clock()
	p.Status = to
	p.UpdatedAt = now

	switch to {
	case payment.StatusProcessing:
		p.CompletedAt = nil
	case payment.StatusSuccess, payment.StatusRefunded:
		p.CompletedAt = &now
		p.FailureReason = ""
	case payment.StatusFailed:
		p.CompletedAt = &now
	}

	event := &payment.Event{
		ID:        uuid.New(),
		PaymentID: p.ID,
		From:      from,
		To:        to,
		Reason:    reason,
		CreatedAt: now,
	}

	if err := e.store.Update(ctx, p, event); err != nil {
		return errors.Wrapf(err, "committing transition %s -> %s", from, to)
	}
	p.Events = append(p.Events, *event)

	transitionCommittedCounter.Inc()
	e.logger.InfoContext(ctx, "Committed transition", "id", p.ID, "from", from, "to", to)

	snapshot := p.Clone()
	if e.notifier != nil {
		go e.notifier.Notify(context.Background(), snapshot, from, to)
	}
	if e.publisher != nil {
		go e.publisher.Publish(context.Background(), snapshot, from, to)
	}
	return nil
}

func (e *Engine) fireResolve(ctx context.Context, id uuid.UUID) {
	if err := e.Resolve(ctx, id); err != nil {
		e.logger.ErrorContext(ctx, "Error resolving payment", "id", id, "error", err)
	}
}
