package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-engine/internal/config"
	"payment-engine/internal/payment"
	"payment-engine/internal/rules"
	"payment-engine/internal/store"
)

type fakeScheduler struct {
	mu        sync.Mutex
	scheduled []uuid.UUID
}

func (s *fakeScheduler) Schedule(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled = append(s.scheduled, id)
}

func (s *fakeScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scheduled)
}

type notification struct {
	from, to payment.Status
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notification
}

func (n *fakeNotifier) Notify(_ context.Context, _ *payment.Payment, from, to payment.Status) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notification{from: from, to: to})
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

func testConfig() config.Engine {
	return config.Engine{
		FraudThreshold:    10000,
		FailureRate:       0.2,
		MaxRetries:        3,
		ProcessingDelayMs: 10,
	}
}

func newTestEngine(draw func() float64) (*Engine, *fakeScheduler, *fakeNotifier) {
	st := store.NewMemoryStore()
	notifier := &fakeNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	e := New(st, rules.NewEvaluator(testConfig(), draw), notifier, nil, testConfig(), logger)

	sched := &fakeScheduler{}
	e.sched = sched
	return e, sched, notifier
}

func createInput(reference string, amount int64) CreateInput {
	return CreateInput{
		Amount:    decimal.NewFromInt(amount),
		Currency:  "USD",
		Reference: reference,
	}
}

func alwaysSucceed() float64 { return 0.99 }
func alwaysFail() float64    { return 0.0 }

// assertValidWalk checks that the event sequence is consistent with the
// state machine and that the payment's status matches the last event.
func assertValidWalk(t *testing.T, p *payment.Payment) {
	t.Helper()

	expected := payment.StatusCreated
	for _, e := range p.Events {
		assert.Equal(t, expected, e.From)
		assert.True(t, payment.CanTransition(e.From, e.To), "event %s -> %s violates the transition table", e.From, e.To)
		expected = e.To
	}
	assert.Equal(t, expected, p.Status)
}

func TestCreate(t *testing.T) {
	e, _, _ := newTestEngine(alwaysSucceed)
	ctx := context.Background()

	p, err := e.Create(ctx, createInput("INV-1", 500))
	require.NoError(t, err)

	assert.Equal(t, payment.StatusCreated, p.Status)
	assert.Equal(t, "INV-1", p.Reference)
	assert.Empty(t, p.Events, "creation must not write an event")
	assert.Nil(t, p.ProcessingStartedAt)
}

func TestCreate_Validation(t *testing.T) {
	e, _, _ := newTestEngine(alwaysSucceed)
	ctx := context.Background()

	tests := []struct {
		name  string
		input CreateInput
	}{
		{"negative amount", CreateInput{Amount: decimal.NewFromInt(-5), Currency: "USD", Reference: "INV-1"}},
		{"zero amount", CreateInput{Amount: decimal.Zero, Currency: "USD", Reference: "INV-1"}},
		{"empty currency", CreateInput{Amount: decimal.NewFromInt(5), Reference: "INV-1"}},
		{"empty reference", CreateInput{Amount: decimal.NewFromInt(5), Currency: "USD"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Create(ctx, tt.input)

			var validationErr *payment.ValidationError
			assert.ErrorAs(t, err, &validationErr)
		})
	}
}

func TestCreate_DuplicateReference(t *testing.T) {
	e, _, _ := newTestEngine(alwaysSucceed)
	ctx := context.Background()

	_, err := e.Create(ctx, createInput("INV-1", 500))
	require.NoError(t, err)

	_, err = e.Create(ctx, createInput("INV-1", 700))

	var validationErr *payment.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "reference", validationErr.Field)
}

func TestProcess(t *testing.T) {
	e, sched, _ := newTestEngine(alwaysSucceed)
	ctx := context.Background()

	created, err := e.Create(ctx, createInput("INV-1", 500))
	require.NoError(t, err)

	p, err := e.Process(ctx, created.ID)
	require.NoError(t, err)

	assert.Equal(t, payment.StatusProcessing, p.Status)
	assert.NotNil(t, p.ProcessingStartedAt)
	assert.Equal(t, []uuid.UUID{created.ID}, sched.scheduled)

	require.Len(t, p.Events, 1)
	assert.Equal(t, payment.StatusCreated, p.Events[0].From)
	assert.Equal(t, payment.StatusProcessing, p.Events[0].To)
}

func TestProcess_NotFound(t *testing.T) {
	e, _, _ := newTestEngine(alwaysSucceed)

	_, err := e.Process(context.Background(), uuid.New())

	var notFoundErr *payment.NotFoundError
	assert.ErrorAs(t, err, &notFoundErr)
}

func TestProcess_InvalidState(t *testing.T) {
	e, _, _ := newTestEngine(alwaysSucceed)
	ctx := context.Background()

	created, err := e.Create(ctx, createInput("INV-1", 500))
	require.NoError(t, err)

	_, err = e.Process(ctx, created.ID)
	require.NoError(t, err)

	_, err = e.Process(ctx, created.ID)

	var invalidStateErr *payment.InvalidStateError
	require.ErrorAs(t, err, &invalidStateErr)
	assert.Equal(t, payment.StatusProcessing, invalidStateErr.Status)
}

func TestResolve_Success(t *testing.T) {
	e, _, _ := newTestEngine(alwaysSucceed)
	ctx := context.Background()

	created, err := e.Create(ctx, createInput("INV-1", 500))
	require.NoError(t, err)
	_, err = e.Process(ctx, created.ID)
	require.NoError(t, err)

	require.NoError(t, e.Resolve(ctx, created.ID))

	p, err := e.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusSuccess, p.Status)
	assert.NotNil(t, p.CompletedAt)
	assert.Empty(t, p.FailureReason)
	assertValidWalk(t, p)
}

func TestResolve_RandomFailure(t *testing.T) {
	e, _, _ := newTestEngine(alwaysFail)
	ctx := context.Background()

	created, err := e.Create(ctx, createInput("INV-1", 500))
	require.NoError(t, err)
	_, err = e.Process(ctx, created.ID)
	require.NoError(t, err)

	require.NoError(t, e.Resolve(ctx, created.ID))

	p, err := e.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, p.Status)
	assert.Equal(t, payment.ReasonProcessingError, p.FailureReason)
	assert.Equal(t, payment.RuleRandomFailure, p.RuleTriggered)
	assert.False(t, p.FraudFlag)
	assertValidWalk(t, p)
}

func TestResolve_Fraud(t *testing.T) {
	e, _, _ := newTestEngine(alwaysSucceed)
	ctx := context.Background()

	created, err := e.Create(ctx, createInput("INV-1", 50000))
	require.NoError(t, err)
	_, err = e.Process(ctx, created.ID)
	require.NoError(t, err)

	require.NoError(t, e.Resolve(ctx, created.ID))

	p, err := e.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, p.Status)
	assert.Equal(t, payment.ReasonFraudSuspected, p.FailureReason)
	assert.True(t, p.FraudFlag)
}

func TestResolve_Idempotent(t *testing.T) {
	e, _, _ := newTestEngine(alwaysSucceed)
	ctx := context.Background()

	created, err := e.Create(ctx, createInput("INV-1", 500))
	require.NoError(t, err)
	_, err = e.Process(ctx, created.ID)
	require.NoError(t, err)

	require.NoError(t, e.Resolve(ctx, created.ID))

	first, err := e.Get(ctx, created.ID)
	require.NoError(t, err)

	// duplicate scheduler firing must be a no-op, not an error
	require.NoError(t, e.Resolve(ctx, created.ID))

	second, err := e.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, len(first.Events), len(second.Events))
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
}

func TestRetry(t *testing.T) {
	e, sched, _ := newTestEngine(alwaysFail)
	ctx := context.Background()

	created, err := e.Create(ctx, createInput("INV-1", 500))
	require.NoError(t, err)
	_, err = e.Process(ctx, created.ID)
	require.NoError(t, err)
	require.NoError(t, e.Resolve(ctx, created.ID))

	p, err := e.Retry(ctx, created.ID)
	require.NoError(t, err)

	assert.Equal(t, payment.StatusProcessing, p.Status)
	assert.Equal(t, 1, p.RetryCount)
	assert.Equal(t, 2, sched.count())

	last := p.Events[len(p.Events)-1]
	assert.Equal(t, payment.StatusFailed, last.From)
	assert.Equal(t, payment.StatusProcessing, last.To)
}

func TestRetry_Exhausted(t *testing.T) {
	e, _, _ := newTestEngine(alwaysFail)
	ctx := context.Background()

	created, err := e.Create(ctx, createInput("INV-1", 500))
	require.NoError(t, err)
	_, err = e.Process(ctx, created.ID)
	require.NoError(t, err)
	require.NoError(t, e.Resolve(ctx, created.ID))

	for i := 0; i < testConfig().MaxRetries; i++ {
		_, err = e.Retry(ctx, created.ID)
		require.NoError(t, err)
		require.NoError(t, e.Resolve(ctx, created.ID))
	}

	_, err = e.Retry(ctx, created.ID)

	var exhaustedErr *payment.RetryExhaustedError
	require.ErrorAs(t, err, &exhaustedErr)
	assert.Equal(t, testConfig().MaxRetries, exhaustedErr.Max)

	p, err := e.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, testConfig().MaxRetries, p.RetryCount)
	assert.Equal(t, payment.StatusFailed, p.Status)
	assertValidWalk(t, p)
}

func TestRetry_InvalidState(t *testing.T) {
	e, _, _ := newTestEngine(alwaysSucceed)
	ctx := context.Background()

	created, err := e.Create(ctx, createInput("INV-1", 500))
	require.NoError(t, err)

	_, err = e.Retry(ctx, created.ID)

	var invalidStateErr *payment.InvalidStateError
	assert.ErrorAs(t, err, &invalidStateErr)
}

func TestRefund(t *testing.T) {
	e, _, _ := newTestEngine(alwaysSucceed)
	ctx := context.Background()

	created, err := e.Create(ctx, createInput("INV-1", 500))
	require.NoError(t, err)
	_, err = e.Process(ctx, created.ID)
	require.NoError(t, err)
	require.NoError(t, e.Resolve(ctx, created.ID))

	p, err := e.Refund(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusRefunded, p.Status)
	assertValidWalk(t, p)

	// REFUNDED is absorbing
	_, err = e.Refund(ctx, created.ID)
	var invalidStateErr *payment.InvalidStateError
	assert.ErrorAs(t, err, &invalidStateErr)

	_, err = e.Retry(ctx, created.ID)
	assert.ErrorAs(t, err, &invalidStateErr)
}

func TestRefund_InvalidState(t *testing.T) {
	e, _, _ := newTestEngine(alwaysSucceed)
	ctx := context.Background()

	created, err := e.Create(ctx, createInput("INV-1", 500))
	require.NoError(t, err)

	_, err = e.Refund(ctx, created.ID)

	var invalidStateErr *payment.InvalidStateError
	require.ErrorAs(t, err, &invalidStateErr)
	assert.Equal(t, payment.StatusCreated, invalidStateErr.Status)
}

func TestNotifier_CalledPerTransition(t *testing.T) {
	e, _, notifier := newTestEngine(alwaysSucceed)
	ctx := context.Background()

	created, err := e.Create(ctx, createInput("INV-1", 500))
	require.NoError(t, err)
	_, err = e.Process(ctx, created.ID)
	require.NoError(t, err)
	require.NoError(t, e.Resolve(ctx, created.ID))

	assert.Eventually(t, func() bool {
		return notifier.count() == 2
	}, time.Second, 10*time.Millisecond)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.Contains(t, notifier.calls, notification{from: payment.StatusCreated, to: payment.StatusProcessing})
	assert.Contains(t, notifier.calls, notification{from: payment.StatusProcessing, to: payment.StatusSuccess})
}

func TestFind(t *testing.T) {
	e, _, _ := newTestEngine(alwaysSucceed)
	ctx := context.Background()

	created, err := e.Create(ctx, createInput("INV-1", 500))
	require.NoError(t, err)

	byID, err := e.Find(ctx, created.ID.String())
	require.NoError(t, err)
	assert.Equal(t, created.ID, byID.ID)

	byRef, err := e.Find(ctx, "INV-1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byRef.ID)

	_, err = e.Find(ctx, "INV-404")
	var notFoundErr *payment.NotFoundError
	assert.ErrorAs(t, err, &notFoundErr)
}

func TestRecoverPending(t *testing.T) {
	e, sched, _ := newTestEngine(alwaysSucceed)
	ctx := context.Background()

	created, err := e.Create(ctx, createInput("INV-1", 500))
	require.NoError(t, err)
	_, err = e.Process(ctx, created.ID)
	require.NoError(t, err)

	require.NoError(t, e.RecoverPending(ctx))

	// one from Process, one from the sweep
	assert.Equal(t, 2, sched.count())
}

// Process schedules while holding the per-id lock; after Stop the
// scheduler resolves immediately, which must not re-enter that lock on
// the caller's goroutine.
func TestProcess_AfterStop_DoesNotBlock(t *testing.T) {
	st := store.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := New(st, rules.NewEvaluator(testConfig(), alwaysSucceed), nil, nil, testConfig(), logger)
	ctx := context.Background()

	require.NoError(t, e.Stop(ctx))

	created, err := e.Create(ctx, createInput("INV-1", 500))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := e.Process(ctx, created.ID)
		assert.NoError(t, err)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Process blocked after scheduler stop")
	}

	assert.Eventually(t, func() bool {
		p, err := e.Get(ctx, created.ID)
		return err == nil && p.Status == payment.StatusSuccess
	}, time.Second, 10*time.Millisecond)
}

func TestConcurrentOperations_SameID(t *testing.T) {
	e, _, _ := newTestEngine(alwaysSucceed)
	ctx := context.Background()

	created, err := e.Create(ctx, createInput("INV-1", 500))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.Process(ctx, created.ID)
			_ = e.Resolve(ctx, created.ID)
		}()
	}
	wg.Wait()

	p, err := e.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusSuccess, p.Status)
	assert.Len(t, p.Events, 2, "racing operations must not double-apply transitions")
	assertValidWalk(t, p)
}
