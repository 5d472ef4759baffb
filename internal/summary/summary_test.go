package summary_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-engine/internal/payment"
	"payment-engine/internal/store"
	"payment-engine/internal/summary"
)

func seed(t *testing.T, st *store.MemoryStore, status payment.Status, reason payment.FailureReason) {
	t.Helper()

	p := &payment.Payment{
		ID:            uuid.New(),
		Reference:     uuid.NewString(),
		Amount:        decimal.NewFromInt(100),
		Currency:      "USD",
		Status:        status,
		FailureReason: reason,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	require.NoError(t, st.Create(context.Background(), p))
}

func TestSummarize(t *testing.T) {
	st := store.NewMemoryStore()

	seed(t, st, payment.StatusCreated, "")
	seed(t, st, payment.StatusProcessing, "")
	seed(t, st, payment.StatusProcessing, "")
	seed(t, st, payment.StatusSuccess, "")
	seed(t, st, payment.StatusFailed, payment.ReasonProcessingError)
	seed(t, st, payment.StatusFailed, payment.ReasonProcessingError)
	seed(t, st, payment.StatusFailed, payment.ReasonFraudSuspected)
	seed(t, st, payment.StatusRefunded, "")

	sut := summary.NewAggregator(st)

	s, err := sut.Summarize(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 8, s.Total)
	assert.Equal(t, 1, s.Created)
	assert.Equal(t, 2, s.Processing)
	assert.Equal(t, 1, s.Success)
	assert.Equal(t, 3, s.Failed)
	assert.Equal(t, 1, s.Refunded)

	assert.Equal(t, s.Total, s.Created+s.Processing+s.Success+s.Failed+s.Refunded)

	assert.Equal(t, 2, s.FailureBreakdown[string(payment.ReasonProcessingError)])
	assert.Equal(t, 1, s.FailureBreakdown[string(payment.ReasonFraudSuspected)])

	breakdownTotal := 0
	for _, count := range s.FailureBreakdown {
		breakdownTotal += count
	}
	assert.Equal(t, s.Failed, breakdownTotal)

	assert.WithinDuration(t, time.Now(), s.LastUpdated, time.Second)
}

func TestSummarize_Empty(t *testing.T) {
	sut := summary.NewAggregator(store.NewMemoryStore())

	s, err := sut.Summarize(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, s.Total)
	assert.Empty(t, s.FailureBreakdown)
}

// A payment that failed and later succeeded on retry no longer counts
// towards the failure breakdown.
func TestSummarize_RetriedPaymentLeavesBreakdown(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	p := &payment.Payment{
		ID:            uuid.New(),
		Reference:     "INV-1",
		Amount:        decimal.NewFromInt(100),
		Currency:      "USD",
		Status:        payment.StatusFailed,
		FailureReason: payment.ReasonProcessingError,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	require.NoError(t, st.Create(ctx, p))

	sut := summary.NewAggregator(st)

	s, err := sut.Summarize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.FailureBreakdown[string(payment.ReasonProcessingError)])

	p.Status = payment.StatusSuccess
	p.FailureReason = ""
	require.NoError(t, st.Update(ctx, p, &payment.Event{
		ID:        uuid.New(),
		PaymentID: p.ID,
		From:      payment.StatusProcessing,
		To:        payment.StatusSuccess,
		CreatedAt: time.Now(),
	}))

	s, err = sut.Summarize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Failed)
	assert.Empty(t, s.FailureBreakdown)
	assert.Equal(t, 1, s.Success)
}
