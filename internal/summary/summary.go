// Package summary computes point-in-time statistics over the record store.
// Read-only; safe to run concurrently with the write path.
package summary

import (
	"context"
	"time"

	"payment-engine/internal/payment"
	"payment-engine/internal/store"
)

type Summary struct {
	Total            int            `json:"total"`
	Created          int            `json:"created"`
	Processing       int            `json:"processing"`
	Success          int            `json:"success"`
	Failed           int            `json:"failed"`
	Refunded         int            `json:"refunded"`
	FailureBreakdown map[string]int `json:"failureBreakdown"`
	LastUpdated      time.Time      `json:"lastUpdated"`
}

type Aggregator struct {
	store store.Store
	clock func() time.Time
}

func NewAggregator(st store.Store) *Aggregator {
	return &Aggregator{store: st, clock: time.Now}
}

func (a *Aggregator) Summarize(ctx context.Context) (*Summary, error) {
	payments, err := a.store.List(ctx, store.Filter{})
	if err != nil {
		return nil, err
	}

	s := &Summary{
		FailureBreakdown: make(map[string]int),
		LastUpdated:      a.clock(),
	}

	for _, p := range payments {
		s.Total++
		switch p.Status {
		case payment.StatusCreated:
			s.Created++
		case payment.StatusProcessing:
			s.Processing++
		case payment.StatusSuccess:
			s.Success++
		case payment.StatusFailed:
			s.Failed++
			// only currently failed payments count towards the breakdown
			if p.FailureReason != "" {
				s.FailureBreakdown[string(p.FailureReason)]++
			}
		case payment.StatusRefunded:
			s.Refunded++
		}
	}

	return s, nil
}
