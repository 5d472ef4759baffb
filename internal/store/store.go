// Package store defines the record store contract the engine depends on.
// The engine is the single writer for any given payment; implementations
// only have to make Update atomic (payment row and appended event commit
// together or not at all).
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"payment-engine/internal/payment"
)

var (
	ErrNotFound           = errors.New("payment not found")
	ErrDuplicateReference = errors.New("payment reference already exists")
)

// Filter narrows List results. Zero values mean "no constraint".
type Filter struct {
	Status payment.Status
	Limit  int
	Offset int
}

type Store interface {
	// Create persists a new payment. Returns ErrDuplicateReference when the
	// reference is already taken.
	Create(ctx context.Context, p *payment.Payment) error

	// Get returns the payment with its full event history.
	Get(ctx context.Context, id uuid.UUID) (*payment.Payment, error)

	// GetByReference looks a payment up by its caller-supplied reference.
	GetByReference(ctx context.Context, reference string) (*payment.Payment, error)

	// Update persists the mutated payment and appends the transition event
	// as one atomic unit.
	Update(ctx context.Context, p *payment.Payment, e *payment.Event) error

	// List returns payments matching the filter, newest first.
	List(ctx context.Context, filter Filter) ([]*payment.Payment, error)
}
