package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"payment-engine/internal/payment"
)

// MemoryStore keeps payments in process memory. Intended for tests and dev
// mode; pending state does not survive a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	payments map[uuid.UUID]*payment.Payment
	byRef    map[string]uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments: make(map[uuid.UUID]*payment.Payment),
		byRef:    make(map[string]uuid.UUID),
	}
}

func (s *MemoryStore) Create(_ context.Context, p *payment.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byRef[p.Reference]; ok {
		return ErrDuplicateReference
	}

	s.payments[p.ID] = p.Clone()
	s.byRef[p.Reference] = p.ID
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) GetByReference(_ context.Context, reference string) (*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byRef[reference]
	if !ok {
		return nil, ErrNotFound
	}
	return s.payments[id].Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, p *payment.Payment, e *payment.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.payments[p.ID]
	if !ok {
		return ErrNotFound
	}

	updated := p.Clone()
	updated.Events = append(append([]payment.Event{}, current.Events...), *e)
	s.payments[p.ID] = updated
	return nil
}

func (s *MemoryStore) List(_ context.Context, filter Filter) ([]*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*payment.Payment, 0, len(s.payments))
	for _, p := range s.payments {
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		result = append(result, p.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return nil, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}
