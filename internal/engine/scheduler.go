package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Scheduler arranges for a processing payment to be resolved after a delay
// without blocking the caller.
type Scheduler interface {
	Schedule(id uuid.UUID)
}

// TimerScheduler fires the resolve callback once per scheduled id after a
// fixed delay. Timers live in process memory only: a restart drops pending
// ones, which the startup sweep over PROCESSING payments compensates for
// when the store is durable.
type TimerScheduler struct {
	delay  time.Duration
	fire   func(ctx context.Context, id uuid.UUID)
	logger *slog.Logger

	mu      sync.Mutex
	pending map[uuid.UUID]*time.Timer
	stopped bool
	wg      sync.WaitGroup
}

func NewTimerScheduler(delay time.Duration, fire func(ctx context.Context, id uuid.UUID), logger *slog.Logger) *TimerScheduler {
	return &TimerScheduler{
		delay:   delay,
		fire:    fire,
		logger:  logger,
		pending: make(map[uuid.UUID]*time.Timer),
	}
}

func (s *TimerScheduler) Schedule(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		s.logger.Warn("Scheduler stopped, resolving immediately", "id", id)
		// off the caller's goroutine: Process and Retry schedule while
		// holding the per-id lock that resolve needs to re-acquire
		go s.fire(context.Background(), id)
		return
	}

	s.wg.Add(1)
	s.pending[id] = time.AfterFunc(s.delay, func() {
		defer s.wg.Done()

		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()

		s.fire(context.Background(), id)
	})
}

// Stop rejects new timers and flushes pending ones immediately, so every
// scheduled resolution still fires before shutdown completes.
func (s *TimerScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	for id, timer := range s.pending {
		if timer.Stop() {
			id := id
			go func() {
				defer s.wg.Done()
				s.fire(ctx, id)
			}()
		}
		delete(s.pending, id)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
