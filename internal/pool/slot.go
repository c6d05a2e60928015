package pool

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// slot serializes operations for one account. Waiters are served in arrival
// order by handing the slot directly to the head of the queue.
type slot struct {
	mu      sync.Mutex
	busy    bool
	waiters []chan struct{}

	// Guarded by ownership of the slot.
	sess     Session
	lastUsed time.Time
	limiter  *rate.Limiter
}

func newSlot(limiter *rate.Limiter) *slot {
	return &slot{limiter: limiter}
}

// acquire blocks until the caller owns the slot or ctx is done.
func (s *slot) acquire(ctx context.Context) error {
	s.mu.Lock()
	if !s.busy {
		s.busy = true
		s.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		for i, w := range s.waiters {
			if w == ch {
				s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
				s.mu.Unlock()
				return ctx.Err()
			}
		}
		s.mu.Unlock()
		// Ownership was handed to us while ctx fired; pass it on.
		s.release()
		return ctx.Err()
	}
}

// tryAcquire takes the slot only if nobody holds it.
func (s *slot) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return false
	}
	s.busy = true
	return true
}

// release hands the slot to the next waiter, or frees it.
func (s *slot) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.waiters) > 0 {
		next := s.waiters[0]
		s.waiters = s.waiters[1:]
		close(next)
		return
	}
	s.busy = false
}

func (s *slot) queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiters)
}
