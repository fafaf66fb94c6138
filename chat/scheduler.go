package chat

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/onnwee/chatfeed/clock"
	"github.com/onnwee/chatfeed/telemetry"
)

// Scheduler runs delayed tasks on a clock. Waiting tasks are timers, not
// goroutines; a weighted semaphore bounds how many fired tasks run at once.
// Tasks pending at Close are abandoned.
type Scheduler struct {
	clock clock.Clock
	sem   *semaphore.Weighted

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]clock.Timer
	closed  bool
}

// NewScheduler returns a scheduler running at most maxConcurrent tasks at a time.
func NewScheduler(c clock.Clock, maxConcurrent int64) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Scheduler{
		clock:   c,
		sem:     semaphore.NewWeighted(maxConcurrent),
		pending: make(map[uint64]clock.Timer),
	}
}

// After runs fn once d has elapsed. It reports false if the scheduler is closed.
func (s *Scheduler) After(d time.Duration, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.nextID++
	id := s.nextID
	// run takes s.mu, so it cannot look up id before the timer is recorded
	s.pending[id] = s.clock.AfterFunc(d, func() { s.run(id, fn) })
	telemetry.AddGauge(telemetry.FollowUpsPending, 1)
	return true
}

func (s *Scheduler) run(id uint64, fn func()) {
	s.mu.Lock()
	if _, ok := s.pending[id]; !ok || s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.pending, id)
	s.mu.Unlock()
	telemetry.AddGauge(telemetry.FollowUpsPending, -1)

	if err := s.sem.Acquire(context.Background(), 1); err != nil {
		return
	}
	defer s.sem.Release(1)
	fn()
}

// Pending returns the number of tasks waiting to fire.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close stops every pending task and rejects new ones.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, t := range s.pending {
		t.Stop()
		delete(s.pending, id)
		telemetry.AddGauge(telemetry.FollowUpsPending, -1)
	}
}
