package usersync

import (
	"context"
	"sync"
	"time"

	"github.com/thenexusengine/tne_c1x/pkg/logger"
)

// Firer performs the pixel request for a task
type Firer interface {
	Fire(ctx context.Context, task *PixelTask) error
}

// SchedulerMetrics records pixel outcomes
type SchedulerMetrics interface {
	RecordPixel(bidder, outcome string)
}

// Scheduler fires pixel tasks after their delay. Tasks are fire-and-forget:
// there is no completion signal, only cancellation before the timer fires.
type Scheduler struct {
	firer   Firer
	timeout time.Duration
	metrics SchedulerMetrics

	mu      sync.Mutex
	pending map[uint64]*time.Timer
	nextID  uint64
	stopped bool
}

// NewScheduler creates a scheduler that fires tasks through firer, each
// request bounded by timeout
func NewScheduler(firer Firer, timeout time.Duration) *Scheduler {
	return &Scheduler{
		firer:   firer,
		timeout: timeout,
		pending: make(map[uint64]*time.Timer),
	}
}

// SetMetrics sets the metrics recorder
func (s *Scheduler) SetMetrics(m SchedulerMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

// Schedule arms task and returns a func that cancels it. The cancel func
// reports whether the task was still pending.
func (s *Scheduler) Schedule(task *PixelTask) (cancel func() bool) {
	if task == nil {
		return func() bool { return false }
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return func() bool { return false }
	}

	id := s.nextID
	s.nextID++
	s.pending[id] = time.AfterFunc(task.Delay, func() { s.fire(id, task) })
	s.record(task.Bidder, "scheduled")

	return func() bool { return s.cancel(id) }
}

// Pending returns the number of tasks that have not fired yet
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels all pending tasks and rejects new ones
func (s *Scheduler) Stop() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	cancelled := 0
	for id, timer := range s.pending {
		if timer.Stop() {
			cancelled++
		}
		delete(s.pending, id)
	}
	return cancelled
}

func (s *Scheduler) cancel(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer, ok := s.pending[id]
	if !ok {
		return false
	}
	delete(s.pending, id)
	return timer.Stop()
}

func (s *Scheduler) fire(id uint64, task *PixelTask) {
	s.mu.Lock()
	if _, ok := s.pending[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.pending, id)
	s.mu.Unlock()

	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if err := s.firer.Fire(ctx, task); err != nil {
		logger.Usersync().Debug().
			Err(err).
			Str("bidder", task.Bidder).
			Str("url", task.URL).
			Msg("pixel sync failed")
		s.recordLocked(task.Bidder, "error")
		return
	}
	s.recordLocked(task.Bidder, "fired")
}

// record expects s.mu to be held
func (s *Scheduler) record(bidder, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordPixel(bidder, outcome)
	}
}

func (s *Scheduler) recordLocked(bidder, outcome string) {
	s.mu.Lock()
	m := s.metrics
	s.mu.Unlock()
	if m != nil {
		m.RecordPixel(bidder, outcome)
	}
}
