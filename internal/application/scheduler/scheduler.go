package scheduler

// scheduler.go: one-shot timers for dispute deadlines.
//
// A single dispatch goroutine sleeps until the earliest job is due. Jobs that are
// late by more than the grace window are not replayed: they fire once, right away,
// flagged as misfired.

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/disputebot/internal/domain"
)

// DefaultGrace is how late a job may fire and still count as on time.
const DefaultGrace = 60 * time.Second

// FiredRetention is how long a fired id stays blocked from being re-armed.
// Older entries are pruned whenever jobs fire, so the set stays bounded by the
// number of jobs fired within the window.
const FiredRetention = time.Hour

// Firing describes a single dispatch of a job.
type Firing struct {
	ID          string
	ScheduledAt time.Time
	FiredAt     time.Time
	Late        time.Duration
	Misfired    bool // Late exceeded the grace window
}

// Func is the callback of a job. It runs on its own goroutine.
type Func func(ctx context.Context, f Firing)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithGrace sets the late-fire tolerance. Non-positive values keep the default.
func WithGrace(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.grace = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler runs one-shot jobs at absolute times. Each job id fires at most once.
type Scheduler struct {
	mu    sync.Mutex
	queue jobQueue
	jobs  map[string]*job
	fired map[string]time.Time
	seq   uint64

	wake     chan struct{}
	grace    time.Duration
	now      func() time.Time
	inflight sync.WaitGroup
}

// New creates a scheduler. Call Run to start dispatching.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:  make(map[string]*job),
		fired: make(map[string]time.Time),
		wake:  make(chan struct{}, 1),
		grace: DefaultGrace,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule arms fn to run at at. A time in the past fires on the next loop iteration.
// Returns domain.ErrJobExists if id is pending or fired within FiredRetention.
func (s *Scheduler) Schedule(id string, at time.Time, fn Func) error {
	if id == "" || fn == nil {
		return fmt.Errorf("scheduler.Schedule: %w: id and callback are required", domain.ErrInvalidInput)
	}

	s.mu.Lock()
	if _, ok := s.jobs[id]; ok {
		s.mu.Unlock()
		return fmt.Errorf("scheduler.Schedule %q: %w", id, domain.ErrJobExists)
	}
	if _, ok := s.fired[id]; ok {
		s.mu.Unlock()
		return fmt.Errorf("scheduler.Schedule %q: already fired: %w", id, domain.ErrJobExists)
	}
	s.seq++
	j := &job{id: id, at: at, seq: s.seq, fn: fn}
	heap.Push(&s.queue, j)
	s.jobs[id] = j
	s.mu.Unlock()

	s.notify()
	return nil
}

// Cancel disarms a pending job. It reports false when the job already fired or
// never existed; neither case is an error.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if ok {
		heap.Remove(&s.queue, j.index)
		delete(s.jobs, id)
	}
	s.mu.Unlock()

	if ok {
		s.notify()
	}
	return ok
}

// Wake makes the dispatch loop re-read the clock. Only needed when an injected
// clock jumps forward.
func (s *Scheduler) Wake() { s.notify() }

// Pending returns the number of armed jobs.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Run dispatches jobs until ctx is cancelled, then waits for running callbacks.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.inflight.Wait()

	slog.Debug("scheduler starting", "grace", s.grace, "pending", s.Pending())

	for {
		due, wait := s.takeDue()
		for _, f := range due {
			s.dispatch(ctx, f)
		}

		var timerC <-chan time.Time
		var timer *time.Timer
		if wait >= 0 {
			timer = time.NewTimer(wait)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			slog.Debug("scheduler stopped", "pending", s.Pending())
			return nil
		case <-s.wake:
		case <-timerC:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

type dueJob struct {
	fn     Func
	firing Firing
}

// takeDue pops every job whose time has come and returns how long to sleep until
// the next one (-1 when the queue is empty).
func (s *Scheduler) takeDue() ([]dueJob, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var due []dueJob
	for s.queue.Len() > 0 && !s.queue[0].at.After(now) {
		j := heap.Pop(&s.queue).(*job)
		delete(s.jobs, j.id)
		s.fired[j.id] = now

		late := now.Sub(j.at)
		due = append(due, dueJob{
			fn: j.fn,
			firing: Firing{
				ID:          j.id,
				ScheduledAt: j.at,
				FiredAt:     now,
				Late:        late,
				Misfired:    late > s.grace,
			},
		})
	}

	if len(due) > 0 {
		for id, at := range s.fired {
			if now.Sub(at) > FiredRetention {
				delete(s.fired, id)
			}
		}
	}

	if s.queue.Len() == 0 {
		return due, -1
	}
	return due, s.queue[0].at.Sub(now)
}

func (s *Scheduler) dispatch(ctx context.Context, d dueJob) {
	if d.firing.Misfired {
		slog.Warn("scheduler: misfire coalesced into one fire",
			"job", d.firing.ID,
			"scheduled_at", d.firing.ScheduledAt,
			"late", d.firing.Late,
		)
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		d.fn(ctx, d.firing)
	}()
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
