package disputes_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/disputebot/internal/adapters/memory"
	"github.com/alejandrodnm/disputebot/internal/application/disputes"
	"github.com/alejandrodnm/disputebot/internal/application/scheduler"
	"github.com/alejandrodnm/disputebot/internal/domain"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 10, 18, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// fakeScheduler records jobs and fires them only when the test says so.
type fakeScheduler struct {
	mu   sync.Mutex
	jobs map[string]fakeJob
}

type fakeJob struct {
	at time.Time
	fn scheduler.Func
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{jobs: make(map[string]fakeJob)}
}

func (s *fakeScheduler) Schedule(id string, at time.Time, fn scheduler.Func) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; ok {
		return domain.ErrJobExists
	}
	s.jobs[id] = fakeJob{at: at, fn: fn}
	return nil
}

func (s *fakeScheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[id]
	delete(s.jobs, id)
	return ok
}

func (s *fakeScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// take removes and returns a job without firing it, to simulate a cancel that lost the race.
func (s *fakeScheduler) take(id string) (fakeJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	delete(s.jobs, id)
	return j, ok
}

func (s *fakeScheduler) fire(t *testing.T, id string) {
	t.Helper()
	s.fireCtx(t, context.Background(), id)
}

// fireCtx fires a job with the given ctx, as the scheduler does with its Run ctx.
func (s *fakeScheduler) fireCtx(t *testing.T, ctx context.Context, id string) {
	t.Helper()
	j, ok := s.take(id)
	require.True(t, ok, "job %s not armed", id)
	j.fn(ctx, scheduler.Firing{ID: id, ScheduledAt: j.at, FiredAt: j.at})
}

type recordingPublisher struct {
	mu       sync.Mutex
	reports  []domain.Report
	failures []domain.FailureNotice
	notify   chan struct{}
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{notify: make(chan struct{}, 16)}
}

func (p *recordingPublisher) PublishReport(_ context.Context, r domain.Report) error {
	p.mu.Lock()
	p.reports = append(p.reports, r)
	p.mu.Unlock()
	p.signal()
	return nil
}

func (p *recordingPublisher) PublishFailure(_ context.Context, n domain.FailureNotice) error {
	p.mu.Lock()
	p.failures = append(p.failures, n)
	p.mu.Unlock()
	p.signal()
	return nil
}

func (p *recordingPublisher) signal() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *recordingPublisher) Reports() []domain.Report {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Report(nil), p.reports...)
}

func (p *recordingPublisher) Failures() []domain.FailureNotice {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.FailureNotice(nil), p.failures...)
}

type harness struct {
	svc   *disputes.Service
	reg   *memory.Registry
	sched *fakeScheduler
	pub   *recordingPublisher
	clock *fakeClock
}

func newHarness(opts ...disputes.Option) *harness {
	h := &harness{
		reg:   memory.NewRegistry(),
		sched: newFakeScheduler(),
		pub:   newRecordingPublisher(),
		clock: &fakeClock{now: t0},
	}
	opts = append([]disputes.Option{disputes.WithClock(h.clock.Now)}, opts...)
	h.svc = disputes.New(h.reg, h.sched, h.pub, opts...)
	return h
}

func createReq(scope, name string) disputes.CreateRequest {
	return disputes.CreateRequest{
		Scope:           scope,
		Name:            name,
		Description:     "Will the release ship on Friday?",
		BettingClosesAt: t0.Add(time.Hour),
		ResolvesAt:      t0.Add(2 * time.Hour),
	}
}

func (h *harness) create(t *testing.T, scope, name string) domain.Summary {
	t.Helper()
	sum, err := h.svc.CreateDispute(context.Background(), createReq(scope, name))
	require.NoError(t, err)
	return sum
}

func (h *harness) bet(t *testing.T, scope, name, who string, side domain.Side, amount float64) {
	t.Helper()
	_, err := h.svc.PlaceBet(context.Background(), disputes.BetRequest{
		Scope: scope, Name: name, Participant: who, Side: side, Amount: amount,
	})
	require.NoError(t, err)
}

func (h *harness) vote(t *testing.T, scope, name, who string, choice bool) {
	t.Helper()
	_, err := h.svc.CastVote(context.Background(), disputes.VoteRequest{
		Scope: scope, Name: name, Participant: who, Choice: choice,
	})
	require.NoError(t, err)
}

// seedExample places the worked example: support {alice 100, bob 300}, oppose {carol 500},
// votes 3 support / 1 oppose. Leaves the clock inside the voting window.
func (h *harness) seedExample(t *testing.T, scope, name string) {
	t.Helper()
	h.bet(t, scope, name, "alice", domain.SideSupport, 100)
	h.bet(t, scope, name, "bob", domain.SideSupport, 300)
	h.bet(t, scope, name, "carol", domain.SideOppose, 500)
	h.clock.Set(t0.Add(90 * time.Minute))
	h.vote(t, scope, name, "j1", true)
	h.vote(t, scope, name, "j2", true)
	h.vote(t, scope, name, "j3", true)
	h.vote(t, scope, name, "j4", false)
}
