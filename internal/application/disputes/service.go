package disputes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/disputebot/internal/application/scheduler"
	"github.com/alejandrodnm/disputebot/internal/domain"
	"github.com/alejandrodnm/disputebot/internal/metrics"
	"github.com/alejandrodnm/disputebot/internal/ports"
)

// Scheduler is the subset of *scheduler.Scheduler the service needs.
type Scheduler interface {
	Schedule(id string, at time.Time, fn scheduler.Func) error
	Cancel(id string) bool
}

// CreateRequest opens a new dispute.
type CreateRequest struct {
	Scope           string    `json:"scope"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	BettingClosesAt time.Time `json:"betting_closes_at"`
	ResolvesAt      time.Time `json:"resolves_at"`
}

// BetRequest stakes Amount on Side.
type BetRequest struct {
	Scope       string      `json:"scope"`
	Name        string      `json:"name"`
	Participant string      `json:"participant"`
	Side        domain.Side `json:"side"`
	Amount      float64     `json:"amount"`
}

// VoteRequest records an outcome choice. Choice true means Support.
type VoteRequest struct {
	Scope       string `json:"scope"`
	Name        string `json:"name"`
	Participant string `json:"participant"`
	Choice      bool   `json:"choice"`
}

// VoteAck acknowledges an accepted vote.
type VoteAck struct {
	Scope       string      `json:"scope"`
	Name        string      `json:"name"`
	Participant string      `json:"participant"`
	Side        domain.Side `json:"side"`
	At          time.Time   `json:"at"`
}

// Option configures a Service.
type Option func(*Service)

// WithStore persists every mutation to store and enables Restore.
func WithStore(store ports.DisputeStore) Option {
	return func(s *Service) { s.store = store }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service is the dispute lifecycle engine: it validates requests against the
// dispute windows, keeps the ledger and tally, and resolves each dispute once
// its scheduled deadline fires.
//
// Every operation on a dispute runs under that dispute's lock.
type Service struct {
	registry  ports.Registry
	sched     Scheduler
	publisher ports.Publisher
	store     ports.DisputeStore
	metrics   *metrics.Metrics
	now       func() time.Time
}

// New creates a Service with all dependencies injected.
func New(registry ports.Registry, sched Scheduler, publisher ports.Publisher, opts ...Option) *Service {
	s := &Service{
		registry:  registry,
		sched:     sched,
		publisher: publisher,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateDispute registers a dispute and arms its resolution at ResolvesAt.
func (s *Service) CreateDispute(ctx context.Context, req CreateRequest) (domain.Summary, error) {
	now := s.now()
	d, err := domain.NewDispute(req.Scope, req.Name, req.Description, req.BettingClosesAt, req.ResolvesAt, now)
	if err != nil {
		return domain.Summary{}, s.reject("CreateDispute", err)
	}

	// Locked before it becomes visible so no bet lands ahead of the timer.
	d.Lock()
	defer d.Unlock()

	if err := s.registry.Create(d); err != nil {
		return domain.Summary{}, s.reject("CreateDispute", err)
	}
	if err := s.sched.Schedule(d.ID, d.ResolvesAt, s.onFire(d.Scope, d.Name, d.ID)); err != nil {
		_ = s.registry.Delete(d.Scope, d.Name)
		d.MarkPurged()
		return domain.Summary{}, s.reject("CreateDispute", err)
	}
	s.persist(ctx, d)
	s.metrics.IncDisputesCreated()

	slog.Info("dispute created",
		"scope", d.Scope,
		"dispute", d.Name,
		"id", d.ID,
		"betting_closes_at", d.BettingClosesAt,
		"resolves_at", d.ResolvesAt,
	)
	return d.Summarize(now), nil
}

// PlaceBet adds a stake and returns the updated dispute, ledger included.
func (s *Service) PlaceBet(ctx context.Context, req BetRequest) (domain.Summary, error) {
	d, err := s.lockLive(req.Scope, req.Name)
	if err != nil {
		return domain.Summary{}, s.reject("PlaceBet", err)
	}
	defer d.Unlock()

	now := s.now()
	if err := d.PlaceBet(req.Participant, req.Side, req.Amount, now); err != nil {
		return domain.Summary{}, s.reject("PlaceBet", fmt.Errorf("%s/%s: %w", req.Scope, req.Name, err))
	}
	s.persist(ctx, d)
	s.metrics.ObserveBet(req.Side.String(), req.Amount)

	slog.Debug("bet placed",
		"scope", req.Scope,
		"dispute", req.Name,
		"participant", req.Participant,
		"side", req.Side,
		"amount", req.Amount,
	)
	return d.Summarize(now), nil
}

// CastVote records a vote from a participant without stakes.
func (s *Service) CastVote(ctx context.Context, req VoteRequest) (VoteAck, error) {
	d, err := s.lockLive(req.Scope, req.Name)
	if err != nil {
		return VoteAck{}, s.reject("CastVote", err)
	}
	defer d.Unlock()

	now := s.now()
	if err := d.CastVote(req.Participant, req.Choice, now); err != nil {
		return VoteAck{}, s.reject("CastVote", fmt.Errorf("%s/%s: %w", req.Scope, req.Name, err))
	}
	s.persist(ctx, d)

	side := domain.SideOppose
	if req.Choice {
		side = domain.SideSupport
	}
	s.metrics.ObserveVote(side.String())

	slog.Debug("vote cast", "scope", req.Scope, "dispute", req.Name, "participant", req.Participant, "side", side)
	return VoteAck{Scope: req.Scope, Name: req.Name, Participant: req.Participant, Side: side, At: now}, nil
}

// ListDisputes returns the live disputes of scope in creation order.
func (s *Service) ListDisputes(_ context.Context, scope string) []domain.Summary {
	now := s.now()
	disputes := s.registry.List(scope)
	out := make([]domain.Summary, 0, len(disputes))
	for _, d := range disputes {
		d.Lock()
		if d.StageAt(now) < domain.StageResolved {
			out = append(out, d.Summarize(now))
		}
		d.Unlock()
	}
	return out
}

// GetDispute returns one live dispute.
func (s *Service) GetDispute(_ context.Context, scope, name string) (domain.Summary, error) {
	d, err := s.lockLive(scope, name)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("disputes.GetDispute: %w", err)
	}
	defer d.Unlock()
	return d.Summarize(s.now()), nil
}

// DeleteDispute removes a dispute and cancels its pending resolution.
func (s *Service) DeleteDispute(ctx context.Context, scope, name string) error {
	d, err := s.lockLive(scope, name)
	if err != nil {
		return s.reject("DeleteDispute", err)
	}
	defer d.Unlock()

	s.purge(ctx, d)
	slog.Info("dispute deleted", "scope", scope, "dispute", name, "id", d.ID)
	return nil
}

// Resolutions returns the stored payout history of scope, most recent first.
func (s *Service) Resolutions(ctx context.Context, scope string) ([]domain.Report, error) {
	if s.store == nil {
		return nil, nil
	}
	reports, err := s.store.GetResolutions(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("disputes.Resolutions: %w", err)
	}
	return reports, nil
}

// Restore loads stored disputes into the registry and re-arms their deadlines.
// Disputes already past their deadline fire right away; stalled ones wait for a
// manual Resolve. Records that are resolved, or already in the resolution
// history, are dropped. Returns the number of disputes restored.
func (s *Service) Restore(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}
	records, err := s.store.LoadDisputes(ctx)
	if err != nil {
		return 0, fmt.Errorf("disputes.Restore: %w", err)
	}

	restored := 0
	for _, rec := range records {
		paid, err := s.store.HasResolution(ctx, rec.ID)
		if err != nil {
			return restored, fmt.Errorf("disputes.Restore: %w", err)
		}
		if paid || rec.Stage >= domain.StageResolved {
			if err := s.store.DeleteDispute(ctx, rec.Scope, rec.Name); err != nil {
				slog.Warn("restore: failed to drop finished dispute", "scope", rec.Scope, "dispute", rec.Name, "err", err)
			}
			continue
		}
		d, err := domain.RestoreDispute(rec)
		if err != nil {
			slog.Warn("restore: skipping corrupt record", "scope", rec.Scope, "dispute", rec.Name, "err", err)
			continue
		}
		if err := s.registry.Create(d); err != nil {
			slog.Warn("restore: skipping duplicate", "scope", rec.Scope, "dispute", rec.Name, "err", err)
			continue
		}
		if stalled, _ := d.Stalled(); !stalled {
			if err := s.sched.Schedule(d.ID, d.ResolvesAt, s.onFire(d.Scope, d.Name, d.ID)); err != nil {
				slog.Warn("restore: failed to arm resolution", "scope", rec.Scope, "dispute", rec.Name, "err", err)
			}
		}
		restored++
	}

	s.metrics.SetDisputesActive(s.registry.Len())
	slog.Info("disputes restored", "count", restored, "stored", len(records))
	return restored, nil
}

// lockLive fetches a dispute and returns it locked. A dispute purged between the
// lookup and the lock is reported as not found.
func (s *Service) lockLive(scope, name string) (*domain.Dispute, error) {
	d, err := s.registry.Get(scope, name)
	if err != nil {
		return nil, err
	}
	d.Lock()
	if d.StageAt(s.now()) >= domain.StageResolved {
		d.Unlock()
		return nil, fmt.Errorf("%s/%s: %w", scope, name, domain.ErrNotFound)
	}
	return d, nil
}

// purge removes a locked dispute from every component. Caller holds d's lock.
// The stored row goes first: once the registry entry is gone the name can be
// reused, and a delete by name must not hit the newcomer.
func (s *Service) purge(ctx context.Context, d *domain.Dispute) {
	if s.store != nil {
		if err := s.store.DeleteDispute(ctx, d.Scope, d.Name); err != nil {
			slog.Warn("storage error", "op", "delete", "scope", d.Scope, "dispute", d.Name, "err", err)
		}
	}

	if err := s.registry.Delete(d.Scope, d.Name); err != nil && !errors.Is(err, domain.ErrNotFound) {
		slog.Warn("registry delete failed", "scope", d.Scope, "dispute", d.Name, "err", err)
	}
	s.sched.Cancel(d.ID)
	d.MarkPurged()
	s.metrics.DecDisputesActive()
}

// persist saves the dispute record. Storage failures are logged, never returned:
// the in-memory registry stays authoritative. Caller holds d's lock.
func (s *Service) persist(ctx context.Context, d *domain.Dispute) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveDispute(ctx, d.Record()); err != nil {
		slog.Warn("storage error", "op", "save", "scope", d.Scope, "dispute", d.Name, "err", err)
	}
}

func (s *Service) reject(op string, err error) error {
	s.metrics.IncRejection(op, domain.KindOf(err).String())
	return fmt.Errorf("disputes.%s: %w", op, err)
}
