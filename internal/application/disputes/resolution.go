package disputes

// resolution.go: the deadline side of the engine.
//
// The scheduler fires once per dispute at ResolvesAt. The callback takes the same
// per-dispute lock as bets and votes, so the ledger and tally it reads are final.
// Success purges the dispute; an arithmetic failure publishes a notice and leaves
// the dispute stalled until someone resolves or deletes it.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/disputebot/internal/application/scheduler"
	"github.com/alejandrodnm/disputebot/internal/domain"
)

// Resolve computes and publishes the payouts of scope/name (the manual ResolveNow).
// It fails with domain.ErrTooEarly before the dispute's deadline.
func (s *Service) Resolve(ctx context.Context, scope, name string) (domain.Report, error) {
	return s.resolve(ctx, scope, name, "")
}

// onFire is the scheduler callback of one dispute instance. The id guards against a
// stale timer resolving a newer dispute that reused the same name.
func (s *Service) onFire(scope, name, id string) scheduler.Func {
	return func(ctx context.Context, f scheduler.Firing) {
		s.metrics.ObserveFireLateness(f.Late)

		_, err := s.resolve(ctx, scope, name, id)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrNotFound):
			slog.Debug("scheduled resolution skipped: dispute gone", "scope", scope, "dispute", name, "id", id)
		default:
			slog.Warn("scheduled resolution failed, dispute kept",
				"scope", scope,
				"dispute", name,
				"misfired", f.Misfired,
				"err", err,
			)
		}
	}
}

func (s *Service) resolve(ctx context.Context, scope, name, wantID string) (domain.Report, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveResolveLatency(time.Since(start)) }()

	d, err := s.lockLive(scope, name)
	if err != nil {
		return domain.Report{}, fmt.Errorf("disputes.Resolve: %w", err)
	}
	defer d.Unlock()

	if wantID != "" && d.ID != wantID {
		return domain.Report{}, fmt.Errorf("disputes.Resolve %s/%s: stale job %s: %w", scope, name, wantID, domain.ErrNotFound)
	}

	now := s.now()
	if now.Before(d.ResolvesAt) {
		return domain.Report{}, s.reject("Resolve", fmt.Errorf("%s/%s: %w", scope, name, domain.ErrTooEarly))
	}

	report, err := d.Settle(now)
	if err != nil {
		s.fail(ctx, d, err, now)
		return domain.Report{}, fmt.Errorf("disputes.Resolve %s/%s: %w", scope, name, err)
	}

	// Store writes after Settle must land even when ctx is canceled.
	wctx := context.WithoutCancel(ctx)
	s.persist(wctx, d)
	if s.store != nil {
		if err := s.store.SaveResolution(wctx, report); err != nil {
			slog.Warn("storage error", "op", "save_resolution", "scope", scope, "dispute", name, "err", err)
		}
	}
	if err := s.publisher.PublishReport(ctx, report); err != nil {
		slog.Error("failed to publish resolution report", "scope", scope, "dispute", name, "err", err)
	}
	s.purge(wctx, d)
	s.metrics.IncResolution("resolved")

	slog.Info("dispute resolved",
		"scope", scope,
		"dispute", name,
		"pool", report.Pool(),
		"support_votes", report.SupportVotes,
		"oppose_votes", report.OpposeVotes,
		"stakes", len(report.Payouts),
	)
	return report, nil
}

// fail publishes the failure notice and persists the stalled marker. Caller holds d's lock.
func (s *Service) fail(ctx context.Context, d *domain.Dispute, err error, now time.Time) {
	outcome := "error"
	switch {
	case errors.Is(err, domain.ErrNoVotes):
		outcome = "no_votes"
	case errors.Is(err, domain.ErrDegeneratePool):
		outcome = "degenerate_pool"
	}
	s.metrics.IncResolution(outcome)

	if perr := s.publisher.PublishFailure(ctx, d.Failure(err, now)); perr != nil {
		slog.Error("failed to publish failure notice", "scope", d.Scope, "dispute", d.Name, "err", perr)
	}
	s.persist(context.WithoutCancel(ctx), d)
}
