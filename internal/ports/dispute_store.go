package ports

import (
	"context"

	"github.com/alejandrodnm/disputebot/internal/domain"
)

// DisputeStore persists dispute records and resolution history.
type DisputeStore interface {
	// SaveDispute upserts the full record, replacing its stakes and votes.
	SaveDispute(ctx context.Context, rec domain.Record) error

	// DeleteDispute removes the record. Deleting a missing record is not an error.
	DeleteDispute(ctx context.Context, scope, name string) error

	// LoadDisputes returns every stored record in creation order.
	LoadDisputes(ctx context.Context) ([]domain.Record, error)

	// SaveResolution appends a resolution report to the history.
	SaveResolution(ctx context.Context, report domain.Report) error

	// GetResolutions returns the history of a scope, most recent first.
	GetResolutions(ctx context.Context, scope string) ([]domain.Report, error)

	// HasResolution reports whether disputeID was already paid out.
	HasResolution(ctx context.Context, disputeID string) (bool, error)

	Close() error
}
