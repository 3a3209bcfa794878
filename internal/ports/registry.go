package ports

import "github.com/alejandrodnm/disputebot/internal/domain"

// Registry is the keyed store of live disputes, scoped by (scope, name).
// Implementations must be safe for concurrent use; per-dispute serialization is
// done with the dispute's own lock, not the registry's.
type Registry interface {
	// Create adds d. Returns domain.ErrAlreadyExists if (d.Scope, d.Name) is taken.
	Create(d *domain.Dispute) error

	// Get returns the dispute or domain.ErrNotFound.
	Get(scope, name string) (*domain.Dispute, error)

	// List returns the disputes of a scope in creation order.
	List(scope string) []*domain.Dispute

	// Delete removes the dispute or returns domain.ErrNotFound.
	Delete(scope, name string) error

	// Len returns the number of disputes across all scopes.
	Len() int
}
