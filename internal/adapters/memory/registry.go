package memory

import (
	"fmt"
	"sync"

	"github.com/alejandrodnm/disputebot/internal/domain"
)

type key struct {
	scope string
	name  string
}

// Registry implements ports.Registry with a map guarded by a RWMutex.
// Creation order within a scope is kept with a per-scope slice of keys.
type Registry struct {
	mu      sync.RWMutex
	entries map[key]*domain.Dispute
	order   map[string][]key
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[key]*domain.Dispute),
		order:   make(map[string][]key),
	}
}

// Create stores d under (d.Scope, d.Name).
func (r *Registry) Create(d *domain.Dispute) error {
	k := key{d.Scope, d.Name}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[k]; ok {
		return fmt.Errorf("memory.Create %s/%s: %w", d.Scope, d.Name, domain.ErrAlreadyExists)
	}
	r.entries[k] = d
	r.order[d.Scope] = append(r.order[d.Scope], k)
	return nil
}

// Get returns the dispute stored under (scope, name).
func (r *Registry) Get(scope, name string) (*domain.Dispute, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.entries[key{scope, name}]
	if !ok {
		return nil, fmt.Errorf("memory.Get %s/%s: %w", scope, name, domain.ErrNotFound)
	}
	return d, nil
}

// List returns a snapshot of the scope's disputes in creation order.
// Later mutations do not affect the returned slice.
func (r *Registry) List(scope string) []*domain.Dispute {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := r.order[scope]
	out := make([]*domain.Dispute, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.entries[k])
	}
	return out
}

// Delete removes (scope, name).
func (r *Registry) Delete(scope, name string) error {
	k := key{scope, name}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[k]; !ok {
		return fmt.Errorf("memory.Delete %s/%s: %w", scope, name, domain.ErrNotFound)
	}
	delete(r.entries, k)

	keys := r.order[scope]
	for i, other := range keys {
		if other == k {
			r.order[scope] = append(keys[:i:i], keys[i+1:]...)
			break
		}
	}
	if len(r.order[scope]) == 0 {
		delete(r.order, scope)
	}
	return nil
}

// Len returns the number of disputes across all scopes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
