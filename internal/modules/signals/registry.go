package signals

import (
	"sort"
	"sync"

	"github.com/aristath/stratlab/internal/domain"
)

// Registry maps strategy_id to a Generator implementation. It is
// populated once at startup; lookups are read-mostly and safe for
// concurrent use by optimizer workers.
type Registry struct {
	mu         sync.RWMutex
	generators map[string]Generator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{generators: make(map[string]Generator)}
}

// Register binds a strategy_id to its generator. Re-registering an id
// replaces the previous binding.
func (r *Registry) Register(id string, g Generator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generators[id] = g
}

// Resolve returns the generator for a strategy_id. Unknown ids are an
// input error, not a silent fallback.
func (r *Registry) Resolve(id string) (Generator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.generators[id]
	if !ok {
		return nil, domain.InvalidInputf("unknown strategy_id %q", id)
	}
	return g, nil
}

// IDs lists the registered strategy ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.generators))
	for id := range r.generators {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
