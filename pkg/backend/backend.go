package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Backend is implemented by every search backend adapter. Adapters are
// stateless between calls apart from pooled transport connections; the
// same instance serves concurrent requests.
//
// Search translates one invocation into a backend-specific request/response
// cycle and returns a normalized Result. Adapters fail soft: an expected
// failure mode (unreachable endpoint, missing GraphQL operation, result
// window overrun) comes back as a classified *Error, either inside the
// Result or as the returned error, and never as a panic.
type Backend interface {
	// ID returns the stable adapter identifier used in routing,
	// diagnostics and the backends_used/backends_failed response fields.
	ID() string

	// Kinds returns which hit kinds this backend can produce.
	Kinds() []Kind

	// Search executes one invocation. The context carries the
	// per-invocation timeout; implementations must respect cancellation.
	Search(ctx context.Context, p Params) (*Result, error)
}

// Well-known adapter IDs. The dispatcher's routing table and the
// `backends` request override refer to these.
const (
	IDGraphQL     = "graphql"
	IDElastic     = "elasticsearch"
	IDObjectStore = "objectstore"
)

// Registry holds the configured backend adapters for one service
// instance. It is populated at startup (or config reload) and read-only
// afterwards from the request path.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register adds an adapter. Registering the same ID twice is a
// configuration error.
func (r *Registry) Register(b Backend) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.backends[b.ID()]; exists {
		return fmt.Errorf("backend %s already registered", b.ID())
	}
	r.backends[b.ID()] = b
	return nil
}

// Get returns the adapter with the given ID, or nil if not configured.
func (r *Registry) Get(id string) Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.backends[id]
}

// Has reports whether an adapter with the given ID is configured.
func (r *Registry) Has(id string) bool {
	return r.Get(id) != nil
}

// IDs returns the configured adapter IDs, sorted for determinism.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.backends))
	for id := range r.backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
