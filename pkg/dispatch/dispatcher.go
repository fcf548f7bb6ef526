// Package dispatch decides which backend adapters answer a query and with
// what per-adapter parameters. The routing table is deterministic; adding
// a backend means adding one routing rule here, not touching call sites.
//
// The dispatcher only selects invocations. Execution, concurrency and the
// partial-failure policy belong to the orchestrator.
package dispatch

import (
	"errors"
	"fmt"
	"time"

	"github.com/quiltcore/unisearch/pkg/backend"
	"github.com/quiltcore/unisearch/pkg/query"
)

// SearchType selects what a request searches for.
type SearchType string

const (
	SearchPackages SearchType = "packages"
	SearchObjects  SearchType = "objects"
	SearchUnified  SearchType = "unified"
)

// ParseSearchType validates a caller-supplied search type string. The
// empty string defaults to unified.
func ParseSearchType(s string) (SearchType, error) {
	switch SearchType(s) {
	case SearchPackages, SearchObjects, SearchUnified:
		return SearchType(s), nil
	case "":
		return SearchUnified, nil
	}
	return "", fmt.Errorf("unsupported search type %q", s)
}

// ErrNoBackends is returned when the routing table selects nothing, either
// because no adapters are configured or the override excluded them all.
var ErrNoBackends = errors.New("no backends available for this query")

// ErrUnknownBackend is returned when the `backends` override names an
// adapter that is not configured. Surfaced as an invalid query so typos do
// not silently search nothing.
var ErrUnknownBackend = errors.New("unknown backend")

// Invocation pairs one adapter with the parameters it needs for one call.
type Invocation struct {
	Backend backend.Backend
	Params  backend.Params
}

// Config tunes the routing table.
type Config struct {
	// DefaultBuckets is the bounded bucket set used when an unscoped
	// object search falls back to per-bucket listings because the index
	// backend is unavailable.
	DefaultBuckets []string

	// MaxFallbackBuckets caps how many default buckets the fallback
	// fans out to. Zero means DefaultFallbackBuckets.
	MaxFallbackBuckets int

	// Timeouts holds per-adapter invocation budgets keyed by backend ID.
	// Missing entries use DefaultTimeout.
	Timeouts map[string]time.Duration

	// DefaultTimeout is the budget for adapters without an explicit
	// entry. Zero means DefaultInvocationTimeout.
	DefaultTimeout time.Duration
}

const (
	DefaultFallbackBuckets   = 5
	DefaultInvocationTimeout = 10 * time.Second
)

// Dispatcher selects backend invocations for parsed queries.
type Dispatcher struct {
	registry *backend.Registry
	cfg      Config
}

func NewDispatcher(registry *backend.Registry, cfg Config) *Dispatcher {
	if cfg.MaxFallbackBuckets <= 0 {
		cfg.MaxFallbackBuckets = DefaultFallbackBuckets
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultInvocationTimeout
	}
	return &Dispatcher{registry: registry, cfg: cfg}
}

// Select applies the routing table:
//
//   - packages            -> GraphQL only (packages are not indexed by the
//     object backends).
//   - objects, unscoped   -> Elasticsearch if configured; else per-bucket
//     object store listings over the bounded default bucket set.
//   - objects, scoped     -> Elasticsearch (if configured) and object
//     store both, for redundancy; duplicates are removed downstream.
//   - unified             -> union of the above.
//
// override, when non-empty, forces a subset of adapter IDs (testing and
// diagnostics). Unknown IDs are an error so typos do not silently search
// nothing.
func (d *Dispatcher) Select(q query.Query, st SearchType, limit, offset int, override []string) ([]Invocation, error) {
	allowed, err := d.allowedSet(override)
	if err != nil {
		return nil, err
	}

	base := backend.Params{
		Query:  q,
		Limit:  limit,
		Offset: offset,
	}

	var invs []Invocation
	if st == SearchPackages || st == SearchUnified {
		if b := allowed[backend.IDGraphQL]; b != nil {
			p := base
			p.Kind = backend.KindPackage
			p.Buckets = q.Buckets
			invs = append(invs, d.invocation(b, p))
		}
	}
	if st == SearchObjects || st == SearchUnified {
		invs = append(invs, d.selectObjects(q, base, allowed)...)
	}

	if len(invs) == 0 {
		return nil, ErrNoBackends
	}
	return invs, nil
}

func (d *Dispatcher) selectObjects(q query.Query, base backend.Params, allowed map[string]backend.Backend) []Invocation {
	var invs []Invocation

	es := allowed[backend.IDElastic]
	store := allowed[backend.IDObjectStore]

	if q.Scoped() {
		// Bucket-scoped: query both index and listings for coverage.
		if es != nil {
			p := base
			p.Kind = backend.KindObject
			p.Buckets = q.Buckets
			invs = append(invs, d.invocation(es, p))
		}
		if store != nil {
			for _, bucket := range q.Buckets {
				p := base
				p.Kind = backend.KindObject
				p.Bucket = bucket
				p.Buckets = []string{bucket}
				invs = append(invs, d.invocation(store, p))
			}
		}
		return invs
	}

	// Catalog-wide: the index answers alone when available.
	if es != nil {
		p := base
		p.Kind = backend.KindObject
		invs = append(invs, d.invocation(es, p))
		return invs
	}

	// Fallback: bounded fan-out over the default bucket set.
	if store != nil {
		buckets := d.cfg.DefaultBuckets
		if len(buckets) > d.cfg.MaxFallbackBuckets {
			buckets = buckets[:d.cfg.MaxFallbackBuckets]
		}
		for _, bucket := range buckets {
			p := base
			p.Kind = backend.KindObject
			p.Bucket = bucket
			p.Buckets = []string{bucket}
			invs = append(invs, d.invocation(store, p))
		}
	}
	return invs
}

func (d *Dispatcher) invocation(b backend.Backend, p backend.Params) Invocation {
	p.Timeout = d.timeoutFor(b.ID())
	return Invocation{Backend: b, Params: p}
}

func (d *Dispatcher) timeoutFor(id string) time.Duration {
	if t, ok := d.cfg.Timeouts[id]; ok && t > 0 {
		return t
	}
	return d.cfg.DefaultTimeout
}

// allowedSet resolves the override list against the registry. With no
// override, every configured backend is allowed.
func (d *Dispatcher) allowedSet(override []string) (map[string]backend.Backend, error) {
	allowed := make(map[string]backend.Backend)
	if len(override) == 0 {
		for _, id := range d.registry.IDs() {
			allowed[id] = d.registry.Get(id)
		}
		return allowed, nil
	}
	for _, id := range override {
		b := d.registry.Get(id)
		if b == nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, id)
		}
		allowed[id] = b
	}
	return allowed, nil
}
