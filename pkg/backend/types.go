// Package backend defines the shared types every search backend adapter
// produces and consumes: the normalized Hit record, the per-invocation
// Result, the backend error taxonomy, and the Backend interface itself.
//
// All values here are request-scoped: a Result is created fresh per
// invocation, never cached, and discarded after aggregation. Nothing is
// mutated after construction, so no locking is needed downstream.
package backend

import (
	"fmt"
	"time"

	"github.com/quiltcore/unisearch/pkg/query"
)

// Kind discriminates what a hit (or a search) refers to.
type Kind string

const (
	KindPackage Kind = "package"
	KindObject  Kind = "object"
)

// Hit is one unified, backend-agnostic result record.
type Hit struct {
	// Kind says whether this is a package or an object hit.
	Kind Kind `json:"kind"`

	// Bucket is never empty.
	Bucket string `json:"bucket"`

	// Identity is "name@hash" (or "name" if the hash is unknown) for
	// packages, and the object key for objects.
	Identity string `json:"identity"`

	// Score is the backend-supplied relevance score, nil if the backend
	// does not score (object listings).
	Score *float64 `json:"score,omitempty"`

	Size     *int64     `json:"size,omitempty"`
	Modified *time.Time `json:"modified,omitempty"`

	// Source is the ID of the adapter that produced the hit. Retained for
	// debugging and deterministic tiebreaks.
	Source string `json:"source_backend"`

	// Raw preserves backend-specific fields for downstream tooling.
	Raw map[string]any `json:"raw,omitempty"`
}

// DedupKey identifies the same underlying package or object returned by
// more than one backend.
func (h Hit) DedupKey() string {
	return string(h.Kind) + "\x00" + h.Bucket + "\x00" + h.Identity
}

// Result is one backend's answer to a dispatched invocation.
type Result struct {
	// Backend is the adapter ID that produced this result.
	Backend string

	// Hits is empty when Err is set.
	Hits []Hit

	// TotalEstimate is the backend-reported total, nil if the backend
	// cannot report one (object listings that stopped early).
	TotalEstimate *int

	// Truncated is true when the backend hit a hard result-window limit
	// before exhausting matches.
	Truncated bool

	// Err is set on failure. A failed backend never aborts the request;
	// the orchestrator records it and aggregates the rest.
	Err *Error
}

// ErrorKind classifies backend failures. Schema mismatches must stay
// distinguishable from transient network errors: one is a configuration
// problem, the other an outage.
type ErrorKind string

const (
	ErrUnavailable    ErrorKind = "backend_unavailable"
	ErrTimeout        ErrorKind = "backend_timeout"
	ErrSchemaMismatch ErrorKind = "schema_mismatch"
	ErrAuth           ErrorKind = "authentication"
)

// Error is a classified failure from one backend.
type Error struct {
	Backend string    `json:"backend"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Backend, e.Kind, e.Message)
}

// NewError builds a classified backend error.
func NewError(backendID string, kind ErrorKind, format string, args ...any) *Error {
	return &Error{Backend: backendID, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// FailedResult wraps a classified error in an otherwise empty Result.
func FailedResult(backendID string, err *Error) *Result {
	return &Result{Backend: backendID, Err: err}
}

// Params carries everything one backend needs for one invocation. The
// dispatcher fills it in; the orchestrator executes it.
type Params struct {
	// Query is the parsed, immutable query shared by all invocations of
	// a request.
	Query query.Query

	// Kind selects what to search for in this invocation.
	Kind Kind

	// Buckets restricts the search. For backends that operate on a
	// single bucket per call (object listings) the dispatcher emits one
	// invocation per bucket instead. Always a list, even with one
	// element: a singular value was once silently dropped by a query
	// variable binder.
	Buckets []string

	// Bucket is the single target bucket for per-bucket backends.
	Bucket string

	// Limit and Offset are the merged request's window. Backends fetch
	// up to Offset+Limit so the aggregator can apply the window globally
	// after merging.
	Limit  int
	Offset int

	// Timeout is this invocation's individual budget.
	Timeout time.Duration
}

// Fetch returns how many hits the backend should request so the
// aggregator can apply offset/limit on the merged sequence.
func (p Params) Fetch() int {
	n := p.Limit + p.Offset
	if n <= 0 {
		n = 30
	}
	return n
}
