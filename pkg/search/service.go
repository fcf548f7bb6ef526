// Package search is the top-level entry point of the unified search core.
// The service owns the request lifecycle: parse, dispatch, concurrent
// backend fan-out under per-invocation timeouts, fail-soft collection of
// partial results, and final aggregation.
//
// Individual backend failures never abort a request; they degrade the
// response and are reported in backends_failed. Only a missing token, a
// malformed request, or the failure of every dispatched backend is fatal.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quiltcore/unisearch/pkg/aggregate"
	"github.com/quiltcore/unisearch/pkg/backend"
	"github.com/quiltcore/unisearch/pkg/dispatch"
	"github.com/quiltcore/unisearch/pkg/log"
	"github.com/quiltcore/unisearch/pkg/query"
)

// Request-level failure classes. Everything else is degraded, not failed.
var (
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrInvalidQuery           = errors.New("invalid query")
	ErrAllBackendsFailed      = errors.New("all backends failed")
)

// Scope says whether a request targets the whole catalog or specific
// buckets.
type Scope string

const (
	ScopeCatalog Scope = "catalog"
	ScopeBucket  Scope = "bucket"
)

// Request is one unified search call.
type Request struct {
	// Query is the raw query string, natural language or structured.
	Query string

	// Scope is catalog or bucket. Empty defaults to catalog unless the
	// filters carry buckets.
	Scope Scope

	// SearchType is packages, objects or unified. Empty means unified.
	SearchType string

	// Filters are the structured filters (bucket/buckets/extensions/
	// expression).
	Filters query.Filters

	// Backends optionally forces a subset of adapters, primarily for
	// testing and diagnostics.
	Backends []string

	Limit  int
	Offset int

	// Cursor continues a previous response. When set it overrides
	// Offset.
	Cursor string
}

// Response is the unified search response returned to the caller.
type Response struct {
	RequestID string `json:"request_id"`
	Query     string `json:"query"`
	aggregate.Response
	TookMS int64 `json:"took_ms"`
}

// StreamEvent is pushed once per settled backend during a streaming
// search, before the final merged response.
type StreamEvent struct {
	Backend   string         `json:"backend"`
	Hits      []backend.Hit  `json:"hits,omitempty"`
	Truncated bool           `json:"truncated,omitempty"`
	Err       *backend.Error `json:"error,omitempty"`
}

// Recorder receives one diagnostics entry per completed search. Optional;
// see pkg/searchlog.
type Recorder interface {
	Record(e Entry)
}

// Entry is the diagnostics record for one search.
type Entry struct {
	RequestID      string
	Query          string
	Scope          Scope
	SearchType     string
	BackendsUsed   []string
	BackendsFailed []*backend.Error
	Hits           int
	TotalEstimate  *int
	Truncated      bool
	Duration       time.Duration
	When           time.Time
}

// Options configure the service.
type Options struct {
	// Token is the bearer token this deployment presents to backends.
	// Requests fail with ErrAuthenticationRequired when it is absent:
	// token issuance is an external concern and absence is a
	// precondition failure, not something to retry.
	Token string

	// AggregationMargin pads the overall deadline past the longest
	// per-backend timeout. Zero means DefaultAggregationMargin.
	AggregationMargin time.Duration

	// MaxLimit caps the per-request hit window. Zero means
	// DefaultMaxLimit.
	MaxLimit int

	// Recorder, when set, receives a diagnostics entry per search.
	Recorder Recorder
}

const (
	DefaultLimit             = 30
	DefaultMaxLimit          = 1000
	DefaultAggregationMargin = 500 * time.Millisecond
)

// Service is the search orchestrator. Safe for concurrent use: every
// search call is fully self-contained and no cross-request state is kept.
type Service struct {
	registry   *backend.Registry
	dispatcher *dispatch.Dispatcher
	opts       Options
	logger     *log.Logger
}

// NewService builds the orchestrator over a configured backend registry.
func NewService(registry *backend.Registry, dispatcher *dispatch.Dispatcher, opts Options) *Service {
	if opts.AggregationMargin <= 0 {
		opts.AggregationMargin = DefaultAggregationMargin
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = DefaultMaxLimit
	}
	return &Service{
		registry:   registry,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     log.For("search"),
	}
}

// BackendIDs returns the configured adapter IDs for introspection.
func (s *Service) BackendIDs() []string {
	return s.registry.IDs()
}

// Search executes one unified search request.
func (s *Service) Search(ctx context.Context, req Request) (*Response, error) {
	return s.SearchStream(ctx, req, nil)
}

// SearchStream is Search with an optional callback invoked as each
// backend settles, letting callers surface partial results before slow
// backends finish. The callback runs on the orchestrator goroutine, in
// settlement order; no ordering across backends is guaranteed.
func (s *Service) SearchStream(ctx context.Context, req Request, onEvent func(StreamEvent)) (*Response, error) {
	started := time.Now()
	requestID := uuid.NewString()

	if s.opts.Token == "" {
		return nil, ErrAuthenticationRequired
	}

	searchType, err := dispatch.ParseSearchType(req.SearchType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > s.opts.MaxLimit {
		limit = s.opts.MaxLimit
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}
	if req.Cursor != "" {
		offset, err = aggregate.DecodeCursor(req.Cursor)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
	}

	parsed := query.Parse(req.Query, req.Filters)
	if req.Scope == ScopeBucket && !parsed.Scoped() {
		return nil, fmt.Errorf("%w: bucket scope requires a bucket filter", ErrInvalidQuery)
	}

	invs, err := s.dispatcher.Select(parsed, searchType, limit, offset, req.Backends)
	switch {
	case errors.Is(err, dispatch.ErrUnknownBackend):
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	case errors.Is(err, dispatch.ErrNoBackends):
		return nil, fmt.Errorf("%w: %v", ErrAllBackendsFailed, err)
	case err != nil:
		return nil, err
	}

	results := s.run(ctx, invs, onEvent)

	if allFailed(results) {
		return nil, fmt.Errorf("%w: %s", ErrAllBackendsFailed, failureSummary(results))
	}

	merged := aggregate.Merge(results, limit, offset)
	resp := &Response{
		RequestID: requestID,
		Query:     req.Query,
		Response:  *merged,
		TookMS:    time.Since(started).Milliseconds(),
	}

	s.logger.Infof("request %s %q type=%s backends=%v failed=%d hits=%d took=%dms",
		requestID, req.Query, searchType, resp.BackendsUsed, len(resp.BackendsFailed),
		len(resp.Hits), resp.TookMS)

	if s.opts.Recorder != nil {
		s.opts.Recorder.Record(Entry{
			RequestID:      requestID,
			Query:          req.Query,
			Scope:          req.Scope,
			SearchType:     string(searchType),
			BackendsUsed:   resp.BackendsUsed,
			BackendsFailed: resp.BackendsFailed,
			Hits:           len(resp.Hits),
			TotalEstimate:  resp.TotalEstimate,
			Truncated:      resp.Truncated,
			Duration:       time.Since(started),
			When:           started,
		})
	}
	return resp, nil
}

// run fans out all invocations concurrently, each under its own timeout,
// and fans their results back in. The overall deadline is the longest
// per-invocation budget plus the aggregation margin, never the sum:
// backends run in parallel, not in sequence. Caller cancellation
// propagates to every in-flight call; results that already settled are
// kept and still aggregated.
func (s *Service) run(ctx context.Context, invs []dispatch.Invocation, onEvent func(StreamEvent)) []*backend.Result {
	longest := time.Duration(0)
	for _, inv := range invs {
		if inv.Params.Timeout > longest {
			longest = inv.Params.Timeout
		}
	}
	ctx, cancel := context.WithTimeout(ctx, longest+s.opts.AggregationMargin)
	defer cancel()

	type settled struct {
		index  int
		result *backend.Result
	}
	ch := make(chan settled, len(invs))

	var wg sync.WaitGroup
	for i, inv := range invs {
		wg.Add(1)
		go func(i int, inv dispatch.Invocation) {
			defer wg.Done()
			ictx, icancel := context.WithTimeout(ctx, inv.Params.Timeout)
			defer icancel()
			res, err := inv.Backend.Search(ictx, inv.Params)
			ch <- settled{index: i, result: normalizeResult(inv.Backend.ID(), res, err, ictx)}
		}(i, inv)
	}
	go func() {
		wg.Wait()
		close(ch)
	}()

	results := make([]*backend.Result, len(invs))
	for st := range ch {
		results[st.index] = st.result
		if onEvent != nil {
			ev := StreamEvent{Backend: st.result.Backend}
			if st.result.Err != nil {
				ev.Err = st.result.Err
			} else {
				ev.Hits = st.result.Hits
				ev.Truncated = st.result.Truncated
			}
			onEvent(ev)
		}
	}
	return results
}

// normalizeResult enforces the fail-soft boundary: whatever an adapter
// returned (or failed to return) becomes a Result carrying a classified
// error at worst.
func normalizeResult(id string, res *backend.Result, err error, ctx context.Context) *backend.Result {
	switch {
	case err == nil && res != nil:
		return res
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return backend.FailedResult(id, backend.NewError(id, backend.ErrTimeout,
			"backend exceeded its invocation budget"))
	case err != nil:
		var be *backend.Error
		if errors.As(err, &be) {
			return backend.FailedResult(id, be)
		}
		return backend.FailedResult(id, backend.NewError(id, backend.ErrUnavailable, "%v", err))
	default:
		return backend.FailedResult(id, backend.NewError(id, backend.ErrUnavailable,
			"backend returned no result"))
	}
}

func allFailed(results []*backend.Result) bool {
	for _, r := range results {
		if r != nil && r.Err == nil {
			return false
		}
	}
	return true
}

func failureSummary(results []*backend.Result) string {
	var parts []string
	for _, r := range results {
		if r != nil && r.Err != nil {
			parts = append(parts, r.Err.Error())
		}
	}
	return strings.Join(parts, "; ")
}
