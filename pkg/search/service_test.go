package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quiltcore/unisearch/pkg/backend"
	"github.com/quiltcore/unisearch/pkg/dispatch"
	"github.com/quiltcore/unisearch/pkg/query"
)

// fakeBackend is a scriptable adapter for orchestrator tests.
type fakeBackend struct {
	id    string
	kinds []backend.Kind

	// hits are returned on success, filtered by the invocation's bucket
	// scope when scoped.
	hits []backend.Hit

	// failWith, when set, makes Search return a failed Result.
	failWith *backend.Error

	// returnErr, when set, makes Search return a raw error instead of a
	// Result, exercising the orchestrator's normalization backstop.
	returnErr error

	// delay makes Search block until the delay elapses or the context
	// expires, whichever comes first.
	delay time.Duration

	mu    sync.Mutex
	calls []backend.Params
}

func (f *fakeBackend) ID() string            { return f.id }
func (f *fakeBackend) Kinds() []backend.Kind { return f.kinds }

func (f *fakeBackend) Search(ctx context.Context, p backend.Params) (*backend.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, p)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.returnErr != nil {
		return nil, f.returnErr
	}
	if f.failWith != nil {
		return backend.FailedResult(f.id, f.failWith), nil
	}

	res := &backend.Result{Backend: f.id}
	scope := make(map[string]bool)
	for _, b := range p.Buckets {
		scope[b] = true
	}
	for _, h := range f.hits {
		if len(scope) > 0 && !scope[h.Bucket] {
			continue
		}
		res.Hits = append(res.Hits, h)
	}
	n := len(res.Hits)
	res.TotalEstimate = &n
	return res, nil
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func hit(source, bucket, key string, score float64) backend.Hit {
	return backend.Hit{
		Kind:     backend.KindObject,
		Bucket:   bucket,
		Identity: key,
		Score:    &score,
		Source:   source,
	}
}

func newService(t *testing.T, opts Options, backends ...backend.Backend) *Service {
	t.Helper()
	reg := backend.NewRegistry()
	for _, b := range backends {
		if err := reg.Register(b); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	if opts.Token == "" {
		opts.Token = "test-token"
	}
	d := dispatch.NewDispatcher(reg, dispatch.Config{
		DefaultBuckets: []string{"alpha", "beta"},
		DefaultTimeout: 2 * time.Second,
	})
	return NewService(reg, d, opts)
}

func TestSearchAuthenticationRequired(t *testing.T) {
	reg := backend.NewRegistry()
	d := dispatch.NewDispatcher(reg, dispatch.Config{})
	svc := NewService(reg, d, Options{})

	_, err := svc.Search(context.Background(), Request{Query: "anything"})
	if !errors.Is(err, ErrAuthenticationRequired) {
		t.Errorf("expected ErrAuthenticationRequired, got %v", err)
	}
}

func TestSearchInvalidType(t *testing.T) {
	svc := newService(t, Options{}, &fakeBackend{id: backend.IDElastic})
	_, err := svc.Search(context.Background(), Request{Query: "x", SearchType: "everything"})
	if !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("expected ErrInvalidQuery, got %v", err)
	}
}

func TestSearchInvalidCursor(t *testing.T) {
	svc := newService(t, Options{}, &fakeBackend{id: backend.IDElastic})
	_, err := svc.Search(context.Background(), Request{Query: "x", Cursor: "!!!"})
	if !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("expected ErrInvalidQuery, got %v", err)
	}
}

func TestSearchBucketScopeRequiresBucket(t *testing.T) {
	svc := newService(t, Options{}, &fakeBackend{id: backend.IDElastic})
	_, err := svc.Search(context.Background(), Request{Query: "x", Scope: ScopeBucket})
	if !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("expected ErrInvalidQuery, got %v", err)
	}
}

func TestSearchUnknownBackendOverride(t *testing.T) {
	svc := newService(t, Options{}, &fakeBackend{id: backend.IDElastic})
	_, err := svc.Search(context.Background(), Request{Query: "x", Backends: []string{"gopher"}})
	if !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("expected ErrInvalidQuery for unknown override, got %v", err)
	}
}

func TestSearchNoBackendsConfigured(t *testing.T) {
	svc := newService(t, Options{})
	_, err := svc.Search(context.Background(), Request{Query: "x"})
	if !errors.Is(err, ErrAllBackendsFailed) {
		t.Errorf("expected ErrAllBackendsFailed, got %v", err)
	}
}

func TestSearchMergesAcrossBackends(t *testing.T) {
	es := &fakeBackend{id: backend.IDElastic, hits: []backend.Hit{
		hit(backend.IDElastic, "alpha", "a.csv", 5),
		hit(backend.IDElastic, "alpha", "b.csv", 3),
	}}
	gql := &fakeBackend{id: backend.IDGraphQL, hits: []backend.Hit{
		{Kind: backend.KindPackage, Bucket: "alpha", Identity: "team/pkg@abc", Source: backend.IDGraphQL},
	}}
	svc := newService(t, Options{}, es, gql)

	resp, err := svc.Search(context.Background(), Request{Query: "csv"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Hits) != 3 {
		t.Errorf("expected 3 merged hits, got %d", len(resp.Hits))
	}
	if len(resp.BackendsUsed) != 2 {
		t.Errorf("expected 2 backends used, got %v", resp.BackendsUsed)
	}
	if resp.RequestID == "" {
		t.Error("expected a request ID")
	}
}

func TestSearchPartialFailureDegrades(t *testing.T) {
	es := &fakeBackend{id: backend.IDElastic,
		failWith: backend.NewError(backend.IDElastic, backend.ErrUnavailable, "connection refused")}
	gql := &fakeBackend{id: backend.IDGraphQL, hits: []backend.Hit{
		{Kind: backend.KindPackage, Bucket: "alpha", Identity: "team/pkg@abc", Source: backend.IDGraphQL},
	}}
	svc := newService(t, Options{}, es, gql)

	resp, err := svc.Search(context.Background(), Request{Query: "pkg"})
	if err != nil {
		t.Fatalf("one healthy backend must keep the request alive: %v", err)
	}
	if len(resp.Hits) != 1 {
		t.Errorf("expected surviving backend's hit, got %d", len(resp.Hits))
	}
	if len(resp.BackendsFailed) != 1 || resp.BackendsFailed[0].Kind != backend.ErrUnavailable {
		t.Errorf("expected recorded unavailable failure, got %+v", resp.BackendsFailed)
	}
}

func TestSearchAllBackendsFailed(t *testing.T) {
	es := &fakeBackend{id: backend.IDElastic,
		failWith: backend.NewError(backend.IDElastic, backend.ErrUnavailable, "down")}
	gql := &fakeBackend{id: backend.IDGraphQL,
		failWith: backend.NewError(backend.IDGraphQL, backend.ErrSchemaMismatch, "unknown operation")}
	svc := newService(t, Options{}, es, gql)

	_, err := svc.Search(context.Background(), Request{Query: "x"})
	if !errors.Is(err, ErrAllBackendsFailed) {
		t.Errorf("expected ErrAllBackendsFailed, got %v", err)
	}
}

func TestSearchSlowBackendTimesOutNonFatally(t *testing.T) {
	// Elasticsearch never answers within its budget; the object store
	// does. The request completes with a recorded timeout failure.
	es := &fakeBackend{id: backend.IDElastic, delay: time.Hour}
	gql := &fakeBackend{id: backend.IDGraphQL, hits: []backend.Hit{
		{Kind: backend.KindPackage, Bucket: "alpha", Identity: "team/pkg@abc", Source: backend.IDGraphQL},
	}}
	reg := backend.NewRegistry()
	for _, b := range []backend.Backend{es, gql} {
		if err := reg.Register(b); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	d := dispatch.NewDispatcher(reg, dispatch.Config{DefaultTimeout: 50 * time.Millisecond})
	svc := NewService(reg, d, Options{Token: "t", AggregationMargin: 50 * time.Millisecond})

	started := time.Now()
	resp, err := svc.Search(context.Background(), Request{Query: "x"})
	if err != nil {
		t.Fatalf("timeout of one backend must not fail the request: %v", err)
	}
	if took := time.Since(started); took > 2*time.Second {
		t.Errorf("request waited on the slow backend: took %v", took)
	}
	if len(resp.BackendsFailed) != 1 || resp.BackendsFailed[0].Kind != backend.ErrTimeout {
		t.Errorf("expected one timeout failure, got %+v", resp.BackendsFailed)
	}
	if len(resp.Hits) != 1 {
		t.Errorf("expected healthy backend's hit, got %d", len(resp.Hits))
	}
}

func TestSearchRawErrorNormalized(t *testing.T) {
	// An adapter returning a plain error instead of a classified Result
	// still degrades instead of failing the request.
	es := &fakeBackend{id: backend.IDElastic, returnErr: errors.New("boom")}
	gql := &fakeBackend{id: backend.IDGraphQL, hits: []backend.Hit{
		{Kind: backend.KindPackage, Bucket: "alpha", Identity: "p", Source: backend.IDGraphQL},
	}}
	svc := newService(t, Options{}, es, gql)

	resp, err := svc.Search(context.Background(), Request{Query: "x"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.BackendsFailed) != 1 || resp.BackendsFailed[0].Kind != backend.ErrUnavailable {
		t.Errorf("expected normalized unavailable failure, got %+v", resp.BackendsFailed)
	}
}

func TestSearchBucketScopeReachesBackends(t *testing.T) {
	// The end-to-end shape of the production defect: a bucket-scoped
	// request must produce bucket-scoped invocations on every backend,
	// whichever filter spelling the caller used.
	for _, filters := range []query.Filters{
		{Bucket: "alpha"},
		{Buckets: []string{"alpha"}},
	} {
		es := &fakeBackend{id: backend.IDElastic, hits: []backend.Hit{
			hit(backend.IDElastic, "alpha", "in-scope.csv", 2),
			hit(backend.IDElastic, "other", "out-of-scope.csv", 9),
		}}
		svc := newService(t, Options{}, es)

		resp, err := svc.Search(context.Background(), Request{
			Query:      "*.csv",
			Scope:      ScopeBucket,
			SearchType: "objects",
			Filters:    filters,
		})
		if err != nil {
			t.Fatalf("Search(%+v): %v", filters, err)
		}
		if len(resp.Hits) != 1 || resp.Hits[0].Identity != "in-scope.csv" {
			t.Errorf("filters %+v: expected only the in-scope hit, got %v", filters, resp.Hits)
		}
	}
}

func TestSearchTypePackagesSkipsObjectBackends(t *testing.T) {
	es := &fakeBackend{id: backend.IDElastic}
	gql := &fakeBackend{id: backend.IDGraphQL}
	svc := newService(t, Options{}, es, gql)

	if _, err := svc.Search(context.Background(), Request{Query: "x", SearchType: "packages"}); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if es.callCount() != 0 {
		t.Errorf("package search must not invoke elasticsearch, got %d calls", es.callCount())
	}
	if gql.callCount() != 1 {
		t.Errorf("expected 1 graphql call, got %d", gql.callCount())
	}
}

func TestSearchLimitClamped(t *testing.T) {
	var hits []backend.Hit
	for i := 0; i < 20; i++ {
		hits = append(hits, hit(backend.IDElastic, "alpha", string(rune('a'+i)), float64(20-i)))
	}
	es := &fakeBackend{id: backend.IDElastic, hits: hits}
	svc := newService(t, Options{MaxLimit: 10}, es)

	resp, err := svc.Search(context.Background(), Request{Query: "x", Limit: 500})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Hits) != 10 {
		t.Errorf("expected limit clamped to 10, got %d hits", len(resp.Hits))
	}
}

func TestSearchStreamEvents(t *testing.T) {
	es := &fakeBackend{id: backend.IDElastic, hits: []backend.Hit{
		hit(backend.IDElastic, "alpha", "a.csv", 1),
	}}
	gql := &fakeBackend{id: backend.IDGraphQL,
		failWith: backend.NewError(backend.IDGraphQL, backend.ErrAuth, "401")}
	svc := newService(t, Options{}, es, gql)

	var events []StreamEvent
	resp, err := svc.SearchStream(context.Background(), Request{Query: "x"}, func(ev StreamEvent) {
		events = append(events, ev)
	})
	if err != nil {
		t.Fatalf("SearchStream: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected one event per backend, got %d", len(events))
	}
	var sawHits, sawErr bool
	for _, ev := range events {
		if ev.Backend == backend.IDElastic && len(ev.Hits) == 1 {
			sawHits = true
		}
		if ev.Backend == backend.IDGraphQL && ev.Err != nil && ev.Err.Kind == backend.ErrAuth {
			sawErr = true
		}
	}
	if !sawHits || !sawErr {
		t.Errorf("stream events incomplete: %+v", events)
	}
	if len(resp.Hits) != 1 {
		t.Errorf("final response missing merged hits: %d", len(resp.Hits))
	}
}

type captureRecorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (c *captureRecorder) Record(e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
}

func TestSearchRecordsDiagnostics(t *testing.T) {
	rec := &captureRecorder{}
	es := &fakeBackend{id: backend.IDElastic, hits: []backend.Hit{
		hit(backend.IDElastic, "alpha", "a.csv", 1),
	}}
	svc := newService(t, Options{Recorder: rec}, es)

	resp, err := svc.Search(context.Background(), Request{Query: "csv stuff", SearchType: "objects"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(rec.entries) != 1 {
		t.Fatalf("expected 1 recorded entry, got %d", len(rec.entries))
	}
	e := rec.entries[0]
	if e.RequestID != resp.RequestID {
		t.Errorf("entry request ID mismatch: %q vs %q", e.RequestID, resp.RequestID)
	}
	if e.Query != "csv stuff" || e.SearchType != "objects" || e.Hits != 1 {
		t.Errorf("entry fields wrong: %+v", e)
	}
}
