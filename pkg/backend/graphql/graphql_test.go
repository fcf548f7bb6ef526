package graphql

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/quiltcore/unisearch/pkg/backend"
	"github.com/quiltcore/unisearch/pkg/query"
)

func TestBucketListVariable(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{name: "nil binds an empty list", input: nil, expected: []string{}},
		{name: "single bucket stays a list", input: []string{"alpha"}, expected: []string{"alpha"}},
		{name: "multiple buckets", input: []string{"alpha", "beta"}, expected: []string{"alpha", "beta"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BucketListVariable(tt.input)
			if got == nil {
				t.Fatal("bucket variable must never bind nil")
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestBucketListVariableCopies(t *testing.T) {
	in := []string{"alpha"}
	out := BucketListVariable(in)
	out[0] = "mutated"
	if in[0] != "alpha" {
		t.Error("caller's slice mutated through the variable binding")
	}
}

func paramsFor(raw string) backend.Params {
	q := query.Parse(raw, query.Filters{})
	return backend.Params{Query: q, Buckets: q.Buckets}
}

func TestObjectSearchString(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{
			name:     "heuristic extension appended",
			raw:      "sales *.csv",
			expected: "sales ext:.csv",
		},
		{
			name:     "multiple extensions appended",
			raw:      "csv or json files",
			expected: "ext:.csv ext:.json",
		},
		{
			name:     "explicit expression not duplicated",
			raw:      "sales ext:.csv",
			expected: "sales",
		},
		{
			name:     "explicit expression alone",
			raw:      "ext:.csv",
			expected: "ext:.csv",
		},
		{
			name:     "plain text untouched",
			raw:      "glioblastoma",
			expected: "glioblastoma",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := objectSearchString(paramsFor(tt.raw)); got != tt.expected {
				t.Errorf("objectSearchString(%q) = %q, expected %q", tt.raw, got, tt.expected)
			}
		})
	}
}

func TestSearchString(t *testing.T) {
	tests := []struct {
		raw      string
		expected string
	}{
		{"sales data", "sales data"},
		{"ext:.csv", "ext:.csv"},
		{"sales ext:.csv", "sales"},
	}
	for _, tt := range tests {
		if got := searchString(paramsFor(tt.raw)); got != tt.expected {
			t.Errorf("searchString(%q) = %q, expected %q", tt.raw, got, tt.expected)
		}
	}
}

func TestClassify(t *testing.T) {
	b := &Backend{}
	tests := []struct {
		name     string
		err      error
		expected backend.ErrorKind
	}{
		{"missing operation", errors.New(`graphql: Cannot query field "objects" on type "Query"`), backend.ErrSchemaMismatch},
		{"unknown operation", errors.New("graphql: Unknown operation named searchObjects"), backend.ErrSchemaMismatch},
		{"unauthorized", errors.New("graphql: server returned a non-200 status code: 401"), backend.ErrAuth},
		{"forbidden", errors.New("Unauthorized access"), backend.ErrAuth},
		{"timeout", context.DeadlineExceeded, backend.ErrTimeout},
		{"network", errors.New("Post \"https://catalog/graphql\": connection refused"), backend.ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := b.classify(tt.err)
			if got.Kind != tt.expected {
				t.Errorf("classify(%v): expected %s, got %s", tt.err, tt.expected, got.Kind)
			}
			if got.Backend != backend.IDGraphQL {
				t.Errorf("classified error misattributed to %q", got.Backend)
			}
		})
	}
}

func TestNewRequiresEndpoint(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected an error without an endpoint")
	}
}

func TestNewDefaultsOperations(t *testing.T) {
	b, err := New(Config{Endpoint: "https://catalog.example.com/graphql"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if b.cfg.PackagesOperation != DefaultPackagesOperation {
		t.Errorf("packages operation: got %q", b.cfg.PackagesOperation)
	}
	if b.cfg.ObjectsOperation != DefaultObjectsOperation {
		t.Errorf("objects operation: got %q", b.cfg.ObjectsOperation)
	}
}

// gqlRequest is the wire shape the client posts, captured for variable
// binding assertions.
type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

// newStubBackend points the adapter at a scripted GraphQL endpoint.
func newStubBackend(t *testing.T, handler http.HandlerFunc) *Backend {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	b, err := New(Config{Endpoint: srv.URL, Token: "token"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func objectParams(raw string, f query.Filters) backend.Params {
	q := query.Parse(raw, f)
	return backend.Params{Query: q, Kind: backend.KindObject, Buckets: q.Buckets, Limit: 30}
}

func TestSearchObjects(t *testing.T) {
	var got gqlRequest
	b := newStubBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Write([]byte(`{"data":{"result":{
			"__typename":"ObjectsSearchResultSet",
			"total":2,
			"firstPage":{"hits":[
				{"bucket":"alpha","key":"data/sales.csv","score":3.2,"size":1024,"modified":"2026-01-02T03:04:05Z"},
				{"bucket":"alpha","key":"","score":1.0}
			]}}}}`))
	})

	res, err := b.Search(context.Background(), objectParams("sales *.csv", query.Filters{Bucket: "alpha"}))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Err != nil {
		t.Fatalf("unexpected backend error: %v", res.Err)
	}

	if res.TotalEstimate == nil || *res.TotalEstimate != 2 {
		t.Errorf("total estimate: got %v", res.TotalEstimate)
	}
	if len(res.Hits) != 1 {
		t.Fatalf("keyless hit must be skipped: got %d hits", len(res.Hits))
	}
	h := res.Hits[0]
	if h.Kind != backend.KindObject || h.Bucket != "alpha" || h.Identity != "data/sales.csv" {
		t.Errorf("hit misshaped: %+v", h)
	}
	if h.Score == nil || *h.Score != 3.2 || h.Size == nil || *h.Size != 1024 {
		t.Errorf("score/size lost: %+v", h)
	}
	if h.Modified == nil || !h.Modified.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Errorf("modified lost: %v", h.Modified)
	}

	// Variable binding: the extension folded into the search string, the
	// bucket scope bound as a list.
	if got.Variables["searchString"] != "sales ext:.csv" {
		t.Errorf("searchString: got %v", got.Variables["searchString"])
	}
	if buckets, ok := got.Variables["buckets"].([]any); !ok || !reflect.DeepEqual(buckets, []any{"alpha"}) {
		t.Errorf("buckets must bind as a list: got %v", got.Variables["buckets"])
	}
}

func TestSearchObjectsEmptyResultSet(t *testing.T) {
	b := newStubBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"result":{"__typename":"EmptySearchResultSet"}}}`))
	})
	res, err := b.Search(context.Background(), objectParams("nothing", query.Filters{}))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Err != nil {
		t.Fatalf("empty result set is not an error: %v", res.Err)
	}
	if len(res.Hits) != 0 {
		t.Errorf("expected no hits, got %d", len(res.Hits))
	}
}

func TestSearchObjectsMissingOperation(t *testing.T) {
	b := newStubBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errors":[{"message":"Cannot query field \"searchObjects\" on type \"Query\""}]}`))
	})
	res, err := b.Search(context.Background(), objectParams("x", query.Filters{}))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Err == nil || res.Err.Kind != backend.ErrSchemaMismatch {
		t.Errorf("expected schema mismatch for a missing operation, got %+v", res.Err)
	}
}

func TestSearchObjectsUnexpectedType(t *testing.T) {
	b := newStubBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"result":{"__typename":"BoostedSearchResultSet"}}}`))
	})
	res, err := b.Search(context.Background(), objectParams("x", query.Filters{}))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Err == nil || res.Err.Kind != backend.ErrSchemaMismatch {
		t.Errorf("expected schema mismatch for an unexpected result type, got %+v", res.Err)
	}
}

func TestSearchPackagesIdentity(t *testing.T) {
	b := newStubBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"result":{
			"__typename":"PackagesSearchResultSet",
			"total":2,
			"firstPage":{"hits":[
				{"bucket":"alpha","name":"team/pkg","hash":"abc123","score":4.0},
				{"bucket":"alpha","name":"team/unhashed","score":2.0}
			]}}}}`))
	})

	q := query.Parse("pkg", query.Filters{})
	res, err := b.Search(context.Background(), backend.Params{Query: q, Kind: backend.KindPackage, Limit: 30})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Err != nil {
		t.Fatalf("unexpected backend error: %v", res.Err)
	}
	if len(res.Hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(res.Hits))
	}
	if res.Hits[0].Identity != "team/pkg@abc123" {
		t.Errorf("hashed identity: got %q", res.Hits[0].Identity)
	}
	if res.Hits[1].Identity != "team/unhashed" {
		t.Errorf("hashless identity: got %q", res.Hits[1].Identity)
	}
	if res.Hits[0].Kind != backend.KindPackage {
		t.Errorf("kind: got %q", res.Hits[0].Kind)
	}
}

func TestSearchRejectsUnknownKind(t *testing.T) {
	b, err := New(Config{Endpoint: "https://catalog.example.com/graphql"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := b.Search(context.Background(), backend.Params{Kind: "bucketfulls"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Err == nil || res.Err.Kind != backend.ErrSchemaMismatch {
		t.Errorf("expected schema mismatch for unknown kind, got %+v", res.Err)
	}
}
