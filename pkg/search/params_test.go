package search

import (
	"errors"
	"net/url"
	"reflect"
	"testing"
)

func TestParseSearchParams(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		expected Request
		wantErr  bool
	}{
		{
			name:     "defaults",
			query:    "q=sales",
			expected: Request{Query: "sales", Scope: ScopeCatalog, Limit: DefaultLimit},
		},
		{
			name:  "full parameter set",
			query: "q=csv+files&scope=bucket&type=objects&bucket=alpha&limit=50&offset=10",
			expected: Request{
				Query:      "csv files",
				Scope:      ScopeBucket,
				SearchType: "objects",
				Limit:      50,
				Offset:     10,
			},
		},
		{
			name:     "bucket filter implies bucket scope",
			query:    "q=x&bucket=alpha",
			expected: Request{Query: "x", Scope: ScopeBucket, Limit: DefaultLimit},
		},
		{
			name:     "plural buckets imply bucket scope",
			query:    "q=x&buckets=alpha,beta",
			expected: Request{Query: "x", Scope: ScopeBucket, Limit: DefaultLimit},
		},
		{
			name:     "explicit catalog scope kept",
			query:    "q=x&scope=catalog",
			expected: Request{Query: "x", Scope: ScopeCatalog, Limit: DefaultLimit},
		},
		{
			name:    "unknown scope rejected",
			query:   "q=x&scope=galaxy",
			wantErr: true,
		},
		{
			name:     "bad limit falls back to default",
			query:    "q=x&limit=banana",
			expected: Request{Query: "x", Scope: ScopeCatalog, Limit: DefaultLimit},
		},
		{
			name:     "negative offset ignored",
			query:    "q=x&offset=-5",
			expected: Request{Query: "x", Scope: ScopeCatalog, Limit: DefaultLimit},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values, err := url.ParseQuery(tt.query)
			if err != nil {
				t.Fatalf("ParseQuery: %v", err)
			}
			req, err := ParseSearchParams(values)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidQuery) {
					t.Errorf("expected ErrInvalidQuery, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSearchParams: %v", err)
			}
			// Compare the scalar fields; list fields are covered below.
			req.Filters.Bucket = ""
			req.Filters.Buckets = nil
			if !reflect.DeepEqual(req, tt.expected) {
				t.Errorf("expected %+v, got %+v", tt.expected, req)
			}
		})
	}
}

func TestParseSearchParamsLists(t *testing.T) {
	values, err := url.ParseQuery("q=x&buckets=alpha,beta&buckets=gamma&ext=csv&ext=json,parquet&backends=elasticsearch,objectstore")
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}
	req, err := ParseSearchParams(values)
	if err != nil {
		t.Fatalf("ParseSearchParams: %v", err)
	}
	if got := req.Filters.Buckets; !reflect.DeepEqual(got, []string{"alpha", "beta", "gamma"}) {
		t.Errorf("buckets: got %v", got)
	}
	if got := req.Filters.Extensions; !reflect.DeepEqual(got, []string{"csv", "json", "parquet"}) {
		t.Errorf("extensions: got %v", got)
	}
	if got := req.Backends; !reflect.DeepEqual(got, []string{"elasticsearch", "objectstore"}) {
		t.Errorf("backends: got %v", got)
	}
}

func TestParseSearchParamsFilterExpression(t *testing.T) {
	values, _ := url.ParseQuery("q=sales&filter=ext:.csv")
	req, err := ParseSearchParams(values)
	if err != nil {
		t.Fatalf("ParseSearchParams: %v", err)
	}
	if req.Filters.Expression != "ext:.csv" {
		t.Errorf("expression: got %q", req.Filters.Expression)
	}
}
