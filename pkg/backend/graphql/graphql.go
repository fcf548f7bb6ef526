// Package graphql adapts the catalog GraphQL API to the backend
// interface. It answers package searches (free text plus bucket-list
// filter, ordered by best match) and bucket-scoped object searches.
//
// Two hard-won rules live here:
//
//   - The bucket scope variable is always bound as a list, even with a
//     single element. A singular value was once silently dropped by the
//     query variable binder and the filter quietly vanished.
//   - Operation names are configuration, not constants. Deployments
//     disagree on the objects operation name; an unknown operation comes
//     back as a schema-mismatch error, never a crash.
package graphql

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/machinebox/graphql"
	"golang.org/x/oauth2"

	"github.com/quiltcore/unisearch/pkg/backend"
	"github.com/quiltcore/unisearch/pkg/log"
)

// Config holds the catalog endpoint settings.
type Config struct {
	// Endpoint is the full GraphQL endpoint URL.
	Endpoint string

	// Token is the bearer token attached to every request. Token
	// validity is the caller's precondition; a rejected token surfaces
	// as an authentication error.
	Token string

	// PackagesOperation is the schema's package search operation name.
	PackagesOperation string

	// ObjectsOperation is the schema's object search operation name.
	// Known deployments expose either "objects" or "searchObjects";
	// neither is assumed canonical.
	ObjectsOperation string

	// LatestOnly restricts package hits to the latest revision.
	LatestOnly bool
}

const (
	DefaultPackagesOperation = "searchPackages"
	DefaultObjectsOperation  = "searchObjects"
)

// Backend is the catalog GraphQL adapter. Stateless between calls; the
// underlying HTTP client pools connections across requests.
type Backend struct {
	cfg    Config
	client *graphql.Client
	logger *log.Logger
}

// New builds the adapter. The bearer token rides on an oauth2 static
// token source so every request carries the Authorization header.
func New(cfg Config) (*Backend, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("graphql backend requires an endpoint")
	}
	if cfg.PackagesOperation == "" {
		cfg.PackagesOperation = DefaultPackagesOperation
	}
	if cfg.ObjectsOperation == "" {
		cfg.ObjectsOperation = DefaultObjectsOperation
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	hc := oauth2.NewClient(context.Background(), ts)

	return &Backend{
		cfg:    cfg,
		client: graphql.NewClient(cfg.Endpoint, graphql.WithHTTPClient(hc)),
		logger: log.For(backend.IDGraphQL),
	}, nil
}

func (b *Backend) ID() string { return backend.IDGraphQL }

func (b *Backend) Kinds() []backend.Kind {
	return []backend.Kind{backend.KindPackage, backend.KindObject}
}

// Search executes one invocation. Failures are classified and returned
// inside the Result; an empty result set is not an error.
func (b *Backend) Search(ctx context.Context, p backend.Params) (*backend.Result, error) {
	switch p.Kind {
	case backend.KindPackage:
		return b.searchPackages(ctx, p), nil
	case backend.KindObject:
		return b.searchObjects(ctx, p), nil
	}
	return backend.FailedResult(b.ID(), backend.NewError(b.ID(), backend.ErrSchemaMismatch,
		"unsupported search kind %q", p.Kind)), nil
}

// The operation name is injected once and the result aliased, so response
// decoding does not depend on which name a deployment uses.
const packagesQueryTemplate = `
query ($searchString: String!, $buckets: [String!]!, $size: Int!, $latestOnly: Boolean!) {
  result: %s(searchString: $searchString, buckets: $buckets, latestOnly: $latestOnly, order: BEST_MATCH) {
    __typename
    ... on PackagesSearchResultSet {
      total
      firstPage(size: $size) {
        hits {
          bucket
          name
          hash
          score
          size
          modified
        }
      }
    }
  }
}`

const objectsQueryTemplate = `
query ($searchString: String!, $buckets: [String!]!, $size: Int!) {
  result: %s(searchString: $searchString, buckets: $buckets) {
    __typename
    ... on ObjectsSearchResultSet {
      total
      firstPage(size: $size) {
        hits {
          bucket
          key
          score
          size
          modified
        }
      }
    }
  }
}`

const (
	typePackagesResultSet = "PackagesSearchResultSet"
	typeObjectsResultSet  = "ObjectsSearchResultSet"
	typeEmptyResultSet    = "EmptySearchResultSet"
)

type resultPage[H any] struct {
	Typename  string `json:"__typename"`
	Total     int    `json:"total"`
	FirstPage struct {
		Hits []H `json:"hits"`
	} `json:"firstPage"`
}

type packageHit struct {
	Bucket   string     `json:"bucket"`
	Name     string     `json:"name"`
	Hash     string     `json:"hash"`
	Score    *float64   `json:"score"`
	Size     *int64     `json:"size"`
	Modified *time.Time `json:"modified"`
}

type objectHit struct {
	Bucket   string     `json:"bucket"`
	Key      string     `json:"key"`
	Score    *float64   `json:"score"`
	Size     *int64     `json:"size"`
	Modified *time.Time `json:"modified"`
}

func (b *Backend) searchPackages(ctx context.Context, p backend.Params) *backend.Result {
	req := graphql.NewRequest(fmt.Sprintf(packagesQueryTemplate, b.cfg.PackagesOperation))
	req.Var("searchString", searchString(p))
	req.Var("buckets", BucketListVariable(p.Buckets))
	req.Var("size", p.Fetch())
	req.Var("latestOnly", b.cfg.LatestOnly)

	var resp struct {
		Result resultPage[packageHit] `json:"result"`
	}
	if err := b.client.Run(ctx, req, &resp); err != nil {
		return backend.FailedResult(b.ID(), b.classify(err))
	}
	if resp.Result.Typename == typeEmptyResultSet {
		return &backend.Result{Backend: b.ID(), Hits: []backend.Hit{}}
	}
	if resp.Result.Typename != typePackagesResultSet {
		return backend.FailedResult(b.ID(), backend.NewError(b.ID(), backend.ErrSchemaMismatch,
			"unexpected result type %q from %s", resp.Result.Typename, b.cfg.PackagesOperation))
	}

	result := &backend.Result{Backend: b.ID(), TotalEstimate: intPtr(resp.Result.Total)}
	for _, h := range resp.Result.FirstPage.Hits {
		if h.Bucket == "" {
			continue
		}
		identity := h.Name
		if h.Hash != "" {
			identity = h.Name + "@" + h.Hash
		}
		result.Hits = append(result.Hits, backend.Hit{
			Kind:     backend.KindPackage,
			Bucket:   h.Bucket,
			Identity: identity,
			Score:    h.Score,
			Size:     h.Size,
			Modified: h.Modified,
			Source:   b.ID(),
			Raw:      map[string]any{"name": h.Name, "hash": h.Hash},
		})
	}
	b.logger.Debugf("packages query %q returned %d hits (total %d)",
		searchString(p), len(result.Hits), resp.Result.Total)
	return result
}

func (b *Backend) searchObjects(ctx context.Context, p backend.Params) *backend.Result {
	req := graphql.NewRequest(fmt.Sprintf(objectsQueryTemplate, b.cfg.ObjectsOperation))
	req.Var("searchString", objectSearchString(p))
	req.Var("buckets", BucketListVariable(p.Buckets))
	req.Var("size", p.Fetch())

	var resp struct {
		Result resultPage[objectHit] `json:"result"`
	}
	if err := b.client.Run(ctx, req, &resp); err != nil {
		return backend.FailedResult(b.ID(), b.classify(err))
	}
	if resp.Result.Typename == typeEmptyResultSet {
		return &backend.Result{Backend: b.ID(), Hits: []backend.Hit{}}
	}
	if resp.Result.Typename != typeObjectsResultSet {
		return backend.FailedResult(b.ID(), backend.NewError(b.ID(), backend.ErrSchemaMismatch,
			"unexpected result type %q from %s", resp.Result.Typename, b.cfg.ObjectsOperation))
	}

	result := &backend.Result{Backend: b.ID(), TotalEstimate: intPtr(resp.Result.Total)}
	for _, h := range resp.Result.FirstPage.Hits {
		if h.Bucket == "" || h.Key == "" {
			continue
		}
		result.Hits = append(result.Hits, backend.Hit{
			Kind:     backend.KindObject,
			Bucket:   h.Bucket,
			Identity: h.Key,
			Score:    h.Score,
			Size:     h.Size,
			Modified: h.Modified,
			Source:   b.ID(),
			Raw:      map[string]any{"key": h.Key},
		})
	}
	return result
}

// BucketListVariable normalizes the bucket scope for variable binding.
// The result is always a non-nil list: catalog-wide scope binds an empty
// list, a single bucket binds a one-element list. Never a bare string.
func BucketListVariable(buckets []string) []string {
	if len(buckets) == 0 {
		return []string{}
	}
	out := make([]string, len(buckets))
	copy(out, buckets)
	return out
}

// searchString picks what the backend full-text-matches on. The explicit
// field expression is carried along verbatim when present.
func searchString(p backend.Params) string {
	if p.Query.ExplicitFieldQuery != "" && p.Query.FreeText == "" {
		return p.Query.ExplicitFieldQuery
	}
	return p.Query.FreeText
}

// objectSearchString appends the extension constraint for object searches,
// where the schema folds everything into the search string.
func objectSearchString(p backend.Params) string {
	s := searchString(p)
	if p.Query.ExplicitFieldQuery != "" {
		// Already encodes the constraint; do not apply it twice.
		return s
	}
	for _, ext := range p.Query.Extensions {
		s = strings.TrimSpace(s + " ext:" + ext)
	}
	return s
}

// classify maps transport and GraphQL errors onto the backend error
// taxonomy. A missing operation is a configuration problem and must stay
// distinguishable from an outage in diagnostics.
func (b *Backend) classify(err error) *backend.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return backend.NewError(b.ID(), backend.ErrTimeout, "catalog query timed out")
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "cannot query field"),
		strings.Contains(lower, "unknown field"),
		strings.Contains(lower, "unknown operation"),
		strings.Contains(lower, "unknown type"),
		strings.Contains(lower, "undefined field"):
		return backend.NewError(b.ID(), backend.ErrSchemaMismatch, "%s", msg)
	case strings.Contains(lower, "unauthorized"),
		strings.Contains(lower, "unauthenticated"),
		strings.Contains(lower, "401"),
		strings.Contains(lower, "403"):
		return backend.NewError(b.ID(), backend.ErrAuth, "%s", msg)
	}
	return backend.NewError(b.ID(), backend.ErrUnavailable, "%s", msg)
}

func intPtr(v int) *int { return &v }
