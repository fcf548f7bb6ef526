// Package elastic adapts an Elasticsearch-compatible object index to the
// backend interface.
//
// Extension filtering uses the index's dedicated ext field with an exact
// term match, leading dot included. A wildcard against the full object key
// is never used: it produced false positives like "report_csv_summary.txt"
// matching a csv search. When the caller supplied an explicit field query
// ("ext:.csv"), that expression is passed through once and the term filter
// is skipped, since applying the constraint twice changes semantics under
// some query combinators.
//
// The index's maximum result window (commonly 10,000) is a hard ceiling:
// requests are capped at it, Truncated is set, and no scrolling beyond it
// is attempted.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/quiltcore/unisearch/pkg/backend"
	"github.com/quiltcore/unisearch/pkg/log"
)

// Config holds the index endpoint settings.
type Config struct {
	// Addresses are the Elasticsearch endpoint URLs.
	Addresses []string

	// Index is the object index (or index pattern) to search.
	Index string

	// Token, when set, is sent as a bearer Authorization header.
	Token string

	// MaxResultWindow is the index's hard per-query result ceiling.
	// Zero means DefaultMaxResultWindow.
	MaxResultWindow int
}

const DefaultMaxResultWindow = 10000

// Backend is the Elasticsearch adapter. The client pools connections;
// no per-request state is retained.
type Backend struct {
	cfg    Config
	client *elasticsearch.Client
	logger *log.Logger
}

func New(cfg Config) (*Backend, error) {
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("elasticsearch backend requires at least one address")
	}
	if cfg.Index == "" {
		return nil, fmt.Errorf("elasticsearch backend requires an index")
	}
	if cfg.MaxResultWindow <= 0 {
		cfg.MaxResultWindow = DefaultMaxResultWindow
	}

	esCfg := elasticsearch.Config{Addresses: cfg.Addresses}
	if cfg.Token != "" {
		esCfg.Header = map[string][]string{
			"Authorization": {"Bearer " + cfg.Token},
		}
	}
	client, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}

	return &Backend{
		cfg:    cfg,
		client: client,
		logger: log.For(backend.IDElastic),
	}, nil
}

func (b *Backend) ID() string { return backend.IDElastic }

func (b *Backend) Kinds() []backend.Kind {
	return []backend.Kind{backend.KindObject}
}

// Search executes one invocation against the object index.
func (b *Backend) Search(ctx context.Context, p backend.Params) (*backend.Result, error) {
	body, capped := BuildQuery(p, b.cfg.MaxResultWindow)

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return backend.FailedResult(b.ID(), backend.NewError(b.ID(), backend.ErrUnavailable,
			"encoding query: %v", err)), nil
	}

	res, err := b.client.Search(
		b.client.Search.WithContext(ctx),
		b.client.Search.WithIndex(b.cfg.Index),
		b.client.Search.WithBody(&buf),
		b.client.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return backend.FailedResult(b.ID(), backend.NewError(b.ID(), backend.ErrTimeout,
				"index query timed out")), nil
		}
		return backend.FailedResult(b.ID(), backend.NewError(b.ID(), backend.ErrUnavailable,
			"%v", err)), nil
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.IsError() {
		return backend.FailedResult(b.ID(), b.classifyStatus(res.StatusCode, res.String())), nil
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return backend.FailedResult(b.ID(), backend.NewError(b.ID(), backend.ErrSchemaMismatch,
			"decoding response: %v", err)), nil
	}

	result := &backend.Result{
		Backend:       b.ID(),
		TotalEstimate: intPtr(sr.Hits.Total.Value),
		Truncated:     capped || sr.Hits.Total.Value > b.cfg.MaxResultWindow,
	}
	for _, h := range sr.Hits.Hits {
		hit, ok := b.toHit(h)
		if !ok {
			continue
		}
		result.Hits = append(result.Hits, hit)
	}
	b.logger.Debugf("index query returned %d hits (total %d, truncated %v)",
		len(result.Hits), sr.Hits.Total.Value, result.Truncated)
	return result, nil
}

// BuildQuery constructs the search body for one invocation and reports
// whether the requested window had to be capped at the result ceiling.
// Exported so the filter semantics stay directly testable.
func BuildQuery(p backend.Params, window int) (map[string]any, bool) {
	var must []map[string]any
	var filter []map[string]any

	switch {
	case p.Query.ExplicitFieldQuery != "":
		// Explicit backend-native expression: pass through exactly once.
		expr := p.Query.ExplicitFieldQuery
		if p.Query.FreeText != "" {
			expr = p.Query.FreeText + " " + expr
		}
		must = append(must, map[string]any{
			"query_string": map[string]any{"query": expr},
		})
	case p.Query.FreeText != "":
		must = append(must, map[string]any{
			"multi_match": map[string]any{
				"query":  p.Query.FreeText,
				"fields": []string{"key^2", "content", "comment"},
			},
		})
	default:
		must = append(must, map[string]any{"match_all": map[string]any{}})
	}

	// Exact term on the dedicated ext field, leading dot included. Only
	// from heuristics: an explicit expression already carries the
	// constraint and must not be applied twice.
	if p.Query.ExplicitFieldQuery == "" && len(p.Query.Extensions) > 0 {
		filter = append(filter, map[string]any{
			"terms": map[string]any{"ext": p.Query.Extensions},
		})
	}
	if len(p.Buckets) > 0 {
		filter = append(filter, map[string]any{
			"terms": map[string]any{"bucket": p.Buckets},
		})
	}

	size := p.Fetch()
	capped := false
	if size > window {
		size = window
		capped = true
	}

	boolQuery := map[string]any{"must": must}
	if len(filter) > 0 {
		boolQuery["filter"] = filter
	}
	return map[string]any{
		"query": map[string]any{"bool": boolQuery},
		"size":  size,
	}, capped
}

// searchResponse is the subset of the Elasticsearch response shape the
// adapter consumes.
type searchResponse struct {
	Hits struct {
		Total struct {
			Value    int    `json:"value"`
			Relation string `json:"relation"`
		} `json:"total"`
		Hits []esHit `json:"hits"`
	} `json:"hits"`
}

type esHit struct {
	Index  string         `json:"_index"`
	Score  *float64       `json:"_score"`
	Source map[string]any `json:"_source"`
}

func (b *Backend) toHit(h esHit) (backend.Hit, bool) {
	key, _ := h.Source["key"].(string)
	if key == "" {
		return backend.Hit{}, false
	}
	bucket, _ := h.Source["bucket"].(string)
	if bucket == "" {
		// Per-bucket indexes: the index name is the bucket.
		bucket = h.Index
	}
	if bucket == "" {
		return backend.Hit{}, false
	}

	hit := backend.Hit{
		Kind:     backend.KindObject,
		Bucket:   bucket,
		Identity: key,
		Score:    h.Score,
		Source:   b.ID(),
		Raw:      h.Source,
	}
	if size, ok := h.Source["size"].(float64); ok {
		s := int64(size)
		hit.Size = &s
	}
	if lm, ok := h.Source["last_modified"].(string); ok {
		if t, err := time.Parse(time.RFC3339, lm); err == nil {
			hit.Modified = &t
		}
	}
	return hit, true
}

func (b *Backend) classifyStatus(status int, body string) *backend.Error {
	switch {
	case status == 401 || status == 403:
		return backend.NewError(b.ID(), backend.ErrAuth, "index returned %d", status)
	case status == 404,
		strings.Contains(body, "No mapping found"),
		strings.Contains(body, "parsing_exception"),
		strings.Contains(body, "index_not_found_exception"):
		return backend.NewError(b.ID(), backend.ErrSchemaMismatch, "index returned %d: %s", status, body)
	}
	return backend.NewError(b.ID(), backend.ErrUnavailable, "index returned %d: %s", status, body)
}

func intPtr(v int) *int { return &v }
