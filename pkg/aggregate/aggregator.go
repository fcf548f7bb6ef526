// Package aggregate merges per-backend search results into one
// deduplicated, ranked, paginated response. It builds a new response
// rather than mutating the incoming results.
package aggregate

import (
	"sort"

	"github.com/quiltcore/unisearch/pkg/backend"
)

// Response is the unified search response assembled from all contributing
// backends.
type Response struct {
	// Hits is the merged, ordered hit sequence, at most Limit long.
	Hits []backend.Hit `json:"hits"`

	// TotalEstimate is the sum of the contributing backends' reported
	// totals, nil when no backend reported one. Duplicates removed during
	// merging do not reduce it.
	TotalEstimate *int `json:"total_estimate"`

	// Truncated is true when any contributing backend hit a hard
	// result-window limit before exhausting matches, or when the merged
	// sequence extended past the returned window.
	Truncated bool `json:"truncated"`

	// BackendsUsed lists the adapters that answered successfully, in
	// dispatch order.
	BackendsUsed []string `json:"backends_used"`

	// BackendsFailed records every non-fatal backend failure. An empty
	// hit list with entries here means "search degraded", not "no
	// matches"; callers must be able to tell the two apart.
	BackendsFailed []*backend.Error `json:"backends_failed"`

	// Cursor continues pagination. Opaque to the caller; empty when the
	// merged sequence is exhausted.
	Cursor string `json:"cursor,omitempty"`
}

// Merge combines backend results into one response, applying the window
// globally:
//
//  1. Deduplicate by (kind, bucket, identity); first occurrence wins.
//  2. Order by score descending; unscored hits after scored ones, by
//     modified time descending; ties broken by source backend then
//     identity so repeated queries return identical sequences.
//  3. Apply offset/limit to the merged ordered sequence, never
//     per-backend, so one backend's page boundary cannot truncate
//     another's visible results.
func Merge(results []*backend.Result, limit, offset int) *Response {
	resp := &Response{
		Hits:           []backend.Hit{},
		BackendsUsed:   []string{},
		BackendsFailed: []*backend.Error{},
	}
	if limit <= 0 {
		limit = 30
	}
	if offset < 0 {
		offset = 0
	}

	var merged []backend.Hit
	seen := make(map[string]bool)
	for _, r := range results {
		if r == nil {
			continue
		}
		if r.Err != nil {
			resp.BackendsFailed = append(resp.BackendsFailed, r.Err)
			continue
		}
		resp.BackendsUsed = append(resp.BackendsUsed, r.Backend)
		if r.Truncated {
			resp.Truncated = true
		}
		if r.TotalEstimate != nil {
			if resp.TotalEstimate == nil {
				resp.TotalEstimate = new(int)
			}
			*resp.TotalEstimate += *r.TotalEstimate
		}
		for _, h := range r.Hits {
			key := h.DedupKey()
			if seen[key] {
				// Duplicate across backends; the first occurrence wins
				// and the estimate is left alone.
				continue
			}
			seen[key] = true
			merged = append(merged, h)
		}
	}

	orderHits(merged)

	if len(merged) > offset+limit {
		// More merged hits exist than the window can return.
		resp.Truncated = true
	}

	if offset < len(merged) {
		end := offset + limit
		if end > len(merged) {
			end = len(merged)
		}
		resp.Hits = merged[offset:end]
	}

	next := offset + len(resp.Hits)
	more := next < len(merged)
	if !more && len(resp.Hits) == limit {
		// The merged sequence is exhausted, but backends only fetch up to
		// offset+limit hits: a full page with a larger reported total (or
		// a truncation flag) means more matches sit behind the window.
		more = resp.Truncated || (resp.TotalEstimate != nil && next < *resp.TotalEstimate)
	}
	if more {
		resp.Cursor = encodeCursor(cursor{Offset: next})
	}
	return resp
}

// orderHits sorts merged hits per the ordering contract. The sort is the
// only ordering guarantee visible to callers; backend completion order
// never matters.
func orderHits(hits []backend.Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		switch {
		case a.Score != nil && b.Score == nil:
			return true
		case a.Score == nil && b.Score != nil:
			return false
		case a.Score != nil && b.Score != nil && *a.Score != *b.Score:
			return *a.Score > *b.Score
		}
		am, bm := a.Modified, b.Modified
		switch {
		case am != nil && bm == nil:
			return true
		case am == nil && bm != nil:
			return false
		case am != nil && bm != nil && !am.Equal(*bm):
			return am.After(*bm)
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.Identity < b.Identity
	})
}
