package search

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseSearchParams parses HTTP query parameters into a Request. Missing
// or unparsable numeric parameters fall back to defaults; semantic
// validation (search type, scope, cursor) happens in Search so CLI and
// HTTP callers share it.
//
// Supported parameters:
//   - q: query string
//   - scope: catalog | bucket
//   - type: packages | objects | unified
//   - bucket: singular bucket filter
//   - buckets: plural bucket filter (repeatable or comma-separated);
//     both spellings are accepted and normalized identically
//   - ext: extension filter (repeatable or comma-separated)
//   - filter: backend-native filter expression, passed through verbatim
//   - backends: adapter override (repeatable or comma-separated)
//   - limit, offset: window over the merged result sequence
//   - cursor: continuation cursor from a previous response
func ParseSearchParams(values map[string][]string) (Request, error) {
	req := Request{Limit: DefaultLimit}

	first := func(key string) string {
		if v := values[key]; len(v) > 0 {
			return v[0]
		}
		return ""
	}
	list := func(key string) []string {
		var out []string
		for _, v := range values[key] {
			for _, part := range strings.Split(v, ",") {
				if part = strings.TrimSpace(part); part != "" {
					out = append(out, part)
				}
			}
		}
		return out
	}

	req.Query = first("q")
	req.SearchType = first("type")
	req.Cursor = first("cursor")
	req.Filters.Bucket = first("bucket")
	req.Filters.Buckets = list("buckets")
	req.Filters.Extensions = list("ext")
	req.Filters.Expression = first("filter")
	req.Backends = list("backends")

	switch scope := first("scope"); scope {
	case "":
		if req.Filters.Bucket != "" || len(req.Filters.Buckets) > 0 {
			req.Scope = ScopeBucket
		} else {
			req.Scope = ScopeCatalog
		}
	case string(ScopeCatalog), string(ScopeBucket):
		req.Scope = Scope(scope)
	default:
		return req, fmt.Errorf("%w: unsupported scope %q", ErrInvalidQuery, scope)
	}

	if v := first("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			req.Limit = parsed
		}
	}
	if v := first("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			req.Offset = parsed
		}
	}

	return req, nil
}
