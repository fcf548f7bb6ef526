package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/quiltcore/unisearch/pkg/search"
	"github.com/quiltcore/unisearch/pkg/version"
)

// HandleSearch serves GET /api/search. Degraded responses (some backends
// failed) still return 200 with backends_failed populated; only
// request-level failures map to error statuses.
func (s *Server) HandleSearch(w http.ResponseWriter, r *http.Request) {
	req, err := search.ParseSearchParams(r.URL.Query())
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid parameters", err.Error())
		return
	}

	resp, err := s.service().Search(r.Context(), req)
	if err != nil {
		s.writeSearchError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// HandleBackends serves GET /api/backends.
func (s *Server) HandleBackends(w http.ResponseWriter, r *http.Request) {
	ids := s.service().BackendIDs()
	s.writeJSON(w, http.StatusOK, BackendsResponse{Backends: ids, Count: len(ids)})
}

// HandleRecentSearches serves GET /api/searches from the diagnostics log.
func (s *Server) HandleRecentSearches(w http.ResponseWriter, r *http.Request) {
	if s.slog == nil {
		s.writeError(w, http.StatusNotFound, "Search log disabled",
			"no search_log path configured")
		return
	}
	n := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			n = parsed
		}
	}
	rows, err := s.slog.Recent(n)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Search log unavailable", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, RecentSearchesResponse{Searches: rows, Count: len(rows)})
}

// HandleHealth serves GET /health.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Version:   version.APIVersion(),
		Backends:  s.service().BackendIDs(),
	})
}

// writeSearchError maps the request-level failure classes onto HTTP
// statuses.
func (s *Server) writeSearchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, search.ErrAuthenticationRequired):
		s.writeError(w, http.StatusUnauthorized, "Authentication required", err.Error())
	case errors.Is(err, search.ErrInvalidQuery):
		s.writeError(w, http.StatusBadRequest, "Invalid query", err.Error())
	case errors.Is(err, search.ErrAllBackendsFailed):
		s.writeError(w, http.StatusBadGateway, "All backends failed", err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, "Search failed", err.Error())
	}
}
