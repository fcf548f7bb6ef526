// Package api exposes the unified search service over HTTP: a JSON
// search endpoint, a WebSocket variant that streams per-backend results
// as they settle, and introspection endpoints for backends and the
// diagnostics log.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/klauspost/compress/gzhttp"

	"github.com/quiltcore/unisearch/pkg/log"
	"github.com/quiltcore/unisearch/pkg/search"
	"github.com/quiltcore/unisearch/pkg/searchlog"
)

// Server serves the search API. The service is obtained through a
// function so config hot-reload can swap the backend registry without
// restarting the listener.
type Server struct {
	service func() *search.Service
	slog    *searchlog.Log
	logger  *log.Logger
}

// NewServer builds the API server. slog may be nil when the diagnostics
// log is disabled.
func NewServer(service func() *search.Service, slog *searchlog.Log) *Server {
	return &Server{
		service: service,
		slog:    slog,
		logger:  log.For("api"),
	}
}

// Handler returns the full middleware-wrapped handler: routes, CORS,
// gzip compression.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return gzhttp.GzipHandler(CorsMiddleware(mux))
}

// RegisterRoutes attaches the API routes to mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/search", s.HandleSearch)
	mux.HandleFunc("GET /api/search/stream", s.HandleSearchStream)
	mux.HandleFunc("GET /api/backends", s.HandleBackends)
	mux.HandleFunc("GET /api/searches", s.HandleRecentSearches)
	mux.HandleFunc("GET /health", s.HandleHealth)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Errorf("encoding JSON response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, errName, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: errName, Message: message})
}

// CorsMiddleware allows cross-origin reads of the API.
func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
