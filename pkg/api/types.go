package api

import (
	"time"

	"github.com/quiltcore/unisearch/pkg/searchlog"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Backends  []string  `json:"backends"`
}

type BackendsResponse struct {
	Backends []string `json:"backends"`
	Count    int      `json:"count"`
}

type RecentSearchesResponse struct {
	Searches []searchlog.Row `json:"searches"`
	Count    int             `json:"count"`
}
