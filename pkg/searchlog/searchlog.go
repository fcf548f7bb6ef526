// Package searchlog persists one diagnostics row per search request in a
// local SQLite database. It exists for the fail-soft policy: when a
// response degrades because a backend failed, the log is how an operator
// later tells "zero matches" apart from "search was broken that afternoon"
// and whether the failure was an outage or a schema mismatch.
//
// Rows are diagnostics only. Results are never cached here.
package searchlog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/quiltcore/unisearch/pkg/log"
	"github.com/quiltcore/unisearch/pkg/search"
)

// Log records search diagnostics. Implements search.Recorder.
type Log struct {
	db     *sql.DB
	logger *log.Logger
}

// Row is one recorded search, as read back by Recent.
type Row struct {
	RequestID      string     `json:"request_id"`
	Query          string     `json:"query"`
	Scope          string     `json:"scope"`
	SearchType     string     `json:"search_type"`
	BackendsUsed   []string   `json:"backends_used"`
	BackendsFailed []FailLine `json:"backends_failed"`
	Hits           int        `json:"hits"`
	TotalEstimate  *int       `json:"total_estimate"`
	Truncated      bool       `json:"truncated"`
	DurationMS     int64      `json:"duration_ms"`
	When           time.Time  `json:"when"`
}

// FailLine is the persisted form of one backend failure.
type FailLine struct {
	Backend string `json:"backend"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Open creates (or opens) the log database at path.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening search log: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 30000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}

	schema := `CREATE TABLE IF NOT EXISTS searches (
		request_id TEXT PRIMARY KEY,
		query TEXT NOT NULL,
		scope TEXT NOT NULL,
		search_type TEXT NOT NULL,
		backends_used TEXT NOT NULL,
		backends_failed TEXT NOT NULL,
		hits INTEGER NOT NULL,
		total_estimate INTEGER,
		truncated INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		created_at TEXT NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating search log schema: %w", err)
	}

	return &Log{db: db, logger: log.For("searchlog")}, nil
}

// Record persists one entry. Failures are logged, not propagated: the
// diagnostics log must never fail a search that already succeeded.
func (l *Log) Record(e search.Entry) {
	used, err := json.Marshal(e.BackendsUsed)
	if err != nil {
		used = []byte("[]")
	}
	fails := make([]FailLine, 0, len(e.BackendsFailed))
	for _, f := range e.BackendsFailed {
		if f == nil {
			continue
		}
		fails = append(fails, FailLine{Backend: f.Backend, Kind: string(f.Kind), Message: f.Message})
	}
	failed, err := json.Marshal(fails)
	if err != nil {
		failed = []byte("[]")
	}

	_, err = l.db.Exec(`INSERT OR REPLACE INTO searches
		(request_id, query, scope, search_type, backends_used, backends_failed,
		 hits, total_estimate, truncated, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.Query, string(e.Scope), e.SearchType,
		string(used), string(failed), e.Hits, nullableInt(e.TotalEstimate),
		boolToInt(e.Truncated), e.Duration.Milliseconds(),
		e.When.UTC().Format(time.RFC3339Nano))
	if err != nil {
		l.logger.Warnf("recording search %s: %v", e.RequestID, err)
	}
}

// Recent returns the latest n recorded searches, newest first.
func (l *Log) Recent(n int) ([]Row, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := l.db.Query(`SELECT request_id, query, scope, search_type,
		backends_used, backends_failed, hits, total_estimate, truncated,
		duration_ms, created_at
		FROM searches ORDER BY created_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("querying search log: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []Row
	for rows.Next() {
		var r Row
		var used, failed, createdAt string
		var total sql.NullInt64
		var truncated int
		if err := rows.Scan(&r.RequestID, &r.Query, &r.Scope, &r.SearchType,
			&used, &failed, &r.Hits, &total, &truncated, &r.DurationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning search log row: %w", err)
		}
		if err := json.Unmarshal([]byte(used), &r.BackendsUsed); err != nil {
			r.BackendsUsed = nil
		}
		if err := json.Unmarshal([]byte(failed), &r.BackendsFailed); err != nil {
			r.BackendsFailed = nil
		}
		if total.Valid {
			v := int(total.Int64)
			r.TotalEstimate = &v
		}
		r.Truncated = truncated != 0
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			r.When = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
