// Package store persists query history in SQLite so past sessions survive
// restarts and the web UI can show recent activity.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"archagent/internal/logging"
)

// QueryStatus marks how a recorded query ended.
type QueryStatus string

const (
	StatusCompleted QueryStatus = "completed"
	StatusFailed    QueryStatus = "failed"
	StatusTimeout   QueryStatus = "timeout"
)

// QueryRecord is one processed query with its outcome.
type QueryRecord struct {
	ID         string      `json:"id"`
	Query      string      `json:"query"`
	Response   string      `json:"response,omitempty"`
	Status     QueryStatus `json:"status"`
	Error      string      `json:"error,omitempty"`
	DurationMs int64       `json:"duration_ms"`
	Diagrams   []string    `json:"diagrams,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Store provides SQLite-backed persistence for query history.
type Store struct {
	mu sync.RWMutex
	db *sql.DB
}

// Open opens or creates the history database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Get(logging.CategoryStore).Info("query history store opened at %s", dbPath)
	return s, nil
}

// initialize creates the database schema.
func (s *Store) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS queries (
			id TEXT PRIMARY KEY,
			query TEXT NOT NULL,
			response TEXT,
			status TEXT NOT NULL,
			error TEXT,
			duration_ms INTEGER DEFAULT 0,
			diagrams TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create queries table: %w", err)
	}

	_, _ = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_queries_created ON queries(created_at)`)
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Save records a finished query. An empty ID gets a fresh UUID; the record's
// ID is returned either way.
func (s *Store) Save(ctx context.Context, rec *QueryRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	diagramsJSON, err := json.Marshal(rec.Diagrams)
	if err != nil {
		return "", fmt.Errorf("failed to encode diagrams list: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO queries (id, query, response, status, error, duration_ms, diagrams, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Query, rec.Response, string(rec.Status), rec.Error, rec.DurationMs, string(diagramsJSON), rec.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("failed to save query: %w", err)
	}

	logging.Get(logging.CategoryStore).Debug("saved query %s status=%s", rec.ID, rec.Status)
	return rec.ID, nil
}

// Get returns one record by ID, or nil when absent.
func (s *Store) Get(ctx context.Context, id string) (*QueryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, query, response, status, error, duration_ms, diagrams, created_at
		FROM queries WHERE id = ?
	`, id)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// Recent returns the newest records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]QueryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query, response, status, error, duration_ms, diagrams, created_at
		FROM queries ORDER BY created_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []QueryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Stats summarizes the stored history.
type Stats struct {
	Total         int     `json:"total_queries"`
	Completed     int     `json:"completed"`
	Failed        int     `json:"failed"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

// Statistics aggregates the history table.
func (s *Store) Statistics(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats Stats
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status != 'completed' THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(duration_ms), 0)
		FROM queries
	`)
	if err := row.Scan(&stats.Total, &stats.Completed, &stats.Failed, &stats.AvgDurationMs); err != nil {
		return Stats{}, fmt.Errorf("failed to aggregate history: %w", err)
	}
	return stats, nil
}

// Prune deletes all but the newest keep records. Returns rows removed.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if keep <= 0 {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM queries WHERE id NOT IN (
			SELECT id FROM queries ORDER BY created_at DESC, id DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Get(logging.CategoryStore).Info("pruned %d history records", n)
	}
	return n, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*QueryRecord, error) {
	var rec QueryRecord
	var status, diagramsJSON string
	if err := row.Scan(&rec.ID, &rec.Query, &rec.Response, &status, &rec.Error, &rec.DurationMs, &diagramsJSON, &rec.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan query record: %w", err)
	}
	rec.Status = QueryStatus(status)
	if diagramsJSON != "" {
		if err := json.Unmarshal([]byte(diagramsJSON), &rec.Diagrams); err != nil {
			logging.Get(logging.CategoryStore).Warn("bad diagrams payload for %s: %v", rec.ID, err)
		}
	}
	return &rec, nil
}
