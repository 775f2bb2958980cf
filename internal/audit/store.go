// Package audit persists actor-attributed events for every lifecycle
// transition. Attribution only; authorization happens upstream.
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"grimm.is/harrier/internal/clock"
)

// Event is a single audit log entry.
type Event struct {
	ID        int64          `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource"`
	Details   map[string]any `json:"details,omitempty"`
}

// Store provides persistent storage for audit events.
type Store struct {
	mu            sync.RWMutex
	db            *sql.DB
	retentionDays int
}

// NewStore opens or creates the audit database at dbPath.
func NewStore(dbPath string, retentionDays int) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			resource TEXT NOT NULL,
			details TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp);
		CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_events(actor);
		CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_events(action);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit table: %w", err)
	}

	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &Store{db: db, retentionDays: retentionDays}, nil
}

// Write persists an audit event. The timestamp defaults to now.
func (s *Store) Write(evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if evt.Timestamp.IsZero() {
		evt.Timestamp = clock.Now().UTC()
	}
	var details []byte
	if evt.Details != nil {
		var err error
		details, err = json.Marshal(evt.Details)
		if err != nil {
			details = []byte("{}")
		}
	}

	_, err := s.db.Exec(`
		INSERT INTO audit_events (timestamp, actor, action, resource, details)
		VALUES (?, ?, ?, ?, ?)`,
		evt.Timestamp, evt.Actor, evt.Action, evt.Resource, string(details))
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Query returns events in [start, end], optionally filtered by action
// and actor, newest first.
func (s *Store) Query(start, end time.Time, action, actor string, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, timestamp, actor, action, resource, details
		FROM audit_events WHERE timestamp >= ? AND timestamp <= ?`
	args := []any{start, end}
	if action != "" {
		query += " AND action = ?"
		args = append(args, action)
	}
	if actor != "" {
		query += " AND actor = ?"
		args = append(args, actor)
	}
	query += " ORDER BY timestamp DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var evt Event
		var details sql.NullString
		if err := rows.Scan(&evt.ID, &evt.Timestamp, &evt.Actor, &evt.Action, &evt.Resource, &details); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if details.Valid && details.String != "" {
			_ = json.Unmarshal([]byte(details.String), &evt.Details)
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

// Prune removes events older than the retention window.
func (s *Store) Prune() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := clock.Now().UTC().AddDate(0, 0, -s.retentionDays)
	res, err := s.db.Exec(`DELETE FROM audit_events WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune audit events: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
