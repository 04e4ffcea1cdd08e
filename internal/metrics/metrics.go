// Package metrics persists periodic orchestration snapshots for trend
// queries.
package metrics

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/legio-dev/legio/internal/db"
)

// Snapshot is one recorded measurement of the orchestration.
type Snapshot struct {
	ID             int64     `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	TotalSessions  int       `json:"totalSessions"`
	ActiveSessions int       `json:"activeSessions"`
	AvgDurationMs  float64   `json:"avgDurationMs"`
	UnreadMail     int       `json:"unreadMail"`
	QueueDepth     int       `json:"queueDepth"`
}

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ts INTEGER NOT NULL,
    total_sessions INTEGER NOT NULL DEFAULT 0,
    active_sessions INTEGER NOT NULL DEFAULT 0,
    avg_duration_ms REAL NOT NULL DEFAULT 0,
    unread_mail INTEGER NOT NULL DEFAULT 0,
    queue_depth INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_snapshots_ts ON snapshots(ts);
`

// Store is the sqlite-backed metrics store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the metrics store at path.
func Open(path string) (*Store, error) {
	handle, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if _, err := handle.Exec(schema); err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("creating metrics schema: %w", err)
	}
	return &Store{db: handle}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Record appends a snapshot.
func (s *Store) Record(snap *Snapshot) error {
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now()
	}
	res, err := s.db.Exec(`INSERT INTO snapshots
        (ts, total_sessions, active_sessions, avg_duration_ms, unread_mail, queue_depth)
        VALUES (?, ?, ?, ?, ?, ?)`,
		snap.Timestamp.UnixMicro(), snap.TotalSessions, snap.ActiveSessions,
		snap.AvgDurationMs, snap.UnreadMail, snap.QueueDepth)
	if err != nil {
		return fmt.Errorf("recording metrics snapshot: %w", err)
	}
	snap.ID, _ = res.LastInsertId()
	return nil
}

// List returns snapshots newest first.
func (s *Store) List(limit int) ([]*Snapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT id, ts, total_sessions, active_sessions,
        avg_duration_ms, unread_mail, queue_depth
        FROM snapshots ORDER BY ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing metrics snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*Snapshot
	for rows.Next() {
		var snap Snapshot
		var ts int64
		err := rows.Scan(&snap.ID, &ts, &snap.TotalSessions, &snap.ActiveSessions,
			&snap.AvgDurationMs, &snap.UnreadMail, &snap.QueueDepth)
		if err != nil {
			return nil, err
		}
		snap.Timestamp = time.UnixMicro(ts)
		snaps = append(snaps, &snap)
	}
	return snaps, rows.Err()
}

// Purge deletes every snapshot. Used only by legio clean.
func (s *Store) Purge() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM snapshots`)
	if err != nil {
		return 0, fmt.Errorf("purging metrics: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
