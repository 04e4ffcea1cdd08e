// Package eventlog is the append-only event store backing the activity
// feed, the logs commands, and the observability snapshot.
//
// The external agent runtime is the only producer of tool events: it
// invokes legio log subcommands at its hook points, which insert here.
// Events are never updated or deleted except by whole-store purge.
package eventlog

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/legio-dev/legio/internal/db"
)

// Event types.
const (
	TypeToolStart    = "tool_start"
	TypeToolEnd      = "tool_end"
	TypeSessionStart = "session_start"
	TypeSessionEnd   = "session_end"
	TypeError        = "error"
	TypeCustom       = "custom"
)

// Levels.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Event is one append-only observation.
type Event struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	RunID      string    `json:"runId,omitempty"`
	Agent      string    `json:"agent,omitempty"`
	SessionID  string    `json:"sessionId,omitempty"`
	Type       string    `json:"type"`
	Tool       string    `json:"tool,omitempty"`
	ToolArgs   string    `json:"toolArgs,omitempty"`
	DurationMs int64     `json:"durationMs,omitempty"`
	Level      string    `json:"level"`
	Data       string    `json:"data,omitempty"`
}

// Query bounds a read. Zero values mean unbounded; Limit defaults to 200.
type Query struct {
	Since time.Time
	Until time.Time
	Limit int
	Level string
}

// ToolStat aggregates one tool's usage.
type ToolStat struct {
	Tool  string  `json:"tool"`
	Count int64   `json:"count"`
	AvgMs float64 `json:"avgMs"`
	MaxMs int64   `json:"maxMs"`
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ts INTEGER NOT NULL,
    run_id TEXT NOT NULL DEFAULT '',
    agent TEXT NOT NULL DEFAULT '',
    session_id TEXT NOT NULL DEFAULT '',
    type TEXT NOT NULL,
    tool TEXT NOT NULL DEFAULT '',
    tool_args TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL DEFAULT 0,
    level TEXT NOT NULL DEFAULT 'info',
    data TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_events_agent_ts ON events(agent, ts);
CREATE INDEX IF NOT EXISTS idx_events_run_ts ON events(run_id, ts);
CREATE INDEX IF NOT EXISTS idx_events_level_ts ON events(level, ts);
CREATE INDEX IF NOT EXISTS idx_events_type_ts ON events(type, ts);
`

// Store is the sqlite-backed event log.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the event store at path.
func Open(path string) (*Store, error) {
	handle, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if _, err := handle.Exec(schema); err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("creating events schema: %w", err)
	}
	return &Store{db: handle}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Insert appends an event. A zero timestamp is stamped now. The stored
// timestamp has microsecond resolution so insertion order is total.
func (s *Store) Insert(e *Event) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	if e.Level == "" {
		e.Level = LevelInfo
	}

	res, err := s.db.Exec(`INSERT INTO events
        (ts, run_id, agent, session_id, type, tool, tool_args, duration_ms, level, data)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.UnixMicro(), e.RunID, e.Agent, e.SessionID, e.Type,
		e.Tool, e.ToolArgs, e.DurationMs, e.Level, e.Data)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	e.ID, _ = res.LastInsertId()
	e.Timestamp = ts
	return nil
}

// ByAgent returns an agent's events ascending by time.
func (s *Store) ByAgent(agent string, q Query) ([]*Event, error) {
	return s.query("agent = ?", []interface{}{agent}, q)
}

// ByRun returns a run's events ascending by time.
func (s *Store) ByRun(runID string, q Query) ([]*Event, error) {
	return s.query("run_id = ?", []interface{}{runID}, q)
}

// Timeline returns all events ascending by time.
func (s *Store) Timeline(q Query) ([]*Event, error) {
	return s.query("", nil, q)
}

// Errors returns error-type events ascending by time.
func (s *Store) Errors(q Query) ([]*Event, error) {
	return s.query("type = ?", []interface{}{TypeError}, q)
}

func (s *Store) query(where string, args []interface{}, q Query) ([]*Event, error) {
	var conds []string
	if where != "" {
		conds = append(conds, where)
	}
	if !q.Since.IsZero() {
		conds = append(conds, "ts >= ?")
		args = append(args, q.Since.UnixMicro())
	}
	if !q.Until.IsZero() {
		conds = append(conds, "ts <= ?")
		args = append(args, q.Until.UnixMicro())
	}
	if q.Level != "" {
		conds = append(conds, "level = ?")
		args = append(args, q.Level)
	}

	sqlText := "SELECT id, ts, run_id, agent, session_id, type, tool, tool_args, duration_ms, level, data FROM events"
	if len(conds) > 0 {
		sqlText += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 200
	}
	sqlText += " ORDER BY ts ASC, id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var ts int64
		if err := rows.Scan(&e.ID, &ts, &e.RunID, &e.Agent, &e.SessionID,
			&e.Type, &e.Tool, &e.ToolArgs, &e.DurationMs, &e.Level, &e.Data); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.Timestamp = time.UnixMicro(ts)
		events = append(events, &e)
	}
	return events, rows.Err()
}

// ToolStats aggregates tool_end events per tool name: invocation count,
// average and max duration.
func (s *Store) ToolStats(agent string, since time.Time) ([]ToolStat, error) {
	conds := []string{"type = ?", "tool != ''"}
	args := []interface{}{TypeToolEnd}
	if agent != "" {
		conds = append(conds, "agent = ?")
		args = append(args, agent)
	}
	if !since.IsZero() {
		conds = append(conds, "ts >= ?")
		args = append(args, since.UnixMicro())
	}

	sqlText := `SELECT tool, COUNT(*), AVG(duration_ms), MAX(duration_ms)
        FROM events WHERE ` + strings.Join(conds, " AND ") + `
        GROUP BY tool ORDER BY COUNT(*) DESC`

	rows, err := s.db.Query(sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tool stats: %w", err)
	}
	defer rows.Close()

	var stats []ToolStat
	for rows.Next() {
		var st ToolStat
		if err := rows.Scan(&st.Tool, &st.Count, &st.AvgMs, &st.MaxMs); err != nil {
			return nil, fmt.Errorf("scanning tool stat: %w", err)
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// Purge deletes every event. Used only by legio clean.
func (s *Store) Purge() (int64, error) {
	res, err := s.db.Exec("DELETE FROM events")
	if err != nil {
		return 0, fmt.Errorf("purging events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
