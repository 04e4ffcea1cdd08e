package state

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/legio-dev/legio/internal/db"
	"github.com/legio-dev/legio/internal/errs"
	"github.com/legio-dev/legio/internal/util"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    capability TEXT NOT NULL,
    worktree TEXT NOT NULL DEFAULT '',
    branch TEXT NOT NULL DEFAULT '',
    task_id TEXT NOT NULL DEFAULT '',
    tmux_session TEXT NOT NULL DEFAULT '',
    state TEXT NOT NULL,
    pid INTEGER NOT NULL DEFAULT 0,
    parent TEXT NOT NULL DEFAULT '',
    depth INTEGER NOT NULL DEFAULT 0,
    run_id TEXT NOT NULL DEFAULT '',
    escalation INTEGER NOT NULL DEFAULT 0,
    started_at INTEGER NOT NULL,
    last_activity INTEGER NOT NULL,
    stalled_since INTEGER NOT NULL DEFAULT 0,
    stopped_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sessions_name ON sessions(name);
CREATE INDEX IF NOT EXISTS idx_sessions_run ON sessions(run_id);
CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state);

CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    started_at INTEGER NOT NULL,
    ended_at INTEGER NOT NULL DEFAULT 0,
    coordinator_id TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

// Store holds sessions and runs in sessions.db.
type Store struct {
	db *sql.DB

	// legacyPath, when set, is a pre-sqlite sessions.json merged into
	// reads for backward compatibility. Never written.
	legacyPath string
}

// Open opens (creating if needed) the store at path.
func Open(path string) (*Store, error) {
	handle, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if _, err := handle.Exec(schema); err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("creating sessions schema: %w", err)
	}
	return &Store{db: handle}, nil
}

// SetLegacyPath enables read-only merging of a legacy sessions.json.
func (s *Store) SetLegacyPath(path string) { s.legacyPath = path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

const sessionCols = `id, name, capability, worktree, branch, task_id, tmux_session,
    state, pid, parent, depth, run_id, escalation,
    started_at, last_activity, stalled_since, stopped_at`

// Upsert inserts or replaces a session by id.
func (s *Store) Upsert(sess *Session) error {
	if sess.ID == "" {
		return errs.Validationf("session id required")
	}
	_, err := s.db.Exec(`INSERT OR REPLACE INTO sessions (`+sessionCols+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Name, string(sess.Capability), sess.Worktree, sess.Branch,
		sess.TaskID, sess.TmuxSession, string(sess.State), sess.Pid, sess.Parent,
		sess.Depth, sess.RunID, sess.Escalation,
		toUnix(sess.StartedAt), toUnix(sess.LastActivity),
		toUnix(sess.StalledSince), toUnix(sess.StoppedAt))
	if err != nil {
		return fmt.Errorf("upserting session %s: %w", sess.Name, err)
	}
	return nil
}

// ByName returns the session for an agent name, preferring the
// non-terminal one; falls back to the most recently started.
func (s *Store) ByName(name string) (*Session, error) {
	rows, err := s.db.Query(`SELECT `+sessionCols+` FROM sessions
        WHERE name = ? ORDER BY started_at DESC`, name)
	if err != nil {
		return nil, fmt.Errorf("querying session %s: %w", name, err)
	}
	defer rows.Close()

	var newest *Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		if newest == nil {
			newest = sess
		}
		if sess.Active() {
			return sess, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if newest == nil {
		return nil, errs.NotFound("session", name)
	}
	return newest, nil
}

// ByID returns the session with the given id.
func (s *Store) ByID(id string) (*Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionCols+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("session", id)
	}
	return sess, err
}

// All returns every session, newest first, merged with any legacy
// sessions.json entries.
func (s *Store) All() ([]*Session, error) {
	sessions, err := s.list(`SELECT `+sessionCols+` FROM sessions ORDER BY started_at DESC`, nil)
	if err != nil {
		return nil, err
	}
	return s.mergeLegacy(sessions), nil
}

// Active returns sessions whose state is not terminal.
func (s *Store) Active() ([]*Session, error) {
	return s.list(`SELECT `+sessionCols+` FROM sessions
        WHERE state NOT IN (?, ?) ORDER BY started_at ASC`,
		[]interface{}{string(StateCompleted), string(StateZombie)})
}

// ByRun returns sessions belonging to a run.
func (s *Store) ByRun(runID string) ([]*Session, error) {
	return s.list(`SELECT `+sessionCols+` FROM sessions
        WHERE run_id = ? ORDER BY started_at ASC`, []interface{}{runID})
}

// ChildrenOf returns the active sessions whose parent is the given agent.
func (s *Store) ChildrenOf(parent string) ([]*Session, error) {
	return s.list(`SELECT `+sessionCols+` FROM sessions
        WHERE parent = ? AND state NOT IN (?, ?) ORDER BY started_at ASC`,
		[]interface{}{parent, string(StateCompleted), string(StateZombie)})
}

// Touch records activity for a session and promotes booting to working.
func (s *Store) Touch(id string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE sessions SET last_activity = ?,
        state = CASE WHEN state = ? THEN ? ELSE state END,
        stalled_since = 0, escalation = 0
        WHERE id = ? AND state NOT IN (?, ?)`,
		toUnix(at), string(StateBooting), string(StateWorking),
		id, string(StateCompleted), string(StateZombie))
	if err != nil {
		return fmt.Errorf("touching session %s: %w", id, err)
	}
	return nil
}

// MarkStalled transitions a live session to stalled, setting stalledSince
// and the initial escalation level.
func (s *Store) MarkStalled(id string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE sessions SET state = ?, stalled_since = ?, escalation = 1
        WHERE id = ? AND state NOT IN (?, ?)`,
		string(StateStalled), toUnix(at), id,
		string(StateCompleted), string(StateZombie))
	if err != nil {
		return fmt.Errorf("stalling session %s: %w", id, err)
	}
	return nil
}

// SetEscalation updates a session's escalation level.
func (s *Store) SetEscalation(id string, level int) error {
	_, err := s.db.Exec(`UPDATE sessions SET escalation = ? WHERE id = ?`, level, id)
	if err != nil {
		return fmt.Errorf("setting escalation for %s: %w", id, err)
	}
	return nil
}

// ResetStall clears the stall condition (triage verdict: extend).
func (s *Store) ResetStall(id string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE sessions SET stalled_since = ?, state = ?
        WHERE id = ? AND state = ?`,
		toUnix(at), string(StateWorking), id, string(StateStalled))
	if err != nil {
		return fmt.Errorf("resetting stall for %s: %w", id, err)
	}
	return nil
}

// MarkEnded moves a session to a terminal state. Idempotent: a session
// already terminal keeps its original state and stop time.
func (s *Store) MarkEnded(id string, terminal SessionState, at time.Time) error {
	if !terminal.Terminal() {
		return errs.Validationf("state %s is not terminal", terminal)
	}
	_, err := s.db.Exec(`UPDATE sessions SET state = ?, stopped_at = ?, last_activity = ?
        WHERE id = ? AND state NOT IN (?, ?)`,
		string(terminal), toUnix(at), toUnix(at), id,
		string(StateCompleted), string(StateZombie))
	if err != nil {
		return fmt.Errorf("ending session %s: %w", id, err)
	}
	return nil
}

// DeleteSession removes a session record. Only legio clean uses this.
func (s *Store) DeleteSession(id string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	return nil
}

// PurgeSessions deletes every session row.
func (s *Store) PurgeSessions() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM sessions`)
	if err != nil {
		return 0, fmt.Errorf("purging sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CreateRun starts a new run. Fails while another run is active.
func (s *Store) CreateRun(coordinatorID string) (*Run, error) {
	if active, err := s.ActiveRun(); err == nil && active != nil {
		return nil, errs.Validationf("run %s is already active", active.ID)
	} else if err != nil && !errs.IsNotFound(err) {
		return nil, err
	}

	run := &Run{
		ID:            "run-" + uuid.NewString()[:8],
		StartedAt:     time.Now(),
		CoordinatorID: coordinatorID,
		Status:        RunActive,
	}
	_, err := s.db.Exec(`INSERT INTO runs (id, started_at, ended_at, coordinator_id, status)
        VALUES (?, ?, 0, ?, ?)`,
		run.ID, toUnix(run.StartedAt), run.CoordinatorID, string(run.Status))
	if err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}
	return run, nil
}

// Run returns the run with the given id.
func (s *Store) Run(id string) (*Run, error) {
	row := s.db.QueryRow(`SELECT id, started_at, ended_at, coordinator_id, status
        FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("run", id)
	}
	return run, err
}

// ActiveRun returns the single active run, or NotFound.
func (s *Store) ActiveRun() (*Run, error) {
	row := s.db.QueryRow(`SELECT id, started_at, ended_at, coordinator_id, status
        FROM runs WHERE status = ? ORDER BY started_at DESC LIMIT 1`, string(RunActive))
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("run", "active")
	}
	return run, err
}

// ListRuns returns runs newest first, optionally filtered by status.
func (s *Store) ListRuns(status RunStatus, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows *sql.Rows
		err  error
	)
	if status != "" {
		rows, err = s.db.Query(`SELECT id, started_at, ended_at, coordinator_id, status
            FROM runs WHERE status = ? ORDER BY started_at DESC LIMIT ?`, string(status), limit)
	} else {
		rows, err = s.db.Query(`SELECT id, started_at, ended_at, coordinator_id, status
            FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// EndRun marks a run ended with the given status.
func (s *Store) EndRun(id string, status RunStatus) error {
	if status == RunActive {
		return errs.Validationf("cannot end a run with status active")
	}
	res, err := s.db.Exec(`UPDATE runs SET status = ?, ended_at = ? WHERE id = ?`,
		string(status), toUnix(time.Now()), id)
	if err != nil {
		return fmt.Errorf("ending run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFound("run", id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (*Session, error) {
	var sess Session
	var capability, st string
	var started, activity, stalled, stopped int64
	err := row.Scan(&sess.ID, &sess.Name, &capability, &sess.Worktree, &sess.Branch,
		&sess.TaskID, &sess.TmuxSession, &st, &sess.Pid, &sess.Parent,
		&sess.Depth, &sess.RunID, &sess.Escalation,
		&started, &activity, &stalled, &stopped)
	if err != nil {
		return nil, err
	}
	sess.Capability = Capability(capability)
	sess.State = SessionState(st)
	sess.StartedAt = fromUnix(started)
	sess.LastActivity = fromUnix(activity)
	sess.StalledSince = fromUnix(stalled)
	sess.StoppedAt = fromUnix(stopped)
	return &sess, nil
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var status string
	var started, ended int64
	if err := row.Scan(&run.ID, &started, &ended, &run.CoordinatorID, &status); err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)
	run.StartedAt = fromUnix(started)
	run.EndedAt = fromUnix(ended)
	return &run, nil
}

func (s *Store) list(query string, args []interface{}) ([]*Session, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// mergeLegacy appends sessions from a legacy sessions.json that are not
// already present in the database.
func (s *Store) mergeLegacy(sessions []*Session) []*Session {
	if s.legacyPath == "" {
		return sessions
	}
	var legacy []*Session
	if err := util.ReadJSON(s.legacyPath, &legacy); err != nil {
		if !os.IsNotExist(err) {
			// A corrupt legacy file must not break reads.
			return sessions
		}
		return sessions
	}

	seen := make(map[string]bool, len(sessions))
	for _, sess := range sessions {
		seen[sess.ID] = true
	}
	for _, sess := range legacy {
		if sess.ID != "" && !seen[sess.ID] {
			sessions = append(sessions, sess)
		}
	}
	return sessions
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func fromUnix(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMicro(v)
}
