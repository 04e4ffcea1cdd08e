// Package mergeq is the durable FIFO queue of branches awaiting
// integration.
//
// Entries are visible to a second process as soon as they commit; the
// queue file is shared between the server and CLI invocations.
package mergeq

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/legio-dev/legio/internal/db"
	"github.com/legio-dev/legio/internal/errs"
)

// Status of a queue entry.
type Status string

const (
	StatusPending   Status = "pending"
	StatusMerging   Status = "merging"
	StatusMerged    Status = "merged"
	StatusFailed    Status = "failed"
	StatusAbandoned Status = "abandoned"
)

// Tier names the resolution strategy that settled an entry.
type Tier string

const (
	TierCleanMerge  Tier = "clean-merge"
	TierAutoResolve Tier = "auto-resolve"
	TierReimagine   Tier = "reimagine"
	TierManual      Tier = "manual"
)

// Entry is one queued branch.
type Entry struct {
	Branch        string    `json:"branch"`
	TaskID        string    `json:"taskId,omitempty"`
	Agent         string    `json:"agent,omitempty"`
	FilesModified []string  `json:"filesModified,omitempty"`
	EnqueuedAt    time.Time `json:"enqueuedAt"`
	Status        Status    `json:"status"`
	ResolvedTier  Tier      `json:"resolvedTier,omitempty"`
}

const schema = `
CREATE TABLE IF NOT EXISTS merge_queue (
    branch TEXT PRIMARY KEY,
    task_id TEXT NOT NULL DEFAULT '',
    agent TEXT NOT NULL DEFAULT '',
    files_modified TEXT NOT NULL DEFAULT '[]',
    enqueued_at INTEGER NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    resolved_tier TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_merge_queue_status ON merge_queue(status, enqueued_at);
`

// Queue is the sqlite-backed merge queue.
type Queue struct {
	db *sql.DB
}

// Open opens (creating if needed) the queue at path.
func Open(path string) (*Queue, error) {
	handle, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if _, err := handle.Exec(schema); err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("creating merge queue schema: %w", err)
	}
	return &Queue{db: handle}, nil
}

// Close releases the database handle.
func (q *Queue) Close() error { return q.db.Close() }

// Enqueue inserts a pending entry. A branch already pending or merging
// cannot be enqueued twice; a settled branch re-enters the queue fresh.
func (q *Queue) Enqueue(e *Entry) (*Entry, error) {
	if e.Branch == "" {
		return nil, errs.Validationf("branch required")
	}

	existing, err := q.byBranch(e.Branch)
	if err != nil && !errs.IsNotFound(err) {
		return nil, err
	}
	if existing != nil {
		if existing.Status == StatusPending || existing.Status == StatusMerging {
			return nil, errs.Validationf("branch %s is already queued (%s)", e.Branch, existing.Status)
		}
		if _, err := q.db.Exec(`DELETE FROM merge_queue WHERE branch = ?`, e.Branch); err != nil {
			return nil, fmt.Errorf("replacing settled entry for %s: %w", e.Branch, err)
		}
	}

	e.Status = StatusPending
	e.ResolvedTier = ""
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = time.Now()
	}
	files, _ := json.Marshal(e.FilesModified)

	_, err = q.db.Exec(`INSERT INTO merge_queue
        (branch, task_id, agent, files_modified, enqueued_at, status, resolved_tier)
        VALUES (?, ?, ?, ?, ?, ?, '')`,
		e.Branch, e.TaskID, e.Agent, string(files), e.EnqueuedAt.UnixMicro(), string(e.Status))
	if err != nil {
		return nil, fmt.Errorf("enqueueing %s: %w", e.Branch, err)
	}
	return e, nil
}

// Peek returns the earliest pending entry without mutating it, or
// NotFound when the queue is empty.
func (q *Queue) Peek() (*Entry, error) {
	row := q.db.QueryRow(`SELECT ` + cols + ` FROM merge_queue
        WHERE status = 'pending' ORDER BY enqueued_at ASC LIMIT 1`)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("merge queue entry", "pending")
	}
	return e, err
}

// Dequeue returns the earliest pending entry, atomically marking it
// merging. NotFound when nothing is pending.
func (q *Queue) Dequeue() (*Entry, error) {
	tx, err := q.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("starting dequeue: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRow(`SELECT ` + cols + ` FROM merge_queue
        WHERE status = 'pending' ORDER BY enqueued_at ASC LIMIT 1`)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("merge queue entry", "pending")
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(`UPDATE merge_queue SET status = 'merging' WHERE branch = ?`, e.Branch); err != nil {
		return nil, fmt.Errorf("claiming %s: %w", e.Branch, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing dequeue: %w", err)
	}
	e.Status = StatusMerging
	return e, nil
}

// List returns entries in FIFO order, optionally filtered by status.
func (q *Queue) List(status Status) ([]*Entry, error) {
	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = q.db.Query(`SELECT `+cols+` FROM merge_queue
            WHERE status = ? ORDER BY enqueued_at ASC`, string(status))
	} else {
		rows, err = q.db.Query(`SELECT ` + cols + ` FROM merge_queue ORDER BY enqueued_at ASC`)
	}
	if err != nil {
		return nil, fmt.Errorf("listing merge queue: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpdateStatus settles an entry, optionally recording the resolving tier.
// Unknown branches are an error.
func (q *Queue) UpdateStatus(branch string, status Status, tier Tier) error {
	res, err := q.db.Exec(`UPDATE merge_queue SET status = ?, resolved_tier = ?
        WHERE branch = ?`, string(status), string(tier), branch)
	if err != nil {
		return fmt.Errorf("updating %s: %w", branch, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFound("merge queue entry", branch)
	}
	return nil
}

// Purge deletes every entry. Used only by legio clean.
func (q *Queue) Purge() (int64, error) {
	res, err := q.db.Exec(`DELETE FROM merge_queue`)
	if err != nil {
		return 0, fmt.Errorf("purging merge queue: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

const cols = `branch, task_id, agent, files_modified, enqueued_at, status, resolved_tier`

func (q *Queue) byBranch(branch string) (*Entry, error) {
	row := q.db.QueryRow(`SELECT `+cols+` FROM merge_queue WHERE branch = ?`, branch)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("merge queue entry", branch)
	}
	return e, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (*Entry, error) {
	var e Entry
	var files, status, tier string
	var enqueued int64
	if err := row.Scan(&e.Branch, &e.TaskID, &e.Agent, &files, &enqueued, &status, &tier); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(files), &e.FilesModified)
	e.EnqueuedAt = time.UnixMicro(enqueued)
	e.Status = Status(status)
	e.ResolvedTier = Tier(tier)
	return &e, nil
}
