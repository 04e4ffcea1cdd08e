package merge

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/legio-dev/legio/internal/db"
	"github.com/legio-dev/legio/internal/mergeq"
)

// Outcome of one resolution attempt on one file.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// recentWindow bounds how long a failed outcome keeps a tier skipped
// for a file.
const recentWindow = 24 * time.Hour

// HistoryRecord is one per-file resolution outcome.
type HistoryRecord struct {
	ID        int64       `json:"id"`
	File      string      `json:"file"`
	Branch    string      `json:"branch,omitempty"`
	Tier      mergeq.Tier `json:"tier"`
	Outcome   Outcome     `json:"outcome"`
	Hint      string      `json:"hint,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

const historySchema = `
CREATE TABLE IF NOT EXISTS conflict_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    file TEXT NOT NULL,
    branch TEXT NOT NULL DEFAULT '',
    tier TEXT NOT NULL,
    outcome TEXT NOT NULL,
    hint TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conflict_history_file ON conflict_history(file, tier, created_at);
`

// History is the per-file conflict resolution memory. It shares the
// merge-queue database file.
type History struct {
	db *sql.DB
}

// OpenHistory opens (creating if needed) the history store at path.
func OpenHistory(path string) (*History, error) {
	handle, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if _, err := handle.Exec(historySchema); err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("creating conflict history schema: %w", err)
	}
	return &History{db: handle}, nil
}

// Close releases the database handle.
func (h *History) Close() error { return h.db.Close() }

// Append records one resolution outcome.
func (h *History) Append(rec *HistoryRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	res, err := h.db.Exec(`INSERT INTO conflict_history
        (file, branch, tier, outcome, hint, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.File, rec.Branch, string(rec.Tier), string(rec.Outcome), rec.Hint,
		rec.CreatedAt.UnixMicro())
	if err != nil {
		return fmt.Errorf("appending conflict history for %s: %w", rec.File, err)
	}
	rec.ID, _ = res.LastInsertId()
	return nil
}

// SkipTier reports whether file has a failed outcome at tier within the
// recent window, meaning the tier should not be retried for that file.
func (h *History) SkipTier(file string, tier mergeq.Tier) (bool, error) {
	cutoff := time.Now().Add(-recentWindow).UnixMicro()
	var n int
	err := h.db.QueryRow(`SELECT COUNT(*) FROM conflict_history
        WHERE file = ? AND tier = ? AND outcome = 'failed' AND created_at >= ?`,
		file, string(tier), cutoff).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking conflict history for %s: %w", file, err)
	}
	return n > 0, nil
}

// HasSuccess reports whether file has ever been resolved at tier.
func (h *History) HasSuccess(file string, tier mergeq.Tier) (bool, error) {
	var n int
	err := h.db.QueryRow(`SELECT COUNT(*) FROM conflict_history
        WHERE file = ? AND tier = ? AND outcome = 'success'`,
		file, string(tier)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking conflict history for %s: %w", file, err)
	}
	return n > 0, nil
}

// Hints returns the strategy hints from file's past successful
// resolutions, newest first, for seeding prompts.
func (h *History) Hints(file string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := h.db.Query(`SELECT hint FROM conflict_history
        WHERE file = ? AND outcome = 'success' AND hint != ''
        ORDER BY created_at DESC LIMIT ?`, file, limit)
	if err != nil {
		return nil, fmt.Errorf("reading hints for %s: %w", file, err)
	}
	defer rows.Close()

	var hints []string
	for rows.Next() {
		var hint string
		if err := rows.Scan(&hint); err != nil {
			return nil, err
		}
		hints = append(hints, hint)
	}
	return hints, rows.Err()
}

// ByFile returns file's full history, newest first.
func (h *History) ByFile(file string, limit int) ([]*HistoryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := h.db.Query(`SELECT id, file, branch, tier, outcome, hint, created_at
        FROM conflict_history WHERE file = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		file, limit)
	if err != nil {
		return nil, fmt.Errorf("reading conflict history for %s: %w", file, err)
	}
	defer rows.Close()

	var recs []*HistoryRecord
	for rows.Next() {
		var rec HistoryRecord
		var tier, outcome string
		var created int64
		if err := rows.Scan(&rec.ID, &rec.File, &rec.Branch, &tier, &outcome, &rec.Hint, &created); err != nil {
			return nil, err
		}
		rec.Tier = mergeq.Tier(tier)
		rec.Outcome = Outcome(outcome)
		rec.CreatedAt = time.UnixMicro(created)
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}
