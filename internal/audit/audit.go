// Package audit records operator and automation actions for later
// review.
package audit

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/legio-dev/legio/internal/db"
)

// Record is one audited action.
type Record struct {
	ID        string    `json:"id"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Target    string    `json:"target,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

const schema = `
CREATE TABLE IF NOT EXISTS audit (
    id TEXT PRIMARY KEY,
    actor TEXT NOT NULL,
    action TEXT NOT NULL,
    target TEXT NOT NULL DEFAULT '',
    detail TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_created ON audit(created_at);
CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit(actor, created_at);
`

// Store is the sqlite-backed audit log.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the audit store at path.
func Open(path string) (*Store, error) {
	handle, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if _, err := handle.Exec(schema); err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}
	return &Store{db: handle}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Insert appends a record, minting id and timestamp when absent.
func (s *Store) Insert(rec *Record) error {
	if rec.ID == "" {
		buf := make([]byte, 6)
		_, _ = rand.Read(buf)
		rec.ID = "aud-" + hex.EncodeToString(buf)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO audit (id, actor, action, target, detail, created_at)
        VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Actor, rec.Action, rec.Target, rec.Detail, rec.CreatedAt.UnixMicro())
	if err != nil {
		return fmt.Errorf("inserting audit record %s: %w", rec.ID, err)
	}
	return nil
}

// Filter bounds a List query. Zero values are unrestricted.
type Filter struct {
	Actor  string
	Action string
	Limit  int
}

// List returns records newest first.
func (s *Store) List(f Filter) ([]*Record, error) {
	var conds []string
	var args []interface{}
	if f.Actor != "" {
		conds = append(conds, "actor = ?")
		args = append(args, f.Actor)
	}
	if f.Action != "" {
		conds = append(conds, "action = ?")
		args = append(args, f.Action)
	}

	sqlText := `SELECT id, actor, action, target, detail, created_at FROM audit`
	if len(conds) > 0 {
		sqlText += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	sqlText += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("listing audit records: %w", err)
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		var rec Record
		var created int64
		if err := rows.Scan(&rec.ID, &rec.Actor, &rec.Action, &rec.Target, &rec.Detail, &created); err != nil {
			return nil, err
		}
		rec.CreatedAt = time.UnixMicro(created)
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

// Purge deletes every record. Used only by legio clean.
func (s *Store) Purge() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM audit`)
	if err != nil {
		return 0, fmt.Errorf("purging audit: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
