package mail

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/legio-dev/legio/internal/db"
	"github.com/legio-dev/legio/internal/errs"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    from_agent TEXT NOT NULL,
    to_agent TEXT NOT NULL,
    subject TEXT NOT NULL DEFAULT '',
    body TEXT NOT NULL DEFAULT '',
    type TEXT NOT NULL DEFAULT 'status',
    priority TEXT NOT NULL DEFAULT 'normal',
    thread_id TEXT NOT NULL DEFAULT '',
    payload TEXT NOT NULL DEFAULT '',
    read INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_to_read ON messages(to_agent, read, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, created_at);
`

// Store is the sqlite-backed mail store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the mail store at path.
func Open(path string) (*Store, error) {
	handle, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if _, err := handle.Exec(schema); err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("creating mail schema: %w", err)
	}
	return &Store{db: handle}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// NewID mints a message id: msg- plus 12 random hex characters.
func NewID() string {
	buf := make([]byte, 6)
	_, _ = rand.Read(buf) // crypto/rand only fails on a broken system
	return "msg-" + hex.EncodeToString(buf)
}

// Insert stores a message, minting id and timestamp when absent.
// Group addresses must be expanded before insertion.
func (s *Store) Insert(m *Message) error {
	if IsGroupAddress(m.To) {
		return errs.Validationf("group address %s must be expanded before insert", m.To)
	}
	if m.ID == "" {
		m.ID = NewID()
	}
	if m.Type == "" {
		m.Type = TypeStatus
	}
	if m.Priority == "" {
		m.Priority = PriorityNormal
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	_, err := s.db.Exec(`INSERT INTO messages
        (id, from_agent, to_agent, subject, body, type, priority, thread_id, payload, read, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.From, m.To, m.Subject, m.Body, string(m.Type), string(m.Priority),
		m.ThreadID, m.Payload, boolInt(m.Read), m.CreatedAt.UnixMicro())
	if err != nil {
		return fmt.Errorf("inserting message %s: %w", m.ID, err)
	}
	return nil
}

const messageCols = `id, from_agent, to_agent, subject, body, type, priority,
    thread_id, payload, read, created_at`

// ByID returns one message.
func (s *Store) ByID(id string) (*Message, error) {
	row := s.db.QueryRow(`SELECT `+messageCols+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("message", id)
	}
	return m, err
}

// Filter bounds an All query. Zero values are unrestricted.
type Filter struct {
	From   string
	To     string
	Unread bool
	Limit  int
}

// All returns messages newest first, optionally filtered.
func (s *Store) All(f Filter) ([]*Message, error) {
	var conds []string
	var args []interface{}
	if f.From != "" {
		conds = append(conds, "from_agent = ?")
		args = append(args, f.From)
	}
	if f.To != "" {
		conds = append(conds, "to_agent = ?")
		args = append(args, f.To)
	}
	if f.Unread {
		conds = append(conds, "read = 0")
	}

	sqlText := `SELECT ` + messageCols + ` FROM messages`
	if len(conds) > 0 {
		sqlText += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 200
	}
	sqlText += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	return s.query(sqlText, args)
}

// Unread returns an agent's unread messages, oldest first so consumers
// process them in arrival order.
func (s *Store) Unread(agent string) ([]*Message, error) {
	return s.query(`SELECT `+messageCols+` FROM messages
        WHERE to_agent = ? AND read = 0 ORDER BY created_at ASC, id ASC`,
		[]interface{}{agent})
}

// ByThread returns a thread's messages in insertion order.
func (s *Store) ByThread(threadID string) ([]*Message, error) {
	return s.query(`SELECT `+messageCols+` FROM messages
        WHERE thread_id = ? ORDER BY created_at ASC, id ASC`,
		[]interface{}{threadID})
}

// MarkRead sets the read flag. The flag is monotonic: marking an
// already-read message is a no-op, not an error.
func (s *Store) MarkRead(id string) error {
	res, err := s.db.Exec(`UPDATE messages SET read = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("marking message %s read: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.ByID(id); err != nil {
			return err
		}
	}
	return nil
}

// UnreadCount returns the number of unread messages, optionally for one
// recipient.
func (s *Store) UnreadCount(agent string) (int, error) {
	var (
		row *sql.Row
	)
	if agent != "" {
		row = s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE to_agent = ? AND read = 0`, agent)
	} else {
		row = s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE read = 0`)
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("counting unread: %w", err)
	}
	return n, nil
}

// Conversations returns the latest message per thread involving an agent.
func (s *Store) Conversations(agent string) ([]*Message, error) {
	return s.query(`SELECT `+messageCols+` FROM messages WHERE id IN (
            SELECT id FROM messages m1
            WHERE (to_agent = ? OR from_agent = ?) AND thread_id != ''
              AND created_at = (SELECT MAX(created_at) FROM messages m2 WHERE m2.thread_id = m1.thread_id)
        ) ORDER BY created_at DESC`,
		[]interface{}{agent, agent})
}

// Purge deletes every message. Used only by legio clean.
func (s *Store) Purge() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM messages`)
	if err != nil {
		return 0, fmt.Errorf("purging mail: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) query(sqlText string, args []interface{}) ([]*Message, error) {
	rows, err := s.db.Query(sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("querying mail: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row scanner) (*Message, error) {
	var m Message
	var typ, prio string
	var read int
	var created int64
	err := row.Scan(&m.ID, &m.From, &m.To, &m.Subject, &m.Body, &typ, &prio,
		&m.ThreadID, &m.Payload, &read, &created)
	if err != nil {
		return nil, err
	}
	m.Type = Type(typ)
	m.Priority = Priority(prio)
	m.Read = read != 0
	m.CreatedAt = time.UnixMicro(created)
	return &m, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
