// Package db opens the embedded SQLite databases shared by the server
// process and ad-hoc CLI invocations.
//
// Every store file is opened in write-ahead journal mode with a 5-second
// busy timeout so concurrent readers are admitted while writers serialize
// through the engine. Callers own the returned handle and must close it
// on all exit paths.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
)

// BusyTimeoutMs is how long a statement waits on a locked database before
// failing. Shared by every Legio store.
const BusyTimeoutMs = 5000

// Open opens (creating if needed) the database at path with the standard
// Legio pragmas applied.
func Open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on", path, BusyTimeoutMs)
	handle, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", filepath.Base(path), err)
	}

	// A single writer connection sidesteps SQLITE_BUSY between connections
	// of the same process; cross-process contention is handled by the
	// busy timeout.
	handle.SetMaxOpenConns(1)

	return handle, nil
}

// OpenExisting opens the database only if the file already exists.
// Returns os.ErrNotExist otherwise, letting callers translate absence
// into empty results or 404 instead of creating stray files.
func OpenExisting(path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return Open(path)
}
