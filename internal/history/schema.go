// Package history provides the SQLite-backed, append-only conversation log
// kept per document.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS history (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	entry_id   TEXT    NOT NULL UNIQUE,
	path       TEXT    NOT NULL,
	seq        INTEGER NOT NULL,
	role       TEXT    NOT NULL,
	body       TEXT    NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	UNIQUE(path, seq)
);
`

// Store is the history log backed by one SQLite file.
type Store struct {
	conn *sql.DB
	now  func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the time source used for entries without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (or creates) the database at file and applies the schema.
// Transactions take the write lock up front so appends from other processes
// serialise on the database rather than failing mid-transaction.
func Open(file string, opts ...Option) (*Store, error) {
	if dir := filepath.Dir(file); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("history: create dir: %w", err)
		}
	}
	sep := "?"
	if strings.Contains(file, "?") {
		sep = "&"
	}
	conn, err := sql.Open("sqlite3", file+sep+"_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("history: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("history: apply schema: %w", err)
	}

	s := &Store{conn: conn, now: time.Now, locks: map[string]*sync.Mutex{}}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping() error {
	return s.conn.Ping()
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// lock serialises appends for one document path.
func (s *Store) lock(path string) (unlock func()) {
	s.mu.Lock()
	l, ok := s.locks[path]
	if !ok {
		l = &sync.Mutex{}
		s.locks[path] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}
