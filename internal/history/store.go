package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/starford/folio/internal/apperr"
	"github.com/starford/folio/internal/storage"
)

// Role identifies who produced an entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one conversational turn attached to a document.
type Entry struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Seq       int64     `json:"seq"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks the caller-supplied fields of e.
func (e Entry) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Role, validation.Required, validation.In(RoleUser, RoleAssistant)),
		validation.Field(&e.Text, validation.Required),
	)
}

// ErrInvalidEntry is returned when an entry fails validation.
var ErrInvalidEntry = errors.New("invalid history entry")

// Summary describes the log of one document.
type Summary struct {
	Path    string    `json:"path"`
	Entries int       `json:"entries"`
	LastAt  time.Time `json:"last_at"`
}

// Log is the history surface consumed by the context assembler and the
// transports.
type Log interface {
	Append(ctx context.Context, path string, e Entry) (Entry, error)
	Recent(ctx context.Context, path string, limit int) ([]Entry, error)
	Count(ctx context.Context, path string) (int, error)
	Documents(ctx context.Context) ([]Summary, error)
}

var _ Log = (*Store)(nil)

// Append durably records e for the document at path and returns it with its
// id, sequence number and timestamp filled in. A timestamp earlier than the
// document's last entry is raised to it so timestamps never decrease.
func (s *Store) Append(ctx context.Context, path string, e Entry) (Entry, error) {
	p, err := storage.Normalize(path)
	if err != nil {
		return Entry{}, err
	}
	if err := e.Validate(); err != nil {
		return Entry{}, fmt.Errorf("history: append %s: %w: %w", p, ErrInvalidEntry, err)
	}

	unlock := s.lock(p)
	defer unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, apperr.Path("history append", p, apperr.ErrPersistence, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var (
		lastSeq int64
		lastAt  int64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT seq, created_at FROM history WHERE path = ? ORDER BY seq DESC LIMIT 1`, p,
	).Scan(&lastSeq, &lastAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Entry{}, apperr.Path("history append", p, apperr.ErrPersistence, err)
	}

	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	ts := e.Timestamp.UTC().UnixNano()
	if ts < lastAt {
		ts = lastAt
	}

	e.ID = uuid.NewString()
	e.Path = p
	e.Seq = lastSeq + 1
	e.Timestamp = time.Unix(0, ts).UTC()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO history (entry_id, path, seq, role, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.Path, e.Seq, string(e.Role), e.Text, ts)
	if err != nil {
		return Entry{}, apperr.Path("history append", p, apperr.ErrPersistence, err)
	}
	if err := tx.Commit(); err != nil {
		return Entry{}, apperr.Path("history append", p, apperr.ErrPersistence, err)
	}
	return e, nil
}

// Recent returns up to limit of the newest entries for path, oldest first.
func (s *Store) Recent(ctx context.Context, path string, limit int) ([]Entry, error) {
	p, err := storage.Normalize(path)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []Entry{}, nil
	}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT entry_id, seq, role, body, created_at
		FROM history
		WHERE path = ?
		ORDER BY seq DESC
		LIMIT ?
	`, p, limit)
	if err != nil {
		return nil, apperr.Path("history recent", p, apperr.ErrPersistence, err)
	}
	defer rows.Close()

	out := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e    Entry
			role string
			ts   int64
		)
		if err := rows.Scan(&e.ID, &e.Seq, &role, &e.Text, &ts); err != nil {
			return nil, apperr.Path("history recent", p, apperr.ErrPersistence, err)
		}
		e.Path = p
		e.Role = Role(role)
		e.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Path("history recent", p, apperr.ErrPersistence, err)
	}
	slices.Reverse(out)
	return out, nil
}

// Count returns the number of entries stored for path.
func (s *Store) Count(ctx context.Context, path string) (int, error) {
	p, err := storage.Normalize(path)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM history WHERE path = ?`, p).Scan(&n); err != nil {
		return 0, apperr.Path("history count", p, apperr.ErrPersistence, err)
	}
	return n, nil
}

// Documents lists every document that has history, ordered by path.
func (s *Store) Documents(ctx context.Context) ([]Summary, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT path, COUNT(*), MAX(created_at)
		FROM history
		GROUP BY path
		ORDER BY path
	`)
	if err != nil {
		return nil, fmt.Errorf("history: documents: %w: %w", apperr.ErrPersistence, err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum Summary
			ts  int64
		)
		if err := rows.Scan(&sum.Path, &sum.Entries, &ts); err != nil {
			return nil, fmt.Errorf("history: documents: %w: %w", apperr.ErrPersistence, err)
		}
		sum.LastAt = time.Unix(0, ts).UTC()
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: documents: %w: %w", apperr.ErrPersistence, err)
	}
	return out, nil
}
