// Package journal keeps a local SQLite record of write attempts so that files
// left behind by a failed update phase can be found and cleaned up later.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	dlserr "github.com/bleepstore/azdls/internal/errors"
	"github.com/bleepstore/azdls/internal/metrics"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// timeFormat is the layout of the attempted_at column.
const timeFormat = "2006-01-02T15:04:05.000Z"

// OutcomeUpdateFailed is the outcome label of an attempt that created the
// file but failed to write it.
const OutcomeUpdateFailed = metrics.OutcomeUpdateFailed

// Entry is one write attempt.
type Entry struct {
	Filesystem string
	Path       string
	Size       int64
	Outcome    string
	// Phase, Status, Code and RequestID are set when the service rejected
	// the write.
	Phase       string
	Status      int
	Code        string
	RequestID   string
	Message     string
	AttemptedAt time.Time
}

// NewEntry describes the attempt that ended with err. outcome is the label
// the caller already derived for err.
func NewEntry(filesystem, path string, size int64, outcome string, err error) Entry {
	e := Entry{
		Filesystem:  filesystem,
		Path:        path,
		Size:        size,
		Outcome:     outcome,
		AttemptedAt: time.Now().UTC(),
	}
	if err == nil {
		return e
	}
	e.Message = err.Error()
	var we *dlserr.WriteError
	if errors.As(err, &we) {
		e.Phase = we.Phase
		if we.Err != nil {
			e.Status = we.Err.StatusCode
			e.Code = we.Err.Code
			e.RequestID = we.Err.RequestID
		}
	}
	return e
}

// Store is a SQLite-backed journal.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the journal database at path.
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing journal database: %w", err)
	}
	return s, nil
}

func (s *Store) initDB() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("executing %q: %w", p, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS write_attempts (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			filesystem   TEXT    NOT NULL,
			path         TEXT    NOT NULL,
			size         INTEGER NOT NULL DEFAULT 0,
			outcome      TEXT    NOT NULL,
			phase        TEXT,
			status       INTEGER NOT NULL DEFAULT 0,
			code         TEXT,
			request_id   TEXT,
			message      TEXT,
			attempted_at TEXT    NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_write_attempts_path
			ON write_attempts(filesystem, path, id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating journal schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Record appends an attempt.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.AttemptedAt.IsZero() {
		e.AttemptedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO write_attempts
			(filesystem, path, size, outcome, phase, status, code, request_id, message, attempted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Filesystem, e.Path, e.Size, e.Outcome,
		nullString(e.Phase), e.Status, nullString(e.Code), nullString(e.RequestID), nullString(e.Message),
		e.AttemptedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("recording write attempt for %q: %w", e.Path, err)
	}
	return nil
}

// Orphans returns the paths whose most recent attempt failed in the update
// phase, ordered by filesystem and path. A later successful write of the
// same path clears it.
func (s *Store) Orphans(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.filesystem, a.path, a.size, a.outcome, a.phase, a.status, a.code,
		        a.request_id, a.message, a.attempted_at
		   FROM write_attempts a
		  WHERE a.id = (SELECT MAX(b.id) FROM write_attempts b
		                 WHERE b.filesystem = a.filesystem AND b.path = a.path)
		    AND a.outcome = ?
		  ORDER BY a.filesystem, a.path`,
		OutcomeUpdateFailed,
	)
	if err != nil {
		return nil, fmt.Errorf("listing orphans: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning orphan row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var phase, code, requestID, message sql.NullString
	var attemptedAt string

	err := rows.Scan(
		&e.Filesystem, &e.Path, &e.Size, &e.Outcome, &phase, &e.Status, &code,
		&requestID, &message, &attemptedAt,
	)
	if err != nil {
		return Entry{}, err
	}
	e.Phase = phase.String
	e.Code = code.String
	e.RequestID = requestID.String
	e.Message = message.String
	e.AttemptedAt, _ = time.Parse(timeFormat, attemptedAt)
	return e, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
