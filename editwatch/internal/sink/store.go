package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/editkit/editwatch/mutation"
)

// Schema for the change history.
const Schema = `
CREATE TABLE IF NOT EXISTS changes (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL,
	seq          INTEGER NOT NULL,
	ticks        INTEGER NOT NULL DEFAULT 0,
	record_count INTEGER NOT NULL,
	records      TEXT NOT NULL,
	created_at   INTEGER NOT NULL,
	UNIQUE (session_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_changes_session ON changes(session_id, seq);
`

// ErrNotFound is returned when a change ID is unknown.
var ErrNotFound = errors.New("sink: change not found")

// Store is the SQLite change history. It is a Sink and also serves history
// queries.
type Store struct {
	DB *sql.DB
}

// OpenStore opens (or creates) the history database at path, applies the
// production pragmas (WAL, busy timeout, NORMAL sync) and the schema.
// ":memory:" is pinned to a single connection so every query sees the
// same database.
func OpenStore(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sink: store mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sink: store open: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sink: %s: %w", p, err)
		}
	}

	s, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore applies the schema to an already open database.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("sink: store schema: %w", err)
	}
	return &Store{DB: db}, nil
}

func (s *Store) Save(ctx context.Context, change mutation.Change) error {
	records, err := json.Marshal(change.Records)
	if err != nil {
		return fmt.Errorf("sink: store marshal: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO changes (id, session_id, seq, ticks, record_count, records, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		change.ID, change.SessionID, change.Seq, change.Ticks,
		len(change.Records), string(records), change.Timestamp)
	if err != nil {
		return fmt.Errorf("sink: store insert: %w", err)
	}
	return nil
}

// Get returns one change by ID.
func (s *Store) Get(ctx context.Context, id string) (*mutation.Change, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, session_id, seq, ticks, records, created_at
		FROM changes WHERE id = ?`, id)
	c, err := scanChange(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListOptions filters List.
type ListOptions struct {
	SessionID string // empty = all sessions
	AfterSeq  uint64 // only with SessionID
	Limit     int    // default 100
}

// List returns changes ordered by creation time, then sequence.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]mutation.Change, error) {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}

	query := `SELECT id, session_id, seq, ticks, records, created_at FROM changes`
	var args []any
	if opts.SessionID != "" {
		query += ` WHERE session_id = ? AND seq > ?`
		args = append(args, opts.SessionID, opts.AfterSeq)
	}
	query += ` ORDER BY created_at, seq LIMIT ?`
	args = append(args, opts.Limit)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sink: store list: %w", err)
	}
	defer rows.Close()

	var out []mutation.Change
	for rows.Next() {
		c, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// SessionSummary aggregates the history of one session.
type SessionSummary struct {
	SessionID string `json:"session_id"`
	Changes   int    `json:"changes"`
	Records   int    `json:"records"`
	LastSeq   uint64 `json:"last_seq"`
	LastAt    int64  `json:"last_at"`
}

// Sessions summarises every session with at least one change.
func (s *Store) Sessions(ctx context.Context) ([]SessionSummary, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT session_id, COUNT(*), SUM(record_count), MAX(seq), MAX(created_at)
		FROM changes
		GROUP BY session_id
		ORDER BY MAX(created_at) DESC`)
	if err != nil {
		return nil, fmt.Errorf("sink: store sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var ss SessionSummary
		if err := rows.Scan(&ss.SessionID, &ss.Changes, &ss.Records, &ss.LastSeq, &ss.LastAt); err != nil {
			return nil, err
		}
		out = append(out, ss)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChange(sc scanner) (*mutation.Change, error) {
	var c mutation.Change
	var records string
	if err := sc.Scan(&c.ID, &c.SessionID, &c.Seq, &c.Ticks, &records, &c.Timestamp); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(records), &c.Records); err != nil {
		return nil, fmt.Errorf("sink: store decode records %s: %w", c.ID, err)
	}
	return &c, nil
}
