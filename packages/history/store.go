package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	// SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("history: run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	path         TEXT NOT NULL,
	line         INTEGER NOT NULL DEFAULT 0,
	started_at   INTEGER NOT NULL,
	duration_ms  INTEGER NOT NULL,
	collected    INTEGER NOT NULL,
	started      INTEGER NOT NULL,
	outcomes     TEXT NOT NULL,
	class        TEXT NOT NULL,
	summary      TEXT NOT NULL,
	cancelled    INTEGER NOT NULL DEFAULT 0,
	worker_error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs (started_at);
CREATE TABLE IF NOT EXISTS run_items (
	run_id   TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	item_id  TEXT NOT NULL,
	file     TEXT NOT NULL,
	line     INTEGER NOT NULL,
	state    TEXT NOT NULL,
	PRIMARY KEY (run_id, position)
);
`

// Entry is one finished run.
type Entry struct {
	ID          string         `json:"id"`
	Path        string         `json:"path"`
	Line        int            `json:"line,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	Duration    time.Duration  `json:"duration"`
	Collected   int            `json:"collected"`
	Started     int            `json:"started"`
	Outcomes    map[string]int `json:"outcomes"`
	Class       string         `json:"class"`
	Summary     string         `json:"summary"`
	Cancelled   bool           `json:"cancelled"`
	WorkerError string         `json:"worker_error,omitempty"`
	Items       []Item         `json:"items,omitempty"`
}

// Item is the final marker state of one test item in a run.
type Item struct {
	ID    string `json:"id"`
	File  string `json:"file"`
	Line  int    `json:"line"`
	State string `json:"state"`
}

// Store persists entries.
type Store struct {
	db           *sqlx.DB
	queryTimeout time.Duration
}

type runRow struct {
	ID          string `db:"id"`
	Path        string `db:"path"`
	Line        int    `db:"line"`
	StartedAt   int64  `db:"started_at"`
	DurationMs  int64  `db:"duration_ms"`
	Collected   int    `db:"collected"`
	Started     int    `db:"started"`
	Outcomes    string `db:"outcomes"`
	Class       string `db:"class"`
	Summary     string `db:"summary"`
	Cancelled   bool   `db:"cancelled"`
	WorkerError string `db:"worker_error"`
}

type itemRow struct {
	RunID    string `db:"run_id"`
	Position int    `db:"position"`
	ItemID   string `db:"item_id"`
	File     string `db:"file"`
	Line     int    `db:"line"`
	State    string `db:"state"`
}

const runColumns = `id, path, line, started_at, duration_ms, collected, started, outcomes, class, summary, cancelled, worker_error`

// Open opens or creates the database. path may carry a sqlite:// or
// sqlite: prefix.
func Open(path string) (*Store, error) {
	dsn := parseConnectionString(path)
	if dsn == "" {
		return nil, errors.New("history: empty database path")
	}
	if dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("history: creating database directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("history: failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: failed to migrate database: %w", err)
	}

	return &Store{db: db, queryTimeout: 30 * time.Second}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Record inserts e. An empty ID is replaced by a new UUID, which is
// returned.
func (s *Store) Record(ctx context.Context, e Entry) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	outcomes, err := json.Marshal(e.Outcomes)
	if err != nil {
		return "", fmt.Errorf("history: encoding outcomes: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("history: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := runRow{
		ID:          e.ID,
		Path:        e.Path,
		Line:        e.Line,
		StartedAt:   e.StartedAt.UnixMilli(),
		DurationMs:  e.Duration.Milliseconds(),
		Collected:   e.Collected,
		Started:     e.Started,
		Outcomes:    string(outcomes),
		Class:       e.Class,
		Summary:     e.Summary,
		Cancelled:   e.Cancelled,
		WorkerError: e.WorkerError,
	}
	_, err = tx.NamedExecContext(ctx, `INSERT INTO runs (`+runColumns+`)
		VALUES (:id, :path, :line, :started_at, :duration_ms, :collected, :started, :outcomes, :class, :summary, :cancelled, :worker_error)`, row)
	if err != nil {
		return "", fmt.Errorf("history: insert run: %w", err)
	}

	for i, it := range e.Items {
		_, err := tx.NamedExecContext(ctx, `INSERT INTO run_items (run_id, position, item_id, file, line, state)
			VALUES (:run_id, :position, :item_id, :file, :line, :state)`, itemRow{
			RunID:    e.ID,
			Position: i,
			ItemID:   it.ID,
			File:     it.File,
			Line:     it.Line,
			State:    it.State,
		})
		if err != nil {
			return "", fmt.Errorf("history: insert item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("history: commit: %w", err)
	}
	return e.ID, nil
}

// Recent returns up to limit entries, newest first, without their items.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var rows []runRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+runColumns+`
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query failed: %w", err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		e, err := row.entry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Get returns one entry with its items.
func (s *Store) Get(ctx context.Context, id string) (Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var row runRow
	err := s.db.GetContext(ctx, &row, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("history: query failed: %w", err)
	}
	e, err := row.entry()
	if err != nil {
		return Entry{}, err
	}

	var items []itemRow
	err = s.db.SelectContext(ctx, &items, `SELECT run_id, position, item_id, file, line, state
		FROM run_items WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return Entry{}, fmt.Errorf("history: query failed: %w", err)
	}
	for _, it := range items {
		e.Items = append(e.Items, Item{ID: it.ItemID, File: it.File, Line: it.Line, State: it.State})
	}
	return e, nil
}

// Prune deletes all but the newest keep entries and returns how many were
// removed.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id NOT IN
		(SELECT id FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	return res.RowsAffected()
}

func (r runRow) entry() (Entry, error) {
	e := Entry{
		ID:          r.ID,
		Path:        r.Path,
		Line:        r.Line,
		StartedAt:   time.UnixMilli(r.StartedAt),
		Duration:    time.Duration(r.DurationMs) * time.Millisecond,
		Collected:   r.Collected,
		Started:     r.Started,
		Class:       r.Class,
		Summary:     r.Summary,
		Cancelled:   r.Cancelled,
		WorkerError: r.WorkerError,
	}
	if err := json.Unmarshal([]byte(r.Outcomes), &e.Outcomes); err != nil {
		return Entry{}, fmt.Errorf("history: decoding outcomes: %w", err)
	}
	return e, nil
}

// parseConnectionString strips the sqlite:// and sqlite: prefixes.
func parseConnectionString(connStr string) string {
	connStr = strings.TrimSpace(connStr)
	if strings.HasPrefix(connStr, "sqlite://") {
		return strings.TrimPrefix(connStr, "sqlite://")
	}
	return strings.TrimPrefix(connStr, "sqlite:")
}
