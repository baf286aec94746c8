// Package localstore keeps an SQLite archive of terminal runs for CLI use.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/jonathan/courseware-agent/internal/localstore/migrations"
	"github.com/jonathan/courseware-agent/internal/pipeline"
)

// ErrNotFound is returned for unknown run IDs.
var ErrNotFound = errors.New("run not found in local archive")

// Store is an SQLite run archive.
type Store struct {
	db   *sql.DB
	path string
}

// Summary is one row of the run listing.
type Summary struct {
	ID             string           `json:"id"`
	Pipeline       string           `json:"pipeline"`
	State          pipeline.State   `json:"state"`
	Reason         pipeline.Reason  `json:"reason"`
	Outcome        pipeline.Outcome `json:"outcome"`
	Error          string           `json:"error,omitempty"`
	Dispatched     bool             `json:"dispatched"`
	ReviewAccepted bool             `json:"review_accepted"`
	CreatedAt      time.Time        `json:"created_at"`
	FinishedAt     *time.Time       `json:"finished_at,omitempty"`
}

// Open opens or creates the archive in dataDir. An empty dataDir means
// ~/.courseware/data.
func Open(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".courseware", "data")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "runs.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite has a single writer
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: dbPath}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// migrate runs all pending migrations.
func (s *Store) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// "001_runs.up.sql" -> 1
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}

// Archive stores a terminal run. Archiving again replaces the run row and
// adds trace entries not yet stored.
func (s *Store) Archive(ctx context.Context, snap pipeline.Snapshot) error {
	if !snap.State.Terminal() {
		return fmt.Errorf("run %s is %s, only terminal runs are archived", snap.ID, snap.State)
	}
	snapJSON, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshalling snapshot: %w", err)
	}

	var pipelineName string
	if snap.Decision != nil {
		pipelineName = string(snap.Decision.Pipeline)
	}
	dispatched, reviewAccepted := snap.Record != nil, snap.Record != nil && snap.Record.ReviewAccepted

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, pipeline, state, reason, outcome, error, created_at, finished_at, snapshot, dispatched, review_accepted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			pipeline = excluded.pipeline, state = excluded.state, reason = excluded.reason,
			outcome = excluded.outcome, error = excluded.error, finished_at = excluded.finished_at,
			snapshot = excluded.snapshot, dispatched = excluded.dispatched,
			review_accepted = excluded.review_accepted
	`, snap.ID, pipelineName, string(snap.State), string(snap.Reason), string(snap.Outcome), snap.Error,
		snap.CreatedAt.UTC(), nullTime(snap.FinishedAt), string(snapJSON), dispatched, reviewAccepted)
	if err != nil {
		return fmt.Errorf("saving run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO trace_entries (run_id, seq, stage, kind, message, data, logged_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing trace insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range snap.Trace {
		var data sql.NullString
		if e.Data != nil {
			b, err := json.Marshal(e.Data)
			if err != nil {
				return fmt.Errorf("marshalling trace entry %d: %w", e.Seq, err)
			}
			data = sql.NullString{String: string(b), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, snap.ID, e.Seq, e.Stage, e.Kind, e.Message, data, e.Time.UTC()); err != nil {
			return fmt.Errorf("saving trace entry %d: %w", e.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing archive: %w", err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// Get returns the archived snapshot of a run.
func (s *Store) Get(ctx context.Context, id string) (*pipeline.Snapshot, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT snapshot FROM runs WHERE id = ?", id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting run: %w", err)
	}

	var snap pipeline.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &snap, nil
}

// List returns archived runs, newest first. A non-positive limit means 50.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pipeline, state, reason, outcome, error, dispatched, review_accepted, created_at, finished_at
		FROM runs ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var finished sql.NullTime
		if err := rows.Scan(&sum.ID, &sum.Pipeline, &sum.State, &sum.Reason, &sum.Outcome, &sum.Error,
			&sum.Dispatched, &sum.ReviewAccepted, &sum.CreatedAt, &finished); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			sum.FinishedAt = &t
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Trace returns a run's archived trace entries in order.
func (s *Store) Trace(ctx context.Context, id string) ([]pipeline.TraceEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, stage, kind, message, data, logged_at
		FROM trace_entries WHERE run_id = ? ORDER BY seq
	`, id)
	if err != nil {
		return nil, fmt.Errorf("listing trace: %w", err)
	}
	defer rows.Close()

	var out []pipeline.TraceEntry
	for rows.Next() {
		e := pipeline.TraceEntry{RunID: id}
		var data sql.NullString
		if err := rows.Scan(&e.Seq, &e.Stage, &e.Kind, &e.Message, &data, &e.Time); err != nil {
			return nil, fmt.Errorf("scanning trace entry: %w", err)
		}
		if data.Valid {
			e.Data = json.RawMessage(data.String)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Delete removes a run and its trace.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
