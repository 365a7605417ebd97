// Package resultstore persists benchmark runs to SQLite.
package resultstore

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hochfrequenz/recompile-bench/internal/proc"
)

// Run is one persisted benchmark run with its per-edit samples.
type Run struct {
	ID              string
	AppDir          string
	StartedAt       time.Time
	FinishedAt      time.Time
	BuildDurationMs float64
	Samples         []proc.Milestone
}

// Store provides SQLite-backed run persistence
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	// Run migrations
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun inserts a run and its samples in one transaction. A missing ID
// is filled in with a fresh UUID and returned via the Run.
func (s *Store) SaveRun(run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO runs (id, app_dir, started_at, finished_at, build_duration_ms)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.AppDir, run.StartedAt, run.FinishedAt, run.BuildDurationMs)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	for i, m := range run.Samples {
		_, err = tx.Exec(`
			INSERT INTO samples (run_id, round, elapsed_ms, modules)
			VALUES (?, ?, ?, ?)
		`, run.ID, i+1, m.ElapsedTimeMs, m.ModuleCount)
		if err != nil {
			return fmt.Errorf("inserting sample %d: %w", i+1, err)
		}
	}

	return tx.Commit()
}

// GetRun retrieves a run and its samples by ID
func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT id, app_dir, started_at, finished_at, build_duration_ms
		FROM runs WHERE id = ?
	`, id)

	var run Run
	if err := row.Scan(&run.ID, &run.AppDir, &run.StartedAt, &run.FinishedAt, &run.BuildDurationMs); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT elapsed_ms, modules FROM samples WHERE run_id = ? ORDER BY round
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var m proc.Milestone
		if err := rows.Scan(&m.ElapsedTimeMs, &m.ModuleCount); err != nil {
			return nil, err
		}
		run.Samples = append(run.Samples, m)
	}

	return &run, rows.Err()
}

// ListRuns returns the most recent runs, newest first
func (s *Store) ListRuns(limit int) ([]*Run, error) {
	rows, err := s.db.Query(`
		SELECT id, app_dir, started_at, finished_at, build_duration_ms
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.AppDir, &run.StartedAt, &run.FinishedAt, &run.BuildDurationMs); err != nil {
			return nil, err
		}
		runs = append(runs, &run)
	}

	return runs, rows.Err()
}
