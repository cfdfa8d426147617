// Package store provides the durable layer for run checkpoints and
// archived cases, backed by SQLite (pure-Go driver).
//
// The engine requires atomic single-record writes and read-your-writes
// consistency for the run it owns; SQLite upserts inside implicit
// transactions satisfy both.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pithecene-io/crucible/types"
)

// ErrNotFound indicates no record exists for the given key.
var ErrNotFound = errors.New("record not found")

// Store wraps a SQLite database holding checkpoints and cases.
// Safe for concurrent use; SQLite serializes writers internally.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	run_id     TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	snapshot   TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_project ON checkpoints(project_id);

CREATE TABLE IF NOT EXISTS cases (
	id          TEXT PRIMARY KEY,
	project_id  TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	payload     TEXT NOT NULL,
	final_score INTEGER NOT NULL,
	success     INTEGER NOT NULL,
	recorded_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cases_recorded ON cases(recorded_at);
`

// Open opens (creating if necessary) the store at path.
// Use ":memory:" for an ephemeral store in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store %q: %w", path, err)
	}

	// modernc sqlite allows one writer; a single conn avoids
	// SQLITE_BUSY under concurrent checkpoint writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init store schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveCheckpoint atomically upserts the run snapshot keyed by run id.
// Called before every event emission so a crash between persistence and
// delivery is recoverable from the checkpoint.
func (s *Store) SaveCheckpoint(ctx context.Context, run *types.Run) error {
	snapshot, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal checkpoint %s: %w", run.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (run_id, project_id, snapshot, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at`,
		run.ID, run.ProjectID, string(snapshot), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", run.ID, err)
	}
	return nil
}

// LoadCheckpoint returns the stored run snapshot, or ErrNotFound.
func (s *Store) LoadCheckpoint(ctx context.Context, runID string) (*types.Run, error) {
	var snapshot string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM checkpoints WHERE run_id = ?`, runID).Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checkpoint %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", runID, err)
	}

	var run types.Run
	if err := json.Unmarshal([]byte(snapshot), &run); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", runID, err)
	}
	return &run, nil
}

// DeleteCheckpoint removes a run's checkpoint. Missing rows are not an error.
func (s *Store) DeleteCheckpoint(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", runID, err)
	}
	return nil
}

// AppendCase appends an archived case. Cases are never mutated after write.
func (s *Store) AppendCase(ctx context.Context, c types.Case) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal case %s: %w", c.ID, err)
	}

	success := 0
	if c.Success {
		success = 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cases (id, project_id, fingerprint, payload, final_score, success, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ProjectID, c.Fingerprint, string(payload),
		c.FinalScore, success, c.RecordedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append case %s: %w", c.ID, err)
	}
	return nil
}

// RecentCases returns up to limit cases, newest first.
// limit <= 0 returns all cases.
func (s *Store) RecentCases(ctx context.Context, limit int) ([]types.Case, error) {
	query := `SELECT payload FROM cases ORDER BY recorded_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	var cases []types.Case
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		var c types.Case
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			return nil, fmt.Errorf("decode case: %w", err)
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// CaseStats aggregates archived cases.
type CaseStats struct {
	Total        int64
	Succeeded    int64
	AverageScore float64
}

// Stats returns aggregate statistics over all archived cases.
func (s *Store) Stats(ctx context.Context) (CaseStats, error) {
	var st CaseStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(success), 0),
		       COALESCE(AVG(CASE WHEN final_score >= 0 THEN final_score END), 0)
		FROM cases`).Scan(&st.Total, &st.Succeeded, &st.AverageScore)
	if err != nil {
		return CaseStats{}, fmt.Errorf("case stats: %w", err)
	}
	return st, nil
}
