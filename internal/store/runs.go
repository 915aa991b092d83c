package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RunStatus enumerates RunMetadata.status.
type RunStatus string

const (
	RunRunning     RunStatus = "running"
	RunCompleted   RunStatus = "completed"
	RunInterrupted RunStatus = "interrupted"
	RunError       RunStatus = "error"
)

// Run mirrors the runs table: RunMetadata from .
type Run struct {
	ID                  string
	ScraperName         string
	ScraperVersion      string
	WorkerCount         int
	SeedInvocationsJSON string
	Status              RunStatus
	StartedAt           time.Time
	EndedAt             *time.Time
	FinalError          *string
}

// CreateRun inserts a new run row with status=running.
func (s *Store) CreateRun(ctx context.Context, r *Run) error {
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, scraper_name, scraper_version, worker_count, seed_invocations_json, status, started_at)
		VALUES (?,?,?,?,?,?,?)`,
		r.ID, r.ScraperName, r.ScraperVersion, r.WorkerCount, r.SeedInvocationsJSON, string(RunRunning), r.StartedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// FinishRun records the terminal status of a run.
func (s *Store) FinishRun(ctx context.Context, runID string, status RunStatus, finalError *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status=?, ended_at=?, final_error=? WHERE id=?`,
		string(status), nowMillis(), finalError, runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// GetRun fetches a run row.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, scraper_name, scraper_version, worker_count, seed_invocations_json, status, started_at, ended_at, final_error
		FROM runs WHERE id = ?`, runID)
	var r Run
	var started int64
	var ended sql.NullInt64
	if err := row.Scan(&r.ID, &r.ScraperName, &r.ScraperVersion, &r.WorkerCount, &r.SeedInvocationsJSON,
		&r.Status, &started, &ended, &r.FinalError); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	r.StartedAt = time.UnixMilli(started)
	r.EndedAt = timeFromMillis(ended)
	return &r, nil
}

// ReopenRun flips an interrupted or errored run back to running and
// clears its terminal fields, so a resumed driver run can continue it.
func (s *Store) ReopenRun(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status=?, ended_at=NULL, final_error=NULL WHERE id=?`,
		string(RunRunning), runID,
	)
	if err != nil {
		return fmt.Errorf("reopen run: %w", err)
	}
	return nil
}

// ResetInProgressToPending resets every in_progress request under runID
// back to pending with a cleared started_at, reclaiming rows a prior,
// interrupted run left stuck mid-flight.
func (s *Store) ResetInProgressToPending(ctx context.Context, runID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE requests SET status='pending', started_at=NULL
		WHERE run_id=? AND status='in_progress'`, runID)
	if err != nil {
		return 0, fmt.Errorf("reset in-progress requests: %w", err)
	}
	return res.RowsAffected()
}

// ListRuns returns the most recent runs, newest first, for CLI status
// reporting when no specific run id is given.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scraper_name, scraper_version, worker_count, seed_invocations_json, status, started_at, ended_at, final_error
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		var r Run
		var started int64
		var ended sql.NullInt64
		if err := rows.Scan(&r.ID, &r.ScraperName, &r.ScraperVersion, &r.WorkerCount, &r.SeedInvocationsJSON,
			&r.Status, &started, &ended, &r.FinalError); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(started)
		r.EndedAt = timeFromMillis(ended)
		out = append(out, &r)
	}
	return out, rows.Err()
}
