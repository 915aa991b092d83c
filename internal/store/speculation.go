package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SpeculationStateRow mirrors the speculation_state table,
// one row per @speculate-registered function.
type SpeculationStateRow struct {
	FunctionName          string
	HighestSuccessfulID   int64
	ConsecutiveFailures   int
	CurrentCeiling        int64
	Stopped               bool
	ObservationDate       *string
	HighestObserved       *int64
	LargestObservedGap    *int64
}

// LoadSpeculationState returns the persisted state for a function, or nil
// if none exists yet (first seed).
func (s *Store) LoadSpeculationState(ctx context.Context, functionName string) (*SpeculationStateRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT function_name, highest_successful_id, consecutive_failures, current_ceiling,
		       stopped, observation_date, highest_observed, largest_observed_gap
		FROM speculation_state WHERE function_name = ?`, functionName)
	var r SpeculationStateRow
	if err := row.Scan(&r.FunctionName, &r.HighestSuccessfulID, &r.ConsecutiveFailures,
		&r.CurrentCeiling, &r.Stopped, &r.ObservationDate, &r.HighestObserved, &r.LargestObservedGap); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load speculation state: %w", err)
	}
	return &r, nil
}

// SaveSpeculationState persists state: "saved on close,
// reloaded on resume."
func (s *Store) SaveSpeculationState(ctx context.Context, r *SpeculationStateRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO speculation_state (function_name, highest_successful_id, consecutive_failures,
			current_ceiling, stopped, observation_date, highest_observed, largest_observed_gap)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(function_name) DO UPDATE SET
			highest_successful_id=excluded.highest_successful_id,
			consecutive_failures=excluded.consecutive_failures,
			current_ceiling=excluded.current_ceiling, stopped=excluded.stopped,
			observation_date=excluded.observation_date, highest_observed=excluded.highest_observed,
			largest_observed_gap=excluded.largest_observed_gap`,
		r.FunctionName, r.HighestSuccessfulID, r.ConsecutiveFailures, r.CurrentCeiling,
		r.Stopped, r.ObservationDate, r.HighestObserved, r.LargestObservedGap,
	)
	if err != nil {
		return fmt.Errorf("save speculation state: %w", err)
	}
	return nil
}
