package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Result mirrors the results table: created when the
// scraper yields ParsedData, whether or not deferred validation passed.
type Result struct {
	ID                   int64
	RequestID            int64
	ResultType           string
	DataJSON             string
	IsValid              bool
	ValidationErrorsJSON *string
	CreatedAt            time.Time
}

// InsertResult persists a Result row.
func (s *Store) InsertResult(ctx context.Context, r *Result) (int64, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO results (request_id, result_type, data_json, is_valid, validation_errors_json, created_at)
		VALUES (?,?,?,?,?,?)`,
		r.RequestID, r.ResultType, r.DataJSON, r.IsValid, r.ValidationErrorsJSON, r.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert result: %w", err)
	}
	return res.LastInsertId()
}

const resultColumns = `id, request_id, result_type, data_json, is_valid, validation_errors_json, created_at`

func scanResult(sc interface{ Scan(...any) error }) (*Result, error) {
	var r Result
	var createdAt int64
	if err := sc.Scan(&r.ID, &r.RequestID, &r.ResultType, &r.DataJSON, &r.IsValid, &r.ValidationErrorsJSON, &createdAt); err != nil {
		return nil, err
	}
	r.CreatedAt = time.UnixMilli(createdAt)
	return &r, nil
}

// GetResult implements the get_result.
func (s *Store) GetResult(ctx context.Context, id int64) (*Result, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM results WHERE id=?`, id)
	r, err := scanResult(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// ListResults implements the list_results.
func (s *Store) ListResults(ctx context.Context, resultType string, isValid *bool, offset, limit int) ([]*Result, error) {
	q := `SELECT ` + resultColumns + ` FROM results WHERE 1=1`
	var args []any
	if resultType != "" {
		q += ` AND result_type = ?`
		args = append(args, resultType)
	}
	if isValid != nil {
		q += ` AND is_valid = ?`
		args = append(args, *isValid)
	}
	if limit <= 0 {
		limit = 50
	}
	q += ` ORDER BY id ASC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []*Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertEstimate persists an EstimateData hint row.
func (s *Store) InsertEstimate(ctx context.Context, requestID int64, expectedTypesJSON string, min, max *int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO estimates (request_id, expected_types_json, min_count, max_count, created_at)
		VALUES (?,?,?,?,?)`, requestID, expectedTypesJSON, min, max, nowMillis())
	if err != nil {
		return 0, fmt.Errorf("insert estimate: %w", err)
	}
	return res.LastInsertId()
}
