package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/crawlkeep/crawlkeep/internal/scrapeerr"
)

// ErrorRow mirrors the errors table, grounded on
// errors.py's ErrorRecord.
type ErrorRow struct {
	ID                   int64
	RequestID            *int64
	ErrorType            string
	ErrorClass           string
	Message              string
	RequestURL           string
	ContextJSON          *string
	Selector             *string
	SelectorType         *string
	ExpectedMin          *int
	ExpectedMax          *int
	ActualCount          *int
	ModelName            *string
	ValidationErrorsJSON *string
	FailedDocJSON        *string
	StatusCode           *int
	TimeoutSeconds       *float64
	Traceback            string
	IsResolved           bool
	ResolvedAt           *time.Time
	ResolutionNotes      *string
	CreatedAt            time.Time
}

// StoreError classifies and persists a *scrapeerr.Error (or an arbitrary
// error, treated as Unknown), grounded on errors.py's store_error.
func (s *Store) StoreError(ctx context.Context, requestID *int64, requestURL string, err error, traceback string) (int64, error) {
	se, ok := err.(*scrapeerr.Error)
	if !ok {
		se = scrapeerr.NewUnknown(requestURL, err)
	}

	row := ErrorRow{
		RequestID:  requestID,
		ErrorType:  se.Kind.String(),
		ErrorClass: fmt.Sprintf("scrapeerr.%s", se.Kind),
		Message:    se.Message,
		RequestURL: se.RequestURL,
		Traceback:  traceback,
		CreatedAt:  time.Now(),
	}
	if row.RequestURL == "" {
		row.RequestURL = requestURL
	}

	if d := se.Structural; d != nil {
		row.Selector = &d.Selector
		row.SelectorType = &d.SelectorType
		row.ExpectedMin = &d.ExpectedMin
		row.ExpectedMax = d.ExpectedMax
		row.ActualCount = &d.ActualCount
	}
	if d := se.Validation; d != nil {
		row.ModelName = &d.ModelName
	}
	if d := se.Transient; d != nil {
		if d.StatusCode != 0 {
			row.StatusCode = &d.StatusCode
		}
		if d.TimeoutSeconds != 0 {
			row.TimeoutSeconds = &d.TimeoutSeconds
		}
	}

	res, execErr := s.db.ExecContext(ctx, `
		INSERT INTO errors (
			request_id, error_type, error_class, message, request_url, context_json,
			selector, selector_type, expected_min, expected_max, actual_count,
			model_name, validation_errors_json, failed_doc_json, status_code,
			timeout_seconds, traceback, is_resolved, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,0,?)`,
		row.RequestID, row.ErrorType, row.ErrorClass, row.Message, row.RequestURL, row.ContextJSON,
		row.Selector, row.SelectorType, row.ExpectedMin, row.ExpectedMax, row.ActualCount,
		row.ModelName, row.ValidationErrorsJSON, row.FailedDocJSON, row.StatusCode,
		row.TimeoutSeconds, row.Traceback, row.CreatedAt.UnixMilli(),
	)
	if execErr != nil {
		return 0, fmt.Errorf("store error: %w", execErr)
	}
	return res.LastInsertId()
}

const errorColumns = `id, request_id, error_type, error_class, message, request_url, context_json,
	selector, selector_type, expected_min, expected_max, actual_count, model_name,
	validation_errors_json, failed_doc_json, status_code, timeout_seconds, traceback,
	is_resolved, resolved_at, resolution_notes, created_at`

func scanError(sc interface{ Scan(...any) error }) (*ErrorRow, error) {
	var e ErrorRow
	var createdAt int64
	var resolvedAt sql.NullInt64
	if err := sc.Scan(
		&e.ID, &e.RequestID, &e.ErrorType, &e.ErrorClass, &e.Message, &e.RequestURL, &e.ContextJSON,
		&e.Selector, &e.SelectorType, &e.ExpectedMin, &e.ExpectedMax, &e.ActualCount, &e.ModelName,
		&e.ValidationErrorsJSON, &e.FailedDocJSON, &e.StatusCode, &e.TimeoutSeconds, &e.Traceback,
		&e.IsResolved, &resolvedAt, &e.ResolutionNotes, &createdAt,
	); err != nil {
		return nil, err
	}
	e.CreatedAt = time.UnixMilli(createdAt)
	e.ResolvedAt = timeFromMillis(resolvedAt)
	return &e, nil
}

// GetError fetches a single error row.
func (s *Store) GetError(ctx context.Context, id int64) (*ErrorRow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+errorColumns+` FROM errors WHERE id=?`, id)
	e, err := scanError(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// ListErrors implements the list_errors.
func (s *Store) ListErrors(ctx context.Context, errorType, continuation string, unresolvedOnly bool, offset, limit int) ([]*ErrorRow, error) {
	q := `SELECT e.id, e.request_id, e.error_type, e.error_class, e.message, e.request_url, e.context_json,
		e.selector, e.selector_type, e.expected_min, e.expected_max, e.actual_count, e.model_name,
		e.validation_errors_json, e.failed_doc_json, e.status_code, e.timeout_seconds, e.traceback,
		e.is_resolved, e.resolved_at, e.resolution_notes, e.created_at
		FROM errors e`
	var args []any
	var where []string
	if continuation != "" {
		q += ` JOIN requests r ON r.id = e.request_id`
		where = append(where, `r.continuation = ?`)
		args = append(args, continuation)
	}
	if errorType != "" {
		where = append(where, `e.error_type = ?`)
		args = append(args, errorType)
	}
	if unresolvedOnly {
		where = append(where, `e.is_resolved = 0`)
	}
	for i, w := range where {
		if i == 0 {
			q += ` WHERE ` + w
		} else {
			q += ` AND ` + w
		}
	}
	if limit <= 0 {
		limit = 50
	}
	q += ` ORDER BY e.created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list errors: %w", err)
	}
	defer rows.Close()

	var out []*ErrorRow
	for rows.Next() {
		e, err := scanError(rows)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ResolveError marks an error resolved, grounded on errors.py's resolve_error.
func (s *Store) ResolveError(ctx context.Context, id int64, notes string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE errors SET is_resolved=1, resolved_at=?, resolution_notes=?
		WHERE id=? AND is_resolved=0`, nowMillis(), notes, id)
	if err != nil {
		return false, fmt.Errorf("resolve error: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RequeueResult is the outcome of a requeue: the new pending request ids
// cloned from each error's originating request, and the error ids that
// were resolved as a result. The two slices are parallel.
type RequeueResult struct {
	RequeuedRequestIDs []int64
	ResolvedErrorIDs   []int64
}

// RequeueError clones the request that produced error id into a fresh
// pending request and resolves the error with a back-reference to it,
// grounded on persistent_driver.py's requeue_error.
func (s *Store) RequeueError(ctx context.Context, id int64) (*RequeueResult, error) {
	e, err := s.GetError(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get error: %w", err)
	}
	if e == nil {
		return nil, fmt.Errorf("no error found with id %d", id)
	}
	if e.IsResolved {
		return nil, fmt.Errorf("error %d is already resolved", id)
	}
	if e.RequestID == nil {
		return nil, fmt.Errorf("error %d has no originating request to clone", id)
	}

	req, err := s.GetRequest(ctx, *e.RequestID)
	if err != nil {
		return nil, fmt.Errorf("get request %d: %w", *e.RequestID, err)
	}
	if req == nil {
		return nil, fmt.Errorf("originating request %d not found", *e.RequestID)
	}

	newID, err := s.cloneRequestAsPending(ctx, req)
	if err != nil {
		return nil, err
	}
	if _, err := s.ResolveError(ctx, id, fmt.Sprintf("requeued as request %d", newID)); err != nil {
		return nil, fmt.Errorf("resolve error %d: %w", id, err)
	}

	return &RequeueResult{RequeuedRequestIDs: []int64{newID}, ResolvedErrorIDs: []int64{id}}, nil
}

// RequeueErrorsByType clones and requeues every unresolved error matching
// errorType and/or continuation (either may be empty to mean "no filter"),
// in the order the errors were recorded. Each matched error is resolved
// with a back-reference to the request cloned from it. Grounded on
// persistent_driver.py's requeue_errors_by_type.
func (s *Store) RequeueErrorsByType(ctx context.Context, errorType, continuation string) ([]int64, error) {
	q := `SELECT e.id, e.request_id, e.error_type, e.error_class, e.message, e.request_url, e.context_json,
		e.selector, e.selector_type, e.expected_min, e.expected_max, e.actual_count, e.model_name,
		e.validation_errors_json, e.failed_doc_json, e.status_code, e.timeout_seconds, e.traceback,
		e.is_resolved, e.resolved_at, e.resolution_notes, e.created_at
		FROM errors e`
	var args []any
	where := []string{`e.is_resolved = 0`}
	if continuation != "" {
		q += ` JOIN requests r ON r.id = e.request_id`
		where = append(where, `r.continuation = ?`)
		args = append(args, continuation)
	}
	if errorType != "" {
		where = append(where, `e.error_type = ?`)
		args = append(args, errorType)
	}
	q += ` WHERE ` + strings.Join(where, " AND ") + ` ORDER BY e.created_at ASC, e.id ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("requeue errors by type: %w", err)
	}
	var matched []*ErrorRow
	for rows.Next() {
		e, err := scanError(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan error: %w", err)
		}
		matched = append(matched, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	newIDs := make([]int64, 0, len(matched))
	for _, e := range matched {
		if e.RequestID == nil {
			continue
		}
		req, err := s.GetRequest(ctx, *e.RequestID)
		if err != nil {
			return nil, fmt.Errorf("get request %d: %w", *e.RequestID, err)
		}
		if req == nil {
			continue
		}
		newID, err := s.cloneRequestAsPending(ctx, req)
		if err != nil {
			return nil, err
		}
		if _, err := s.ResolveError(ctx, e.ID, fmt.Sprintf("requeued as request %d", newID)); err != nil {
			return nil, fmt.Errorf("resolve error %d: %w", e.ID, err)
		}
		newIDs = append(newIDs, newID)
	}
	return newIDs, nil
}
