package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RequestType enumerates the dispatch algebra's request variants.
type RequestType string

const (
	Navigating    RequestType = "navigating"
	NonNavigating RequestType = "non_navigating"
	Archive       RequestType = "archive"
)

// Status enumerates a Request's lifecycle state.
type Status string

const (
	Pending    Status = "pending"
	InProgress Status = "in_progress"
	Completed  Status = "completed"
	Failed     Status = "failed"
	Held       Status = "held"
)

// SkipDedup is the sentinel DedupKey value meaning "bypass the dedup
// check for this enqueue."
const SkipDedup = "\x00skip-dedup\x00"

// Request mirrors the requests table row-for-row.
type Request struct {
	ID                  int64
	RunID               string
	ParentID            *int64
	QueueCounter        int64
	RequestType         RequestType
	Method              string
	URL                 string
	HeadersJSON         string
	CookiesJSON         string
	Body                []byte
	BodyIsJSON          bool
	Continuation        string
	ExpectedType        *string
	Priority            int
	AccumulatedDataJSON string
	AuxDataJSON         string
	PermanentJSON       string
	DedupKey            *string
	Status              Status
	RetryCount          int
	CumulativeBackoff   float64
	NextReadyAt         *time.Time
	LastError           *string
	IsSpeculative        bool
	SpeculationFunc      *string
	SpeculationID        *int64
	CreatedAt            time.Time
	StartedAt            *time.Time
	CompletedAt          *time.Time
}

// InsertRequest persists a new pending (or held) request row and returns
// its assigned id. A non-nil, non-SkipDedup DedupKey that collides with
// an existing row is a silent no-op: the returned id is
// 0 and err is nil.
func (s *Store) InsertRequest(ctx context.Context, r *Request) (int64, error) {
	var dedup any
	if r.DedupKey != nil && *r.DedupKey != SkipDedup {
		dedup = *r.DedupKey
	}

	r.QueueCounter = s.NextQueueCounter()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO requests (
			run_id, parent_id, queue_counter, request_type, method, url,
			headers_json, cookies_json, body, body_is_json, continuation,
			expected_type, priority, accumulated_data_json, aux_data_json,
			permanent_json, dedup_key, status, retry_count, cumulative_backoff,
			next_ready_at, last_error, is_speculative, speculation_func,
			speculation_id, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`,
		r.RunID, r.ParentID, r.QueueCounter, string(r.RequestType), r.Method, r.URL,
		r.HeadersJSON, r.CookiesJSON, r.Body, r.BodyIsJSON, r.Continuation,
		r.ExpectedType, r.Priority, r.AccumulatedDataJSON, r.AuxDataJSON,
		r.PermanentJSON, dedup, string(Pending), r.RetryCount, r.CumulativeBackoff,
		millisPtr(r.NextReadyAt), r.LastError, r.IsSpeculative, r.SpeculationFunc,
		r.SpeculationID, r.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("insert request rows affected: %w", err)
	}
	if n == 0 {
		// INSERT OR IGNORE skipped the row: dedup_key collision.
		return 0, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert request last id: %w", err)
	}
	return id, nil
}

const requestColumns = `id, run_id, parent_id, queue_counter, request_type, method, url,
	headers_json, cookies_json, body, body_is_json, continuation, expected_type,
	priority, accumulated_data_json, aux_data_json, permanent_json, dedup_key,
	status, retry_count, cumulative_backoff, next_ready_at, last_error,
	is_speculative, speculation_func, speculation_id, created_at, started_at, completed_at`

func scanRequest(sc interface{ Scan(...any) error }) (*Request, error) {
	var r Request
	var nextReady, createdAt, startedAt, completedAt sql.NullInt64
	var status string
	var reqType string
	if err := sc.Scan(
		&r.ID, &r.RunID, &r.ParentID, &r.QueueCounter, &reqType, &r.Method, &r.URL,
		&r.HeadersJSON, &r.CookiesJSON, &r.Body, &r.BodyIsJSON, &r.Continuation, &r.ExpectedType,
		&r.Priority, &r.AccumulatedDataJSON, &r.AuxDataJSON, &r.PermanentJSON, &r.DedupKey,
		&status, &r.RetryCount, &r.CumulativeBackoff, &nextReady, &r.LastError,
		&r.IsSpeculative, &r.SpeculationFunc, &r.SpeculationID, &createdAt, &startedAt, &completedAt,
	); err != nil {
		return nil, err
	}
	r.Status = Status(status)
	r.RequestType = RequestType(reqType)
	r.NextReadyAt = timeFromMillis(nextReady)
	if createdAt.Valid {
		r.CreatedAt = time.UnixMilli(createdAt.Int64)
	}
	r.StartedAt = timeFromMillis(startedAt)
	r.CompletedAt = timeFromMillis(completedAt)
	return &r, nil
}

// DequeueNext implements the atomic dequeue contract: a single
// UPDATE...RETURNING statement selects the lowest (priority, queue_counter)
// pending row whose next_ready_at is due, flips it to in_progress, and
// returns it — all in one transaction, so two concurrent workers can
// never claim the same row.
func (s *Store) DequeueNext(ctx context.Context, runID string) (*Request, error) {
	now := nowMillis()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin dequeue tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		UPDATE requests
		SET status = 'in_progress', started_at = ?
		WHERE id = (
			SELECT id FROM requests
			WHERE run_id = ? AND status = 'pending'
			  AND (next_ready_at IS NULL OR next_ready_at <= ?)
			ORDER BY priority ASC, queue_counter ASC
			LIMIT 1
		)
		RETURNING `+requestColumns,
		now, runID, now,
	)
	r, err := scanRequest(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit dequeue: %w", err)
	}
	return r, nil
}

// NextScheduledRetry returns the earliest future next_ready_at among
// pending rows, or nil if there is none — used by the worker loop to
// sleep precisely instead of polling.
func (s *Store) NextScheduledRetry(ctx context.Context, runID string) (*time.Time, error) {
	var ms sql.NullInt64
	row := s.db.QueryRowContext(ctx, `
		SELECT MIN(next_ready_at) FROM requests
		WHERE run_id = ? AND status = 'pending' AND next_ready_at IS NOT NULL`, runID)
	if err := row.Scan(&ms); err != nil {
		return nil, fmt.Errorf("next scheduled retry: %w", err)
	}
	return timeFromMillis(ms), nil
}

// CountPending and CountInProgress back the worker pool's idle-exit check.
func (s *Store) CountPending(ctx context.Context, runID string) (int, error) {
	return s.countWhere(ctx, runID, "status = 'pending'")
}

func (s *Store) CountInProgress(ctx context.Context, runID string) (int, error) {
	return s.countWhere(ctx, runID, "status = 'in_progress'")
}

func (s *Store) countWhere(ctx context.Context, runID, cond string) (int, error) {
	var n int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM requests WHERE run_id = ? AND `+cond, runID)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count requests: %w", err)
	}
	return n, nil
}

// MarkCompleted flips a request to completed.
func (s *Store) MarkCompleted(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE requests SET status='completed', completed_at=? WHERE id=?`, nowMillis(), id)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

// MarkFailed flips a request to failed, recording the terminal error.
func (s *Store) MarkFailed(ctx context.Context, id int64, lastError string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE requests SET status='failed', completed_at=?, last_error=? WHERE id=?`, nowMillis(), lastError, id)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// ScheduleRetry implements the retry state machine's successful-reschedule
// path: the row returns to pending with incremented
// retry_count and next_ready_at set.
func (s *Store) ScheduleRetry(ctx context.Context, id int64, newCumulativeBackoff float64, nextReadyAt time.Time, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE requests
		SET status='pending', retry_count=retry_count+1, cumulative_backoff=?,
		    next_ready_at=?, last_error=?, started_at=NULL
		WHERE id=?`,
		newCumulativeBackoff, nextReadyAt.UnixMilli(), lastError, id,
	)
	if err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	return nil
}

// CancelRequest moves a {pending, held} request to failed; in_progress
// rows cannot be cancelled mid-flight.
func (s *Store) CancelRequest(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE requests SET status='failed', completed_at=?, last_error='cancelled'
		WHERE id=? AND status IN ('pending','held')`, nowMillis(), id)
	if err != nil {
		return false, fmt.Errorf("cancel request: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CancelRequestsByContinuation batch-cancels {pending, held} requests for
// a continuation name.
func (s *Store) CancelRequestsByContinuation(ctx context.Context, runID, continuation string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE requests SET status='failed', completed_at=?, last_error='cancelled'
		WHERE run_id=? AND continuation=? AND status IN ('pending','held')`,
		nowMillis(), runID, continuation)
	if err != nil {
		return 0, fmt.Errorf("cancel requests by continuation: %w", err)
	}
	return res.RowsAffected()
}

// GetRequest fetches a single request row.
func (s *Store) GetRequest(ctx context.Context, id int64) (*Request, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id=?`, id)
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// ListRequestsFilter narrows ListRequests; zero values mean "no filter."
type ListRequestsFilter struct {
	RunID        string
	Status       Status
	Continuation string
	Offset       int
	Limit        int
}

// ListRequests implements the list_requests listing operation.
func (s *Store) ListRequests(ctx context.Context, f ListRequestsFilter) ([]*Request, error) {
	q := `SELECT ` + requestColumns + ` FROM requests WHERE run_id = ?`
	args := []any{f.RunID}
	if f.Status != "" {
		q += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.Continuation != "" {
		q += ` AND continuation = ?`
		args = append(args, f.Continuation)
	}
	q += ` ORDER BY id ASC LIMIT ? OFFSET ?`
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CheckDedupKeyExists reports whether a non-sentinel dedup key is already
// present among requests in this run.
func (s *Store) CheckDedupKeyExists(ctx context.Context, runID, dedupKey string) (bool, error) {
	var n int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM requests WHERE run_id=? AND dedup_key=?`, runID, dedupKey)
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("check dedup key: %w", err)
	}
	return n > 0, nil
}

// cloneRequestAsPending inserts a fresh pending request copying req's wire
// parameters, with parent_id pointing back at req and the dedup check
// bypassed (req's own dedup key, if any, is already taken by req itself).
func (s *Store) cloneRequestAsPending(ctx context.Context, req *Request) (int64, error) {
	skip := SkipDedup
	clone := &Request{
		RunID:               req.RunID,
		ParentID:            &req.ID,
		RequestType:         req.RequestType,
		Method:              req.Method,
		URL:                 req.URL,
		HeadersJSON:         req.HeadersJSON,
		CookiesJSON:         req.CookiesJSON,
		Body:                req.Body,
		BodyIsJSON:          req.BodyIsJSON,
		Continuation:        req.Continuation,
		ExpectedType:        req.ExpectedType,
		Priority:            req.Priority,
		AccumulatedDataJSON: req.AccumulatedDataJSON,
		AuxDataJSON:         req.AuxDataJSON,
		PermanentJSON:       req.PermanentJSON,
		DedupKey:            &skip,
		IsSpeculative:       req.IsSpeculative,
		SpeculationFunc:     req.SpeculationFunc,
		SpeculationID:       req.SpeculationID,
	}
	id, err := s.InsertRequest(ctx, clone)
	if err != nil {
		return 0, fmt.Errorf("clone request %d: %w", req.ID, err)
	}
	return id, nil
}

func millisPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
