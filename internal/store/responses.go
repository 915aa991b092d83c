package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Response mirrors the responses table.
type Response struct {
	ID                 int64
	RequestID          int64
	StatusCode         int
	HeadersJSON        string
	FinalURL           string
	Body               []byte // zstd-compressed
	OriginalSize       int
	DictID             *int64
	WARCRecordID       string
	Continuation       string
	SpeculationOutcome *string
	FetchedAt          time.Time
}

// InsertResponse persists a Response row. Per 's ordering
// guarantee, callers must insert the response before invoking the
// continuation.
func (s *Store) InsertResponse(ctx context.Context, r *Response) (int64, error) {
	if r.WARCRecordID == "" {
		r.WARCRecordID = uuid.NewString()
	}
	if r.FetchedAt.IsZero() {
		r.FetchedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO responses (
			request_id, status_code, headers_json, final_url, body,
			original_size, dict_id, warc_record_id, continuation,
			speculation_outcome, fetched_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		r.RequestID, r.StatusCode, r.HeadersJSON, r.FinalURL, r.Body,
		r.OriginalSize, r.DictID, r.WARCRecordID, r.Continuation,
		r.SpeculationOutcome, r.FetchedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert response: %w", err)
	}
	return res.LastInsertId()
}

const responseColumns = `id, request_id, status_code, headers_json, final_url, body,
	original_size, dict_id, warc_record_id, continuation, speculation_outcome, fetched_at`

func scanResponse(sc interface{ Scan(...any) error }) (*Response, error) {
	var r Response
	var fetchedAt int64
	if err := sc.Scan(
		&r.ID, &r.RequestID, &r.StatusCode, &r.HeadersJSON, &r.FinalURL, &r.Body,
		&r.OriginalSize, &r.DictID, &r.WARCRecordID, &r.Continuation,
		&r.SpeculationOutcome, &fetchedAt,
	); err != nil {
		return nil, err
	}
	r.FetchedAt = time.UnixMilli(fetchedAt)
	return &r, nil
}

// GetResponse fetches a single response get_response.
func (s *Store) GetResponse(ctx context.Context, id int64) (*Response, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+responseColumns+` FROM responses WHERE id=?`, id)
	r, err := scanResponse(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// GetResponseByRequest fetches the response attached to a request.
func (s *Store) GetResponseByRequest(ctx context.Context, requestID int64) (*Response, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+responseColumns+` FROM responses WHERE request_id=?`, requestID)
	r, err := scanResponse(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// ListResponses implements the list_responses.
func (s *Store) ListResponses(ctx context.Context, continuation string, offset, limit int) ([]*Response, error) {
	q := `SELECT ` + responseColumns + ` FROM responses`
	var args []any
	if continuation != "" {
		q += ` WHERE continuation = ?`
		args = append(args, continuation)
	}
	if limit <= 0 {
		limit = 50
	}
	q += ` ORDER BY id ASC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()

	var out []*Response
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ArchivedFile mirrors the archived_files table.
type ArchivedFile struct {
	ID           int64
	RequestID    int64
	FilePath     string
	OriginalURL  string
	ExpectedType *string
	FileSize     int64
	ContentHash  string
	CreatedAt    time.Time
}

// InsertArchivedFile persists an ArchivedFile row.
func (s *Store) InsertArchivedFile(ctx context.Context, a *ArchivedFile) (int64, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO archived_files (request_id, file_path, original_url, expected_type, file_size, content_hash, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		a.RequestID, a.FilePath, a.OriginalURL, a.ExpectedType, a.FileSize, a.ContentHash, a.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert archived file: %w", err)
	}
	return res.LastInsertId()
}
