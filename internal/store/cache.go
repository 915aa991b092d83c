package store

import (
	"context"
	"database/sql"
	"fmt"
)

// CachedResponse mirrors the cached_responses table.
type CachedResponse struct {
	ID          int64
	CacheKey    string
	StatusCode  int
	HeadersJSON string
	Body        []byte // zstd-compressed
	DictID      *int64
}

// GetCachedResponse performs a read-only cache lookup; a hit lets the
// rate limiter short-circuit entirely (no token consumed, no rate
// adjustment).
func (s *Store) GetCachedResponse(ctx context.Context, cacheKey string) (*CachedResponse, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, cache_key, status_code, headers_json, body, dict_id
		FROM cached_responses WHERE cache_key = ?`, cacheKey)
	var c CachedResponse
	if err := row.Scan(&c.ID, &c.CacheKey, &c.StatusCode, &c.HeadersJSON, &c.Body, &c.DictID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get cached response: %w", err)
	}
	return &c, nil
}

// PutCachedResponse inserts or replaces a cache entry keyed by cache_key.
func (s *Store) PutCachedResponse(ctx context.Context, c *CachedResponse) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cached_responses (cache_key, status_code, headers_json, body, dict_id, created_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(cache_key) DO UPDATE SET
			status_code=excluded.status_code, headers_json=excluded.headers_json,
			body=excluded.body, dict_id=excluded.dict_id, created_at=excluded.created_at`,
		c.CacheKey, c.StatusCode, c.HeadersJSON, c.Body, c.DictID, nowMillis(),
	)
	if err != nil {
		return fmt.Errorf("put cached response: %w", err)
	}
	return nil
}

// InsertCompressionDict registers a newly trained dictionary and returns
// its id, for Response/CachedResponse rows to reference.
func (s *Store) InsertCompressionDict(ctx context.Context, continuation string, dictBody []byte, sampleCount int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO compression_dicts (continuation, dict_body, sample_count, created_at)
		VALUES (?,?,?,?)`, continuation, dictBody, sampleCount, nowMillis())
	if err != nil {
		return 0, fmt.Errorf("insert compression dict: %w", err)
	}
	return res.LastInsertId()
}

// LatestCompressionDict returns the most recently trained dictionary body
// for a continuation, or nil if none has been trained yet.
func (s *Store) LatestCompressionDict(ctx context.Context, continuation string) (int64, []byte, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, dict_body FROM compression_dicts
		WHERE continuation = ? ORDER BY id DESC LIMIT 1`, continuation)
	var id int64
	var body []byte
	if err := row.Scan(&id, &body); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil, nil
		}
		return 0, nil, fmt.Errorf("latest compression dict: %w", err)
	}
	return id, body, nil
}

// CompressionDictByID fetches a dictionary body by id, for decompression.
func (s *Store) CompressionDictByID(ctx context.Context, id int64) ([]byte, error) {
	row := s.db.QueryRowContext(ctx, `SELECT dict_body FROM compression_dicts WHERE id=?`, id)
	var body []byte
	if err := row.Scan(&body); err != nil {
		return nil, fmt.Errorf("compression dict by id: %w", err)
	}
	return body, nil
}
