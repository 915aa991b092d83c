package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RateLimiterStateRow mirrors the rate_limiter_state table,
// the single persisted row backing internal/ratelimit's ATB.
type RateLimiterStateRow struct {
	Tokens             float64
	Rate               float64
	BucketSize         float64
	LastCongestionRate float64
	LastUsedAt         time.Time
	TotalRequests      int64
	TotalSuccesses     int64
	TotalRateLimited   int64
}

// LoadRateLimiterState returns the persisted state, or nil if this is the
// first run (the caller then initializes from config, per 's
// RateLimiterState lifecycle).
func (s *Store) LoadRateLimiterState(ctx context.Context) (*RateLimiterStateRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tokens, rate, bucket_size, last_congestion_rate, last_used_at,
		       total_requests, total_successes, total_rate_limited
		FROM rate_limiter_state WHERE id = 1`)
	var r RateLimiterStateRow
	var lastUsed int64
	if err := row.Scan(&r.Tokens, &r.Rate, &r.BucketSize, &r.LastCongestionRate, &lastUsed,
		&r.TotalRequests, &r.TotalSuccesses, &r.TotalRateLimited); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load rate limiter state: %w", err)
	}
	r.LastUsedAt = time.UnixMilli(lastUsed)
	return &r, nil
}

// SaveRateLimiterState writes the full state row on every adjustment, per
// the persistence contract.
func (s *Store) SaveRateLimiterState(ctx context.Context, r *RateLimiterStateRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rate_limiter_state (id, tokens, rate, bucket_size, last_congestion_rate,
			last_used_at, total_requests, total_successes, total_rate_limited)
		VALUES (1,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			tokens=excluded.tokens, rate=excluded.rate, bucket_size=excluded.bucket_size,
			last_congestion_rate=excluded.last_congestion_rate, last_used_at=excluded.last_used_at,
			total_requests=excluded.total_requests, total_successes=excluded.total_successes,
			total_rate_limited=excluded.total_rate_limited`,
		r.Tokens, r.Rate, r.BucketSize, r.LastCongestionRate, r.LastUsedAt.UnixMilli(),
		r.TotalRequests, r.TotalSuccesses, r.TotalRateLimited,
	)
	if err != nil {
		return fmt.Errorf("save rate limiter state: %w", err)
	}
	return nil
}
