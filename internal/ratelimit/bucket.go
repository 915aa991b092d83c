// Package ratelimit implements an adaptive token bucket rate limiter:
// tokens accrue at a rate that climbs on success and backs off on
// congestion signals, so a scraper speeds up against a tolerant target
// and slows down against one that pushes back.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Config holds the bucket's tunable constants.
type Config struct {
	BucketSize        float64
	InitialTokens     float64
	InitialRate       float64
	InitialCongestion float64
	FirstStep         float64 // aggressive multiplicative increase
	SecondStep        float64 // conservative multiplicative increase
	MinRate           float64
	MaxRate           float64
}

// DefaultConfig mirrors ATBConfig's dataclass defaults exactly.
func DefaultConfig() Config {
	return Config{
		BucketSize:        4.0,
		InitialTokens:     1.0,
		InitialRate:       0.1,
		InitialCongestion: 1.0,
		FirstStep:         1.5,
		SecondStep:        1.2,
		MinRate:           0.01,
		MaxRate:           40.0,
	}
}

// State is the in-memory mirror of store.RateLimiterStateRow.
type State struct {
	Tokens             float64
	Rate               float64
	BucketSize         float64
	LastCongestionRate float64
	LastUsedAt         time.Time
	TotalRequests      int64
	TotalSuccesses     int64
	TotalRateLimited   int64
}

// Persister is a sink for bucket state, kept as an interface here so
// ratelimit has no import-time dependency on database/sql.
// internal/store.Store does not satisfy it: its SaveRateLimiterState takes
// a *store.RateLimiterStateRow rather than a State.
type Persister interface {
	SaveState(ctx context.Context, s State) error
}

// Bucket is the mutex-guarded ATB limiter. All fetches go through
// Acquire/Adjust, grounded on ATBAsyncRequestManager.resolve_request.
type Bucket struct {
	mu    sync.Mutex
	cfg   Config
	state State
}

// New builds a Bucket from either persisted state (resume) or cfg
// defaults (first run). On resume, tokens are regenerated by
// elapsed-time accounting.
func New(cfg Config, persisted *State) *Bucket {
	b := &Bucket{cfg: cfg}
	if persisted != nil {
		b.state = *persisted
		elapsed := time.Since(b.state.LastUsedAt).Seconds()
		if elapsed > 0 {
			b.state.Tokens = min(b.state.BucketSize, b.state.Tokens+elapsed*b.state.Rate)
		}
		b.state.LastUsedAt = time.Now()
		return b
	}
	b.state = State{
		Tokens:             cfg.InitialTokens,
		Rate:               cfg.InitialRate,
		BucketSize:         cfg.BucketSize,
		LastCongestionRate: cfg.InitialCongestion,
		LastUsedAt:         time.Now(),
	}
	return b
}

// Snapshot returns a copy of the current state for persistence or
// monitoring (internal/driver's status()).
func (b *Bucket) Snapshot() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Acquire blocks (respecting ctx) until a token is available, staggering
// concurrent callers to 1/rate apart rather than stampeding, exactly per
// _acquire_token: reserve under the lock by decrementing (possibly
// negative), release the lock, then sleep outside it so other callers can
// calculate their own slot concurrently.
func (b *Bucket) Acquire(ctx context.Context) error {
	b.mu.Lock()
	now := time.Now()
	elapsed := now.Sub(b.state.LastUsedAt).Seconds()
	if elapsed > 0 {
		b.state.Tokens = min(b.state.BucketSize, b.state.Tokens+elapsed*b.state.Rate)
	}
	b.state.LastUsedAt = now
	b.state.TotalRequests++

	if b.state.Tokens >= 1 {
		b.state.Tokens--
		b.mu.Unlock()
		return nil
	}

	wait := (1 - b.state.Tokens) / b.state.Rate
	b.state.Tokens-- // reserve the slot, going negative
	b.mu.Unlock()

	timer := time.NewTimer(time.Duration(wait * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AdjustForStatus implements the rate-adjustment rules,
// grounded on _adjust_rate_for_response/_increase_rate/_decrease_rate.
func (b *Bucket) AdjustForStatus(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case status >= 200 && status < 300:
		b.state.TotalSuccesses++
		var newRate float64
		if b.state.Rate < b.state.LastCongestionRate {
			newRate = maxF(b.state.Rate+0.01, b.state.Rate*b.cfg.FirstStep)
		} else {
			newRate = maxF(b.state.Rate+0.01, b.state.Rate*b.cfg.SecondStep)
		}
		if newRate > b.cfg.MaxRate {
			newRate = b.cfg.MaxRate
		}
		b.state.Rate = newRate
	case isCongestionStatus(status):
		b.state.TotalRateLimited++
		b.state.LastCongestionRate = b.state.Rate
		newRate := b.state.Rate / 2
		if newRate < b.cfg.MinRate {
			newRate = b.cfg.MinRate
		}
		b.state.Rate = newRate
		b.state.Tokens = 0
	default:
		// no rate change
	}
}

func isCongestionStatus(status int) bool {
	switch status {
	case 408, 425, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
