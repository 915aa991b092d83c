// Package store implements the driver's single embedded relational
// store: schema ownership, connection lifecycle, and the atomic dequeue
// contract the worker pool depends on, backed by SQLite with a
// single-writer connection.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store owns the database connection and an in-process queue-counter
// allocator guarded by an atomic, avoiding a round trip to the database
// for every enqueue just to assign an ordering counter.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	counter atomic.Int64
}

// Open opens (creating if necessary) the SQLite file at path, applies the
// schema, enables WAL mode, and seeds the queue-counter allocator from the
// current maximum.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer contract: one database, one process

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &Store{db: db, logger: logger}

	var maxCounter sql.NullInt64
	row := db.QueryRowContext(ctx, `SELECT MAX(queue_counter) FROM requests`)
	if err := row.Scan(&maxCounter); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed queue counter: %w", err)
	}
	s.counter.Store(maxCounter.Int64)

	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the raw *sql.DB behind the store. Every table, including
// compression_dicts and rate_limiter_state, is defined in schema.go.
func (s *Store) DB() *sql.DB { return s.db }

// NextQueueCounter allocates the next monotonic FIFO tie-break value.
func (s *Store) NextQueueCounter() int64 { return s.counter.Add(1) }

func nowMillis() int64 { return time.Now().UnixMilli() }

func timeFromMillis(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := time.UnixMilli(ms.Int64)
	return &t
}
