package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crawlkeep/crawlkeep/internal/store"
)

type fakeStore struct {
	mu       sync.Mutex
	queue    []*store.Request
	nextRetry *time.Time
}

func (f *fakeStore) DequeueNext(ctx context.Context, runID string) (*store.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return nil, nil
	}
	r := f.queue[0]
	f.queue = f.queue[1:]
	return r, nil
}

func (f *fakeStore) NextScheduledRetry(ctx context.Context, runID string) (*time.Time, error) {
	return f.nextRetry, nil
}

func (f *fakeStore) CountPending(ctx context.Context, runID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue), nil
}

func (f *fakeStore) CountInProgress(ctx context.Context, runID string) (int, error) {
	return 0, nil
}

type fakeProcessor struct {
	processed atomic.Int64
	failOn    int64
}

func (f *fakeProcessor) Process(ctx context.Context, req *store.Request) error {
	f.processed.Add(1)
	if f.failOn != 0 && req.ID == f.failOn {
		return errors.New("boom")
	}
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestPoolDrainsQueueThenExitsOnIdle(t *testing.T) {
	fs := &fakeStore{queue: []*store.Request{{ID: 1}, {ID: 2}, {ID: 3}}}
	fp := &fakeProcessor{}
	p := New(fs, fp, discardLogger(), "run-1", 2)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	p.Start(ctx, 1)

	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatalf("worker did not exit after queue drained")
	}

	if fp.processed.Load() != 3 {
		t.Fatalf("expected 3 processed requests, got %d", fp.processed.Load())
	}
}

func TestPoolContinuesAfterProcessorError(t *testing.T) {
	fs := &fakeStore{queue: []*store.Request{{ID: 1}, {ID: 2}}}
	fp := &fakeProcessor{failOn: 1}
	p := New(fs, fp, discardLogger(), "run-1", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	p.Start(ctx, 1)
	p.Wait()

	if fp.processed.Load() != 2 {
		t.Fatalf("expected both requests attempted despite the first failing, got %d", fp.processed.Load())
	}
}
