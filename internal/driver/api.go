package driver

import (
	"context"
	"fmt"

	"github.com/crawlkeep/crawlkeep/internal/ratelimit"
	"github.com/crawlkeep/crawlkeep/internal/speculate"
	"github.com/crawlkeep/crawlkeep/internal/store"
)

// RunID returns the id of the run started by the last call to Run.
func (d *Driver) RunID() string { return d.runID }

// GetRequest returns one request row by id.
func (d *Driver) GetRequest(ctx context.Context, id int64) (*store.Request, error) {
	return d.st.GetRequest(ctx, id)
}

// ListRequests returns request rows matching f.
func (d *Driver) ListRequests(ctx context.Context, f store.ListRequestsFilter) ([]*store.Request, error) {
	return d.st.ListRequests(ctx, f)
}

// ListResults returns stored results of resultType, optionally filtered by
// validity.
func (d *Driver) ListResults(ctx context.Context, resultType string, isValid *bool, offset, limit int) ([]*store.Result, error) {
	return d.st.ListResults(ctx, resultType, isValid, offset, limit)
}

// ListErrors returns stored error rows, optionally filtered.
func (d *Driver) ListErrors(ctx context.Context, errorType, continuation string, unresolvedOnly bool, offset, limit int) ([]*store.ErrorRow, error) {
	return d.st.ListErrors(ctx, errorType, continuation, unresolvedOnly, offset, limit)
}

// ListResponses returns stored response rows, optionally filtered by
// continuation. Body stays compressed; call GetResponse for the
// originally-fetched bytes.
func (d *Driver) ListResponses(ctx context.Context, continuation string, offset, limit int) ([]*store.Response, error) {
	return d.st.ListResponses(ctx, continuation, offset, limit)
}

// GetResponse fetches one response row and decompresses its body back to
// the bytes originally received over the wire.
func (d *Driver) GetResponse(ctx context.Context, id int64) (*store.Response, []byte, error) {
	resp, err := d.st.GetResponse(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("get response: %w", err)
	}
	if resp == nil {
		return nil, nil, nil
	}
	body, err := d.compressReg.Decompress(resp.Body, resp.DictID)
	if err != nil {
		return nil, nil, fmt.Errorf("decompress response body: %w", err)
	}
	return resp, body, nil
}

// GetResult returns one stored parse result by id.
func (d *Driver) GetResult(ctx context.Context, id int64) (*store.Result, error) {
	return d.st.GetResult(ctx, id)
}

// Status summarizes the active run's progress for CLI/monitoring use.
type Status struct {
	RunID      string
	Pending    int
	InProgress int
}

// Status reports the active run's current queue depth.
func (d *Driver) Status(ctx context.Context) (Status, error) {
	pending, err := d.CountPending(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("count pending: %w", err)
	}
	inProgress, err := d.CountInProgress(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("count in progress: %w", err)
	}
	return Status{RunID: d.runID, Pending: pending, InProgress: inProgress}, nil
}

// RateLimiterSnapshot exposes the live ATB state for monitoring.
func (d *Driver) RateLimiterSnapshot() ratelimit.State {
	return d.limiter.Snapshot()
}

// SpeculationSnapshot exposes one registered speculation function's
// current exploration state, or the zero State if functionName isn't
// registered.
func (d *Driver) SpeculationSnapshot(functionName string) speculate.State {
	exp, ok := d.explorers[functionName]
	if !ok {
		return speculate.State{}
	}
	return exp.Snapshot()
}

// CountPending and CountInProgress expose the current run's queue depth,
// primarily for CLI status reporting.
func (d *Driver) CountPending(ctx context.Context) (int, error) {
	return d.st.CountPending(ctx, d.runID)
}

func (d *Driver) CountInProgress(ctx context.Context) (int, error) {
	return d.st.CountInProgress(ctx, d.runID)
}
