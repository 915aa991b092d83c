package driver

import (
	"context"
	"fmt"

	"github.com/crawlkeep/crawlkeep/internal/store"
)

// RequeueError clones the request behind a recorded error into a new
// pending request and resolves the error with a back-reference to it,
// letting the worker pool pick the clone up on a future run. This is the
// operator-facing recovery path for errors judged worth retrying after
// the fact (e.g. once a downstream outage has cleared).
func (d *Driver) RequeueError(ctx context.Context, errorID int64) (*store.RequeueResult, error) {
	res, err := d.st.RequeueError(ctx, errorID)
	if err != nil {
		return nil, fmt.Errorf("requeue error: %w", err)
	}
	return res, nil
}

// RequeueErrorsByType batch-requeues every unresolved error matching
// errorType and/or continuation (either may be empty to mean "no
// filter"), returning the new pending request ids in the order the
// originating errors were recorded.
func (d *Driver) RequeueErrorsByType(ctx context.Context, errorType, continuation string) ([]int64, error) {
	ids, err := d.st.RequeueErrorsByType(ctx, errorType, continuation)
	if err != nil {
		return nil, fmt.Errorf("requeue errors by type: %w", err)
	}
	return ids, nil
}

// Cancel marks a pending request cancelled so the worker pool skips it.
func (d *Driver) Cancel(ctx context.Context, requestID int64) (bool, error) {
	return d.st.CancelRequest(ctx, requestID)
}

// CancelByContinuation cancels every pending request registered against
// continuation, useful for an operator pruning a run mid-flight once a
// continuation is known to be producing bad data.
func (d *Driver) CancelByContinuation(ctx context.Context, runID, continuation string) (int64, error) {
	return d.st.CancelRequestsByContinuation(ctx, runID, continuation)
}
