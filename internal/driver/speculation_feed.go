package driver

import (
	"context"
	"time"

	"github.com/crawlkeep/crawlkeep/internal/queue"
)

// speculationBatchSize is how many not-yet-probed ids are enqueued per
// refill tick, per registered speculation function.
const speculationBatchSize = 20

// speculationFeedInterval is how often the feed loop tops up the queue
// with the next batch of speculative ids.
const speculationFeedInterval = 2 * time.Second

// feedSpeculations enqueues the first batch for every registered
// speculation function, then periodically tops up the queue as ids
// resolve and the exploration frontier advances, until ctx is done.
// Re-enqueuing an id already seen is harmless: internal/queue's dedup key
// silently drops the duplicate row.
func (d *Driver) feedSpeculations(ctx context.Context, runID string) {
	if len(d.explorers) == 0 {
		return
	}
	d.seedSpeculationBatch(ctx, runID)

	ticker := time.NewTicker(speculationFeedInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.seedSpeculationBatch(ctx, runID)
		}
	}
}

func (d *Driver) seedSpeculationBatch(ctx context.Context, runID string) {
	for name, exp := range d.explorers {
		cfg := d.speculationConfig(name)
		if cfg.BuildRequest == nil {
			continue
		}
		ids := exp.NextBatch(speculationBatchSize)
		for _, id := range ids {
			req := cfg.BuildRequest(id)
			req.IsSpeculative = true
			req.SpeculationFunc = name
			req.SpeculationID = id
			if _, err := queue.Enqueue(ctx, d.st, queue.EnqueueContext{RunID: runID}, req); err != nil {
				d.logger.Warn("enqueue speculative request failed", "function", name, "id", id, "error", err)
			}
		}
	}
}
