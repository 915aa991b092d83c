package worker

import (
	"context"
	"time"
)

const monitorInterval = 60 * time.Second

// RateProvider reports the current request rate, used to decide whether
// scaling up is warranted.
type RateProvider interface {
	CurrentRate() float64
}

// Monitor periodically scales Pool up: every 60s, if there is pending
// work, the pool is below max_workers, and the rate limiter's current
// rate exceeds twice the active worker count, one more worker is
// spawned. The monitor exits once the pool has gone idle (no active
// workers, no pending requests).
func (p *Pool) Monitor(ctx context.Context, rate RateProvider, onScale func(workerID int64, active int, currentRate float64, pending int)) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	p.logger.Info("worker monitor started", "max_workers", p.maxWorkers)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("worker monitor stopped: context cancelled")
			return
		case <-ticker.C:
		}

		active := p.ActiveWorkerCount()
		pending, err := p.st.CountPending(ctx, p.runID)
		if err != nil {
			p.logger.Error("worker monitor: count pending failed", "error", err)
			continue
		}

		if active == 0 && pending == 0 {
			p.logger.Info("worker monitor exiting: no workers and no pending requests")
			return
		}
		if pending == 0 {
			continue
		}
		if active >= p.maxWorkers {
			continue
		}

		currentRate := rate.CurrentRate()
		if currentRate > 2*float64(active) {
			id := p.SpawnWorker(ctx)
			newActive := p.ActiveWorkerCount()
			p.logger.Info("worker monitor: scaled up", "active_workers", newActive, "current_rate", currentRate, "pending", pending)
			if onScale != nil {
				onScale(id, newActive, currentRate, pending)
			}
		}
	}
}
