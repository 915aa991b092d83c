package driver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/crawlkeep/crawlkeep/internal/compress"
	"github.com/crawlkeep/crawlkeep/internal/dispatch"
	"github.com/crawlkeep/crawlkeep/internal/httpfetch"
	"github.com/crawlkeep/crawlkeep/internal/queue"
	"github.com/crawlkeep/crawlkeep/internal/ratelimit"
	"github.com/crawlkeep/crawlkeep/internal/scraper"
	"github.com/crawlkeep/crawlkeep/internal/speculate"
	"github.com/crawlkeep/crawlkeep/internal/store"
	"github.com/crawlkeep/crawlkeep/internal/worker"
)

// Driver owns one run's full lifecycle: opening storage, wiring the
// collaborators, dispatching seed invocations, running the worker pool to
// completion, and reporting back through Callbacks.
type Driver struct {
	cfg    Config
	def    *scraper.Scraper
	cb     Callbacks
	logger *slog.Logger

	st          *store.Store
	fetcher     *httpfetch.Fetcher
	compressReg *compress.Registry
	trainer     *compress.Trainer
	limiter     *ratelimit.Bucket
	pool        *worker.Pool
	dispatcher  *dispatch.Dispatcher

	explorers map[string]*speculate.Explorer
	scheduler *speculate.Scheduler

	dictsMu        sync.Mutex
	registeredDict map[int64]bool

	runID  string
	runCtx context.Context
}

// New opens storage and wires every collaborator for def, ready for Run.
func New(ctx context.Context, cfg Config, def *scraper.Scraper, cb Callbacks, logger *slog.Logger) (*Driver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxWorkers <= 0 {
		cfg = DefaultConfig()
	}

	st, err := store.Open(ctx, cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	compressReg, err := compress.NewRegistry()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("new compress registry: %w", err)
	}

	fetcher, err := httpfetch.New(cfg.Fetch)
	if err != nil {
		compressReg.Close()
		st.Close()
		return nil, fmt.Errorf("new fetcher: %w", err)
	}

	rlCfg := cfg.RateLimit
	if len(def.RateLimits) > 0 {
		rl := def.RateLimits[0]
		if rl.Interval > 0 {
			rlCfg.InitialRate = float64(rl.Count) / rl.Interval.Seconds()
		}
	}
	persistedRL, err := st.LoadRateLimiterState(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rate limiter state: %w", err)
	}
	var limiterState *ratelimit.State
	if persistedRL != nil {
		limiterState = &ratelimit.State{
			Tokens:             persistedRL.Tokens,
			Rate:               persistedRL.Rate,
			BucketSize:         persistedRL.BucketSize,
			LastCongestionRate: persistedRL.LastCongestionRate,
			LastUsedAt:         persistedRL.LastUsedAt,
			TotalRequests:      persistedRL.TotalRequests,
			TotalSuccesses:     persistedRL.TotalSuccesses,
			TotalRateLimited:   persistedRL.TotalRateLimited,
		}
	}
	limiter := ratelimit.New(rlCfg, limiterState)

	explorers := make(map[string]*speculate.Explorer, len(def.Speculations))
	for _, sp := range def.Speculations {
		persisted, err := st.LoadSpeculationState(ctx, sp.FunctionName)
		if err != nil {
			return nil, fmt.Errorf("load speculation state for %s: %w", sp.FunctionName, err)
		}
		explorers[sp.FunctionName] = speculate.New(sp, persisted)
	}

	d := &Driver{
		cfg:            cfg,
		def:            def,
		cb:             cb,
		logger:         logger.With("component", "driver", "scraper", def.Name),
		st:             st,
		fetcher:        fetcher,
		compressReg:    compressReg,
		trainer:        compress.NewTrainer(cfg.Compression.TrainingSampleSize, cfg.Compression.MaxDictBytes),
		limiter:        limiter,
		explorers:      explorers,
		registeredDict: make(map[int64]bool),
	}
	d.dispatcher = dispatch.New(st, dispatch.Callbacks{
		OnData:            cb.OnData,
		OnInvalidData:     cb.OnInvalidData,
		OnStructuralError: cb.OnStructuralError,
	})

	if cfg.SpeculationReviveCron != "" && len(explorers) > 0 {
		d.scheduler = speculate.NewScheduler(logger)
		for name, exp := range explorers {
			if err := d.scheduler.Register(ctx, cfg.SpeculationReviveCron, name, exp, cfg.SpeculationReviveWindow); err != nil {
				d.logger.Warn("failed to register speculation revival", "function", name, "error", err)
			}
		}
	}

	return d, nil
}

// Run creates a new run row, dispatches the seed invocations against it,
// and starts the worker pool. It returns immediately with the run id; call
// Wait to block for completion.
func (d *Driver) Run(ctx context.Context, seeds []scraper.EntryInvocation) (string, error) {
	runID := uuid.NewString()
	d.runID = runID
	d.runCtx = ctx

	run := &store.Run{ID: runID, ScraperName: d.def.Name, ScraperVersion: d.def.Version, WorkerCount: d.cfg.InitialWorkers}
	if err := d.st.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}

	for _, inv := range seeds {
		entry := d.findEntry(inv.EntryName)
		if entry == nil {
			return "", fmt.Errorf("driver: no entry registered with name %q", inv.EntryName)
		}
		yields, err := entry.Seed(inv)
		if err != nil {
			return "", fmt.Errorf("seed entry %q: %w", inv.EntryName, err)
		}
		seedCtx := queue.EnqueueContext{RunID: runID}
		for _, y := range yields {
			if y == nil {
				continue
			}
			if _, err := queue.Enqueue(ctx, d.st, seedCtx, y); err != nil {
				return "", fmt.Errorf("enqueue seed yield: %w", err)
			}
		}
	}

	d.startPool(ctx, runID)
	return runID, nil
}

// Resume reopens a previously interrupted (or errored) run, resets its
// stale in_progress rows back to pending so the worker pool reclaims
// them, and restarts the pool against that run without re-seeding. Per
// the at-least-once delivery guarantee, a cancelled run leaves its
// in-progress rows intact for exactly this path. Call Wait afterward
// exactly as with Run.
func (d *Driver) Resume(ctx context.Context, runID string) (string, error) {
	run, err := d.st.GetRun(ctx, runID)
	if err != nil {
		return "", fmt.Errorf("get run: %w", err)
	}
	if run == nil {
		return "", fmt.Errorf("driver: no run found with id %q", runID)
	}
	if run.Status == store.RunRunning || run.Status == store.RunCompleted {
		return "", fmt.Errorf("driver: run %q is %s, not resumable", runID, run.Status)
	}

	if _, err := d.st.ResetInProgressToPending(ctx, runID); err != nil {
		return "", fmt.Errorf("reset in-progress requests: %w", err)
	}
	if err := d.st.ReopenRun(ctx, runID); err != nil {
		return "", fmt.Errorf("reopen run: %w", err)
	}

	d.startPool(ctx, runID)
	return runID, nil
}

// startPool wires the worker pool, monitor and speculation feed against
// runID and starts them; shared by Run and Resume.
func (d *Driver) startPool(ctx context.Context, runID string) {
	d.runID = runID
	d.runCtx = ctx
	d.pool = worker.New(d.st, (*processor)(d), d.logger, runID, d.cfg.MaxWorkers)

	if d.cb.OnRunStart != nil {
		d.cb.OnRunStart(runID)
	}
	d.cb.invokeOnProgress(ProgressEvent{Type: EventRunStarted, Message: runID})

	if d.scheduler != nil {
		d.scheduler.Start(ctx)
	}
	d.pool.Start(ctx, d.cfg.InitialWorkers)
	go d.pool.Monitor(ctx, rateProviderFunc(func() float64 { return d.limiter.Snapshot().Rate }), func(workerID int64, active int, currentRate float64, pending int) {
		d.cb.invokeOnProgress(ProgressEvent{Type: EventWorkerScaled, Active: active, Pending: pending, Rate: currentRate, Message: fmt.Sprintf("rate=%.2f", currentRate)})
	})
	go d.feedSpeculations(ctx, runID)
}

// Wait blocks until the run's worker pool has drained, then finalizes the
// run row and closes collaborators that are scoped to a single run. A run
// whose context was cancelled, or that still has pending/in-progress rows
// once the pool drains, finishes as interrupted rather than completed so
// a future Resume picks it back up.
func (d *Driver) Wait(ctx context.Context) error {
	d.pool.Wait()

	status := store.RunCompleted
	var finalErr *string

	if d.runCtx != nil && d.runCtx.Err() != nil {
		status = store.RunInterrupted
		msg := d.runCtx.Err().Error()
		finalErr = &msg
	} else {
		pending, err := d.st.CountPending(ctx, d.runID)
		if err != nil {
			d.failRun(ctx, err)
			return fmt.Errorf("count pending: %w", err)
		}
		inProgress, err := d.st.CountInProgress(ctx, d.runID)
		if err != nil {
			d.failRun(ctx, err)
			return fmt.Errorf("count in progress: %w", err)
		}
		if pending > 0 || inProgress > 0 {
			status = store.RunInterrupted
		}
	}

	if err := d.st.FinishRun(ctx, d.runID, status, finalErr); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if d.cb.OnRunComplete != nil {
		d.cb.OnRunComplete(d.runID, status)
	}
	d.cb.invokeOnProgress(ProgressEvent{Type: EventRunCompleted, Message: d.runID})
	return nil
}

// failRun records a driver-level failure (as opposed to a per-request
// one) as the run's terminal status, best-effort.
func (d *Driver) failRun(ctx context.Context, cause error) {
	msg := cause.Error()
	if err := d.st.FinishRun(ctx, d.runID, store.RunError, &msg); err != nil {
		d.logger.Warn("failed to record run error status", "run_id", d.runID, "error", err)
	}
}

// Close releases all collaborators. Call once after Wait returns.
func (d *Driver) Close() error {
	d.fetcher.Close()
	d.compressReg.Close()
	return d.st.Close()
}

func (d *Driver) findEntry(name string) *scraper.Entry {
	for i := range d.def.Entries {
		if d.def.Entries[i].Name == name {
			return &d.def.Entries[i]
		}
	}
	return nil
}

type rateProviderFunc func() float64

func (f rateProviderFunc) CurrentRate() float64 { return f() }
