// Package crawlkeep provides a public SDK for embedding crawlkeep as a
// library.
//
// Example usage:
//
//	keeper := crawlkeep.New(
//	    crawlkeep.WithMaxWorkers(8),
//	    crawlkeep.WithDBPath("quotes.db"),
//	)
//	keeper.Register(quotes.New())
//	runID, err := keeper.Start(ctx, "quotes", scraper.EntryInvocation{EntryName: "start_page"})
//	keeper.Wait(ctx)
package crawlkeep

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/crawlkeep/crawlkeep/internal/config"
	"github.com/crawlkeep/crawlkeep/internal/driver"
	"github.com/crawlkeep/crawlkeep/internal/scraper"
)

// Keeper is the high-level API for running registered scrapers as a
// library, wrapping internal/config and internal/driver behind a small
// functional-options lifecycle.
type Keeper struct {
	cfg     *config.Config
	logger  *slog.Logger
	catalog *scraper.Catalog
	cb      driver.Callbacks

	active *driver.Driver
}

// Option configures a Keeper.
type Option func(*Keeper)

// WithMaxWorkers sets the worker pool ceiling.
func WithMaxWorkers(n int) Option {
	return func(k *Keeper) { k.cfg.Worker.MaxWorkers = n }
}

// WithInitialWorkers sets how many workers start running immediately.
func WithInitialWorkers(n int) Option {
	return func(k *Keeper) { k.cfg.Worker.InitialWorkers = n }
}

// WithDBPath overrides the SQLite store path.
func WithDBPath(path string) Option {
	return func(k *Keeper) { k.cfg.Storage.DBPath = path }
}

// WithArchiveDir overrides the directory archived binary payloads are
// written under.
func WithArchiveDir(dir string) Option {
	return func(k *Keeper) { k.cfg.Storage.ArchiveDir = dir }
}

// WithVerbose enables debug-level logging.
func WithVerbose() Option {
	return func(k *Keeper) { k.cfg.Logging.Level = "debug" }
}

// WithCallbacks installs the callbacks the Driver invokes over a run.
func WithCallbacks(cb driver.Callbacks) Option {
	return func(k *Keeper) { k.cb = cb }
}

// WithCatalog points the Keeper at an existing Catalog instead of the
// package-level scraper.Default catalog.
func WithCatalog(c *scraper.Catalog) Option {
	return func(k *Keeper) { k.catalog = c }
}

// New builds a Keeper from the given options, starting from
// config.DefaultConfig().
func New(opts ...Option) *Keeper {
	k := &Keeper{
		cfg:     config.DefaultConfig(),
		catalog: scraper.Default,
	}
	for _, opt := range opts {
		opt(k)
	}

	level := slog.LevelInfo
	if k.cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	k.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	return k
}

// Register adds s to the Keeper's catalog, so Start can later reference
// it by name.
func (k *Keeper) Register(s *scraper.Scraper) error {
	return k.catalog.Register(s)
}

// Start resolves scraperName against the catalog, wires a Driver for it,
// and dispatches the given seed invocations. It returns the new run's id.
func (k *Keeper) Start(ctx context.Context, scraperName string, seeds ...scraper.EntryInvocation) (string, error) {
	def, ok := k.catalog.Lookup(scraperName)
	if !ok {
		return "", fmt.Errorf("crawlkeep: no scraper registered with name %q", scraperName)
	}

	d, err := driver.New(ctx, k.cfg.BuildDriverConfig(), def, k.cb, k.logger)
	if err != nil {
		return "", fmt.Errorf("new driver: %w", err)
	}
	k.active = d

	runID, err := d.Run(ctx, seeds)
	if err != nil {
		d.Close()
		return "", fmt.Errorf("run: %w", err)
	}
	return runID, nil
}

// Resume wires a Driver for scraperName and resumes a previously
// interrupted (or errored) run id, resetting its stale in-progress rows
// back to pending instead of starting an empty run.
func (k *Keeper) Resume(ctx context.Context, scraperName, runID string) (string, error) {
	def, ok := k.catalog.Lookup(scraperName)
	if !ok {
		return "", fmt.Errorf("crawlkeep: no scraper registered with name %q", scraperName)
	}

	d, err := driver.New(ctx, k.cfg.BuildDriverConfig(), def, k.cb, k.logger)
	if err != nil {
		return "", fmt.Errorf("new driver: %w", err)
	}
	k.active = d

	resumedID, err := d.Resume(ctx, runID)
	if err != nil {
		d.Close()
		return "", fmt.Errorf("resume: %w", err)
	}
	return resumedID, nil
}

// Wait blocks until the active run's worker pool drains.
func (k *Keeper) Wait(ctx context.Context) error {
	if k.active == nil {
		return fmt.Errorf("crawlkeep: no active run")
	}
	return k.active.Wait(ctx)
}

// Close releases the active run's collaborators. Call once after Wait
// returns.
func (k *Keeper) Close() error {
	if k.active == nil {
		return nil
	}
	return k.active.Close()
}

// Driver exposes the underlying Driver for callers that need the status/
// requeue/cancel API surface beyond what Keeper wraps.
func (k *Keeper) Driver() *driver.Driver { return k.active }
