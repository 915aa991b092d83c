// Package driver implements the run lifecycle: it wires internal/store,
// internal/compress, internal/ratelimit, internal/queue, internal/retry,
// internal/speculate, internal/worker, internal/dispatch and
// internal/httpfetch into a single request-processing cycle, driven by
// any registered internal/scraper.Scraper.
package driver

import (
	"github.com/crawlkeep/crawlkeep/internal/httpfetch"
	"github.com/crawlkeep/crawlkeep/internal/ratelimit"
	"github.com/crawlkeep/crawlkeep/internal/retry"
)

// Config holds the ambient tunables for a Driver, populated from
// internal/config.
type Config struct {
	DBPath         string
	MaxWorkers     int
	InitialWorkers int
	ArchiveDir     string

	Retry       retry.Config
	RateLimit   ratelimit.Config
	Fetch       httpfetch.Config
	Compression CompressionConfig

	// SpeculationReviveCron is a cron(5) spec on which stopped speculative
	// explorations are re-extended.
	// Empty disables periodic revival.
	SpeculationReviveCron string
	// SpeculationReviveWindow is how far forward the ceiling is pushed on
	// each revival.
	SpeculationReviveWindow int64
}

// CompressionConfig tunes the per-continuation dictionary trainer.
type CompressionConfig struct {
	// TrainingSampleSize is how many response bodies are accumulated for
	// a continuation before a dictionary is trained from them.
	TrainingSampleSize int
	// MaxDictBytes caps the size of a trained dictionary.
	MaxDictBytes int
}

// DefaultConfig returns the driver's default tunables.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:     8,
		InitialWorkers: 2,
		ArchiveDir:     "archives",
		Retry:          retry.DefaultConfig(),
		RateLimit:      ratelimit.DefaultConfig(),
		Fetch:          httpfetch.DefaultConfig(),
		Compression: CompressionConfig{
			TrainingSampleSize: 32,
			MaxDictBytes:       16 * 1024,
		},
		SpeculationReviveCron:   "",
		SpeculationReviveWindow: 100,
	}
}
