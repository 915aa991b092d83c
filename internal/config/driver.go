package config

import (
	"github.com/crawlkeep/crawlkeep/internal/driver"
	"github.com/crawlkeep/crawlkeep/internal/httpfetch"
	"github.com/crawlkeep/crawlkeep/internal/ratelimit"
	"github.com/crawlkeep/crawlkeep/internal/retry"
)

// BuildDriverConfig translates the user-facing Config into the internal
// driver.Config its collaborators are wired from.
func (c *Config) BuildDriverConfig() driver.Config {
	return driver.Config{
		DBPath:         c.Storage.DBPath,
		ArchiveDir:     c.Storage.ArchiveDir,
		MaxWorkers:     c.Worker.MaxWorkers,
		InitialWorkers: c.Worker.InitialWorkers,

		Retry: retry.Config{
			BaseDelay:     c.Retry.BaseDelay,
			MaxBackoff:    c.Retry.MaxBackoff,
			MaxRetryCount: c.Retry.MaxRetryCount,
		},
		RateLimit: ratelimit.Config{
			BucketSize:        c.RateLimiter.BucketSize,
			InitialTokens:     c.RateLimiter.InitialTokens,
			InitialRate:       c.RateLimiter.InitialRate,
			InitialCongestion: c.RateLimiter.InitialCongestion,
			FirstStep:         c.RateLimiter.FirstStep,
			SecondStep:        c.RateLimiter.SecondStep,
			MinRate:           c.RateLimiter.MinRate,
			MaxRate:           c.RateLimiter.MaxRate,
		},
		Fetch: httpfetch.Config{
			MaxIdleConns:    c.Fetch.MaxIdleConns,
			IdleConnTimeout: c.Fetch.IdleConnTimeout,
			RequestTimeout:  c.Fetch.RequestTimeout,
			MaxRedirects:    c.Fetch.MaxRedirects,
			FollowRedirects: c.Fetch.FollowRedirects,
			MaxBodySize:     c.Fetch.MaxBodySize,
			TLSInsecure:     c.Fetch.TLSInsecure,
			UserAgents:      c.Fetch.UserAgents,
		},
		Compression: driver.CompressionConfig{
			TrainingSampleSize: c.Compression.TrainingSampleSize,
			MaxDictBytes:       c.Compression.MaxDictBytes,
		},

		SpeculationReviveCron:   c.Speculation.ReviveCron,
		SpeculationReviveWindow: c.Speculation.ReviveWindow,
	}
}
