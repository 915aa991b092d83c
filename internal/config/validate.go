package config

import (
	"fmt"
	"net/url"
)

// Validate checks a Config for internally inconsistent or out-of-range
// values that would cause DefaultConfig-based assumptions elsewhere to
// misbehave.
func Validate(cfg *Config) error {
	if cfg.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path must not be empty")
	}
	if cfg.Storage.ArchiveDir == "" {
		return fmt.Errorf("storage.archive_dir must not be empty")
	}

	if cfg.RateLimiter.BucketSize <= 0 {
		return fmt.Errorf("rate_limiter.bucket_size must be positive, got %v", cfg.RateLimiter.BucketSize)
	}
	if cfg.RateLimiter.InitialTokens < 0 {
		return fmt.Errorf("rate_limiter.initial_tokens must not be negative, got %v", cfg.RateLimiter.InitialTokens)
	}
	if cfg.RateLimiter.InitialRate <= 0 {
		return fmt.Errorf("rate_limiter.initial_rate must be positive, got %v", cfg.RateLimiter.InitialRate)
	}
	if cfg.RateLimiter.MinRate <= 0 || cfg.RateLimiter.MaxRate <= 0 {
		return fmt.Errorf("rate_limiter.min_rate and max_rate must be positive")
	}
	if cfg.RateLimiter.MinRate > cfg.RateLimiter.MaxRate {
		return fmt.Errorf("rate_limiter.min_rate (%v) must not exceed max_rate (%v)", cfg.RateLimiter.MinRate, cfg.RateLimiter.MaxRate)
	}
	if cfg.RateLimiter.FirstStep <= 1 {
		return fmt.Errorf("rate_limiter.first_step must be greater than 1, got %v", cfg.RateLimiter.FirstStep)
	}
	if cfg.RateLimiter.SecondStep <= 1 {
		return fmt.Errorf("rate_limiter.second_step must be greater than 1, got %v", cfg.RateLimiter.SecondStep)
	}

	if cfg.Retry.BaseDelay <= 0 {
		return fmt.Errorf("retry.base_delay must be positive, got %v", cfg.Retry.BaseDelay)
	}
	if cfg.Retry.MaxBackoff <= 0 {
		return fmt.Errorf("retry.max_backoff must be positive, got %v", cfg.Retry.MaxBackoff)
	}
	if cfg.Retry.BaseDelay >= cfg.Retry.MaxBackoff {
		return fmt.Errorf("retry.base_delay (%v) must be less than max_backoff (%v)", cfg.Retry.BaseDelay, cfg.Retry.MaxBackoff)
	}
	if cfg.Retry.MaxRetryCount < 0 {
		return fmt.Errorf("retry.max_retry_count must not be negative, got %d", cfg.Retry.MaxRetryCount)
	}

	if cfg.Speculation.ReviveWindow < 0 {
		return fmt.Errorf("speculation.revive_window must not be negative, got %d", cfg.Speculation.ReviveWindow)
	}

	if cfg.Worker.MaxWorkers < 1 {
		return fmt.Errorf("worker.max_workers must be at least 1, got %d", cfg.Worker.MaxWorkers)
	}
	if cfg.Worker.InitialWorkers < 0 {
		return fmt.Errorf("worker.initial_workers must not be negative, got %d", cfg.Worker.InitialWorkers)
	}
	if cfg.Worker.InitialWorkers > cfg.Worker.MaxWorkers {
		return fmt.Errorf("worker.initial_workers (%d) must not exceed max_workers (%d)", cfg.Worker.InitialWorkers, cfg.Worker.MaxWorkers)
	}

	if cfg.Compression.TrainingSampleSize < 0 {
		return fmt.Errorf("compression.training_sample_size must not be negative, got %d", cfg.Compression.TrainingSampleSize)
	}
	if cfg.Compression.MaxDictBytes < 0 {
		return fmt.Errorf("compression.max_dict_bytes must not be negative, got %d", cfg.Compression.MaxDictBytes)
	}

	if cfg.Fetch.MaxIdleConns < 0 {
		return fmt.Errorf("fetch.max_idle_conns must not be negative, got %d", cfg.Fetch.MaxIdleConns)
	}
	if cfg.Fetch.RequestTimeout <= 0 {
		return fmt.Errorf("fetch.request_timeout must be positive, got %v", cfg.Fetch.RequestTimeout)
	}
	if cfg.Fetch.MaxRedirects < 0 {
		return fmt.Errorf("fetch.max_redirects must not be negative, got %d", cfg.Fetch.MaxRedirects)
	}
	if cfg.Fetch.MaxBodySize <= 0 {
		return fmt.Errorf("fetch.max_body_size must be positive, got %d", cfg.Fetch.MaxBodySize)
	}
	if len(cfg.Fetch.UserAgents) == 0 {
		return fmt.Errorf("fetch.user_agents must not be empty")
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be one of text, json; got %q", cfg.Logging.Format)
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", cfg.Metrics.Port)
		}
		if cfg.Metrics.Path == "" {
			return fmt.Errorf("metrics.path must not be empty when metrics are enabled")
		}
	}

	return nil
}

// ValidateURL checks that rawURL is an absolute http or https URL, the
// same shape the driver's seed entries expect.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url must have a host")
	}
	return nil
}
