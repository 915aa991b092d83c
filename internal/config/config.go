// Package config is the root configuration surface: a single Config
// struct loaded through spf13/viper (file, environment, then defaults)
// and translated into the Config types internal/driver's collaborators
// expect.
package config

import "time"

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for crawlkeep.
type Config struct {
	Storage     StorageConfig     `mapstructure:"storage"      yaml:"storage"`
	RateLimiter RateLimiterConfig `mapstructure:"rate_limiter" yaml:"rate_limiter"`
	Retry       RetryConfig       `mapstructure:"retry"        yaml:"retry"`
	Speculation SpeculationConfig `mapstructure:"speculation"  yaml:"speculation"`
	Worker      WorkerConfig      `mapstructure:"worker"       yaml:"worker"`
	Compression CompressionConfig `mapstructure:"compression"  yaml:"compression"`
	Fetch       FetchConfig       `mapstructure:"fetch"        yaml:"fetch"`
	Logging     LoggingConfig     `mapstructure:"logging"      yaml:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"      yaml:"metrics"`
}

// StorageConfig controls the embedded SQLite store.
type StorageConfig struct {
	DBPath     string `mapstructure:"db_path"     yaml:"db_path"`
	ArchiveDir string `mapstructure:"archive_dir" yaml:"archive_dir"`
}

// RateLimiterConfig mirrors internal/ratelimit.Config.
type RateLimiterConfig struct {
	BucketSize        float64 `mapstructure:"bucket_size"        yaml:"bucket_size"`
	InitialTokens     float64 `mapstructure:"initial_tokens"     yaml:"initial_tokens"`
	InitialRate       float64 `mapstructure:"initial_rate"       yaml:"initial_rate"`
	InitialCongestion float64 `mapstructure:"initial_congestion" yaml:"initial_congestion"`
	FirstStep         float64 `mapstructure:"first_step"         yaml:"first_step"`
	SecondStep        float64 `mapstructure:"second_step"        yaml:"second_step"`
	MinRate           float64 `mapstructure:"min_rate"           yaml:"min_rate"`
	MaxRate           float64 `mapstructure:"max_rate"           yaml:"max_rate"`
}

// RetryConfig mirrors internal/retry.Config.
type RetryConfig struct {
	BaseDelay     time.Duration `mapstructure:"base_delay"      yaml:"base_delay"`
	MaxBackoff    time.Duration `mapstructure:"max_backoff"     yaml:"max_backoff"`
	MaxRetryCount int           `mapstructure:"max_retry_count" yaml:"max_retry_count"`
}

// SpeculationConfig controls the periodic revival of stopped speculative
// id-space explorations; the exploration parameters themselves (Start,
// Plus, BuildRequest, ...) are registered per-function by the scraper,
// not configured here.
type SpeculationConfig struct {
	ReviveCron   string `mapstructure:"revive_cron"   yaml:"revive_cron"`
	ReviveWindow int64  `mapstructure:"revive_window" yaml:"revive_window"`
}

// WorkerConfig sizes the worker pool.
type WorkerConfig struct {
	MaxWorkers     int `mapstructure:"max_workers"     yaml:"max_workers"`
	InitialWorkers int `mapstructure:"initial_workers" yaml:"initial_workers"`
}

// CompressionConfig mirrors internal/driver.CompressionConfig.
type CompressionConfig struct {
	TrainingSampleSize int `mapstructure:"training_sample_size" yaml:"training_sample_size"`
	MaxDictBytes       int `mapstructure:"max_dict_bytes"       yaml:"max_dict_bytes"`
}

// FetchConfig mirrors internal/httpfetch.Config.
type FetchConfig struct {
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    yaml:"max_idle_conns"`
	IdleConnTimeout time.Duration `mapstructure:"idle_conn_timeout" yaml:"idle_conn_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"   yaml:"request_timeout"`
	MaxRedirects    int           `mapstructure:"max_redirects"     yaml:"max_redirects"`
	FollowRedirects bool          `mapstructure:"follow_redirects"  yaml:"follow_redirects"`
	MaxBodySize     int64         `mapstructure:"max_body_size"     yaml:"max_body_size"`
	TLSInsecure     bool          `mapstructure:"tls_insecure"      yaml:"tls_insecure"`
	UserAgents      []string      `mapstructure:"user_agents"       yaml:"user_agents"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port"    yaml:"port"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DBPath:     "crawlkeep.db",
			ArchiveDir: "archives",
		},
		RateLimiter: RateLimiterConfig{
			BucketSize:        4.0,
			InitialTokens:     1.0,
			InitialRate:       0.1,
			InitialCongestion: 1.0,
			FirstStep:         1.5,
			SecondStep:        1.2,
			MinRate:           0.01,
			MaxRate:           40.0,
		},
		Retry: RetryConfig{
			BaseDelay:  time.Second,
			MaxBackoff: 5 * time.Minute,
		},
		Speculation: SpeculationConfig{
			ReviveCron:   "",
			ReviveWindow: 100,
		},
		Worker: WorkerConfig{
			MaxWorkers:     8,
			InitialWorkers: 2,
		},
		Compression: CompressionConfig{
			TrainingSampleSize: 32,
			MaxDictBytes:       16 * 1024,
		},
		Fetch: FetchConfig{
			MaxIdleConns:    100,
			IdleConnTimeout: 90 * time.Second,
			RequestTimeout:  30 * time.Second,
			MaxRedirects:    10,
			FollowRedirects: true,
			MaxBodySize:     32 * 1024 * 1024,
			UserAgents:      []string{"crawlkeep/1.0"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}
