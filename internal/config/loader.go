package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from configPath (if non-empty), environment
// variables prefixed CRAWLKEEP_, and falls back to DefaultConfig for
// anything unset. An empty configPath searches "." , "./configs" and
// "~/.crawlkeep" for a file named "crawlkeep.yaml".
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	cfg := DefaultConfig()
	setDefaults(v, cfg)

	v.SetEnvPrefix("CRAWLKEEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("crawlkeep")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".crawlkeep"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// LoadFromFile loads configuration from an explicit file path, bypassing
// the search-path logic used when path is empty in Load.
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path must not be empty")
	}
	return Load(path)
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("storage.db_path", cfg.Storage.DBPath)
	v.SetDefault("storage.archive_dir", cfg.Storage.ArchiveDir)

	v.SetDefault("rate_limiter.bucket_size", cfg.RateLimiter.BucketSize)
	v.SetDefault("rate_limiter.initial_tokens", cfg.RateLimiter.InitialTokens)
	v.SetDefault("rate_limiter.initial_rate", cfg.RateLimiter.InitialRate)
	v.SetDefault("rate_limiter.initial_congestion", cfg.RateLimiter.InitialCongestion)
	v.SetDefault("rate_limiter.first_step", cfg.RateLimiter.FirstStep)
	v.SetDefault("rate_limiter.second_step", cfg.RateLimiter.SecondStep)
	v.SetDefault("rate_limiter.min_rate", cfg.RateLimiter.MinRate)
	v.SetDefault("rate_limiter.max_rate", cfg.RateLimiter.MaxRate)

	v.SetDefault("retry.base_delay", cfg.Retry.BaseDelay)
	v.SetDefault("retry.max_backoff", cfg.Retry.MaxBackoff)
	v.SetDefault("retry.max_retry_count", cfg.Retry.MaxRetryCount)

	v.SetDefault("speculation.revive_cron", cfg.Speculation.ReviveCron)
	v.SetDefault("speculation.revive_window", cfg.Speculation.ReviveWindow)

	v.SetDefault("worker.max_workers", cfg.Worker.MaxWorkers)
	v.SetDefault("worker.initial_workers", cfg.Worker.InitialWorkers)

	v.SetDefault("compression.training_sample_size", cfg.Compression.TrainingSampleSize)
	v.SetDefault("compression.max_dict_bytes", cfg.Compression.MaxDictBytes)

	v.SetDefault("fetch.max_idle_conns", cfg.Fetch.MaxIdleConns)
	v.SetDefault("fetch.idle_conn_timeout", cfg.Fetch.IdleConnTimeout)
	v.SetDefault("fetch.request_timeout", cfg.Fetch.RequestTimeout)
	v.SetDefault("fetch.max_redirects", cfg.Fetch.MaxRedirects)
	v.SetDefault("fetch.follow_redirects", cfg.Fetch.FollowRedirects)
	v.SetDefault("fetch.max_body_size", cfg.Fetch.MaxBodySize)
	v.SetDefault("fetch.tls_insecure", cfg.Fetch.TLSInsecure)
	v.SetDefault("fetch.user_agents", cfg.Fetch.UserAgents)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.port", cfg.Metrics.Port)
	v.SetDefault("metrics.path", cfg.Metrics.Path)
}
