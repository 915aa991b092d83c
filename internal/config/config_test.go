package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := Validate(DefaultConfig()); err != nil {
		t.Fatalf("default config failed validation: %v", err)
	}
}

func TestValidateCatchesOutOfRangeFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty db path", func(c *Config) { c.Storage.DBPath = "" }},
		{"zero bucket size", func(c *Config) { c.RateLimiter.BucketSize = 0 }},
		{"min rate above max rate", func(c *Config) { c.RateLimiter.MinRate = 100 }},
		{"base delay equal to max backoff", func(c *Config) { c.Retry.BaseDelay = c.Retry.MaxBackoff }},
		{"zero max workers", func(c *Config) { c.Worker.MaxWorkers = 0 }},
		{"initial workers above max", func(c *Config) { c.Worker.InitialWorkers = c.Worker.MaxWorkers + 1 }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"no user agents", func(c *Config) { c.Fetch.UserAgents = nil }},
		{"metrics enabled with bad port", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Port = 0 }},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.mutate(cfg)
		if err := Validate(cfg); err == nil {
			t.Errorf("%s: expected validation error, got nil", tc.name)
		}
	}
}

func TestValidateURL(t *testing.T) {
	cases := []struct {
		url     string
		wantErr bool
	}{
		{"https://example.com/path", false},
		{"http://example.com", false},
		{"ftp://example.com", true},
		{"not a url at all", true},
		{"https:///no-host", true},
	}
	for _, tc := range cases {
		err := ValidateURL(tc.url)
		if (err != nil) != tc.wantErr {
			t.Errorf("ValidateURL(%q) error=%v wantErr=%v", tc.url, err, tc.wantErr)
		}
	}
}

func TestLoadAppliesDefaultsWithoutConfigFile(t *testing.T) {
	dir := t.TempDir()
	oldWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer os.Chdir(oldWd)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Worker.MaxWorkers != DefaultConfig().Worker.MaxWorkers {
		t.Errorf("MaxWorkers = %d, want default %d", cfg.Worker.MaxWorkers, DefaultConfig().Worker.MaxWorkers)
	}
	if cfg.Storage.DBPath != "crawlkeep.db" {
		t.Errorf("DBPath = %q, want %q", cfg.Storage.DBPath, "crawlkeep.db")
	}
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "crawlkeep.yaml")
	contents := `
worker:
  max_workers: 16
  initial_workers: 4
storage:
  db_path: custom.db
retry:
  base_delay: 2s
  max_backoff: 1m
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Worker.MaxWorkers != 16 {
		t.Errorf("MaxWorkers = %d, want 16", cfg.Worker.MaxWorkers)
	}
	if cfg.Worker.InitialWorkers != 4 {
		t.Errorf("InitialWorkers = %d, want 4", cfg.Worker.InitialWorkers)
	}
	if cfg.Storage.DBPath != "custom.db" {
		t.Errorf("DBPath = %q, want %q", cfg.Storage.DBPath, "custom.db")
	}
	if cfg.Retry.BaseDelay != 2*time.Second {
		t.Errorf("BaseDelay = %v, want 2s", cfg.Retry.BaseDelay)
	}
	if cfg.Retry.MaxBackoff != time.Minute {
		t.Errorf("MaxBackoff = %v, want 1m", cfg.Retry.MaxBackoff)
	}
	// Fields not present in the file keep their defaults.
	if cfg.Fetch.MaxRedirects != DefaultConfig().Fetch.MaxRedirects {
		t.Errorf("MaxRedirects = %d, want default %d", cfg.Fetch.MaxRedirects, DefaultConfig().Fetch.MaxRedirects)
	}
}

func TestBuildDriverConfigCarriesValuesThrough(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.DBPath = "run.db"
	cfg.Worker.MaxWorkers = 12
	cfg.Compression.MaxDictBytes = 4096

	dcfg := cfg.BuildDriverConfig()
	if dcfg.DBPath != "run.db" {
		t.Errorf("DBPath = %q, want %q", dcfg.DBPath, "run.db")
	}
	if dcfg.MaxWorkers != 12 {
		t.Errorf("MaxWorkers = %d, want 12", dcfg.MaxWorkers)
	}
	if dcfg.Compression.MaxDictBytes != 4096 {
		t.Errorf("Compression.MaxDictBytes = %d, want 4096", dcfg.Compression.MaxDictBytes)
	}
	if dcfg.RateLimit.BucketSize != cfg.RateLimiter.BucketSize {
		t.Errorf("RateLimit.BucketSize = %v, want %v", dcfg.RateLimit.BucketSize, cfg.RateLimiter.BucketSize)
	}
	if dcfg.Fetch.RequestTimeout != cfg.Fetch.RequestTimeout {
		t.Errorf("Fetch.RequestTimeout = %v, want %v", dcfg.Fetch.RequestTimeout, cfg.Fetch.RequestTimeout)
	}
}
