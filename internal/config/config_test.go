package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/bulk-importer/internal/importer"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if got, want := cfg.ImportOptions(), importer.DefaultOptions(); got != want {
		t.Fatalf("expected default import options %+v, got %+v", want, got)
	}
	if cfg.Store.Backend != StoreMemory || cfg.Processor.Kind != ProcessorScrape {
		t.Fatalf("unexpected default backends: %+v %+v", cfg.Store, cfg.Processor)
	}
	if cfg.StaleAfter() != 24*time.Hour {
		t.Fatalf("expected 24h staleness, got %v", cfg.StaleAfter())
	}
	if !cfg.Logging.Development || !cfg.Progress.Enabled || cfg.Progress.BufferSize != 4096 {
		t.Fatalf("unexpected logging/progress defaults: %+v %+v", cfg.Logging, cfg.Progress)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
import:
  concurrency: 4
  max_retries: 5
  retry_delay_ms: 100
  delay_between_items_ms: 0
  auto_save_interval_ms: 1000
  persist_to_storage: false
  skip_confirmation: false
  stale_after_hours: 6
processor:
  kind: remote
  endpoint: https://extract.internal/v1/extract
  timeout_seconds: 10
  rate_limit:
    rps: 2.5
    burst: 3
store:
  backend: redis
  redis:
    address: localhost:6379
    ttl_hours: 48
database:
  dsn: postgres://localhost/imports
  history_enabled: true
  max_conns: 8
  max_conn_lifetime: 30m
pubsub:
  project_id: proj
  topic_name: import-reports
logging:
  development: false
  level: warn
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	want := importer.Options{
		Concurrency:       4,
		MaxRetries:        5,
		RetryDelay:        100 * time.Millisecond,
		DelayBetweenItems: 0,
		AutoSaveInterval:  time.Second,
	}
	if got := cfg.ImportOptions(); got != want {
		t.Fatalf("expected import options %+v, got %+v", want, got)
	}
	if cfg.Processor.Kind != ProcessorRemote || cfg.Processor.RateLimit.RPS != 2.5 || cfg.Processor.RateLimit.Burst != 3 {
		t.Fatalf("expected processor overrides to apply: %+v", cfg.Processor)
	}
	if cfg.ProcessorTimeout() != 10*time.Second {
		t.Fatalf("expected 10s processor timeout, got %v", cfg.ProcessorTimeout())
	}
	if cfg.Store.Redis.TTLHours != 48 || cfg.Database.MaxConns != 8 || cfg.Database.MaxConnLifetime != 30*time.Minute {
		t.Fatalf("expected store/database overrides: %+v %+v", cfg.Store, cfg.Database)
	}
	if cfg.StaleAfter() != 6*time.Hour {
		t.Fatalf("expected 6h staleness, got %v", cfg.StaleAfter())
	}
	if cfg.Logging.Development || cfg.Logging.Level != "warn" {
		t.Fatalf("expected logging overrides: %+v", cfg.Logging)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:    ServerConfig{Port: 8080},
		Import:    ImportConfig{Concurrency: 1},
		Processor: ProcessorConfig{Kind: ProcessorScrape, TimeoutSeconds: 30},
		Store:     StoreConfig{Backend: StoreMemory},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"invalid concurrency", func(c *Config) { c.Import.Concurrency = 0 }, "import.concurrency"},
		{"negative retries", func(c *Config) { c.Import.MaxRetries = -1 }, "import.max_retries"},
		{"negative retry delay", func(c *Config) { c.Import.RetryDelayMs = -5 }, "import.retry_delay_ms"},
		{"negative pacing", func(c *Config) { c.Import.DelayBetweenItemsMs = -5 }, "import.delay_between_items_ms"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"unknown processor", func(c *Config) { c.Processor.Kind = "headless" }, "processor.kind"},
		{"remote without endpoint", func(c *Config) { c.Processor.Kind = ProcessorRemote }, "processor.endpoint"},
		{"unknown store", func(c *Config) { c.Store.Backend = "s3" }, "store.backend"},
		{"redis without address", func(c *Config) { c.Store.Backend = StoreRedis }, "store.redis.address"},
		{"postgres without dsn", func(c *Config) { c.Store.Backend = StorePostgres }, "database.dsn"},
		{"gcs without bucket", func(c *Config) { c.Store.Backend = StoreGCS }, "store.gcs.bucket"},
		{"history without dsn", func(c *Config) { c.Database.HistoryEnabled = true }, "database.dsn"},
		{"topic without project", func(c *Config) { c.PubSub.TopicName = "t" }, "pubsub.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
