// Package config loads and validates importer configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/bulk-importer/internal/importer"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreLocal    = "local"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreGCS      = "gcs"
)

// Processor kinds.
const (
	ProcessorScrape = "scrape"
	ProcessorRemote = "remote"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Import    ImportConfig    `mapstructure:"import"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Store     StoreConfig     `mapstructure:"store"`
	Database  DatabaseConfig  `mapstructure:"database"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ImportConfig holds the default run options and snapshot settings.
type ImportConfig struct {
	Concurrency         int    `mapstructure:"concurrency"`
	MaxRetries          int    `mapstructure:"max_retries"`
	RetryDelayMs        int    `mapstructure:"retry_delay_ms"`
	DelayBetweenItemsMs int    `mapstructure:"delay_between_items_ms"`
	AutoSaveIntervalMs  int    `mapstructure:"auto_save_interval_ms"`
	PersistToStorage    bool   `mapstructure:"persist_to_storage"`
	SkipConfirmation    bool   `mapstructure:"skip_confirmation"`
	StateKey            string `mapstructure:"state_key"`
	StaleAfterHours     int    `mapstructure:"stale_after_hours"`
}

// RateLimitConfig throttles processor calls per host.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// ProcessorConfig selects and configures the item processor.
type ProcessorConfig struct {
	Kind           string          `mapstructure:"kind"`
	Endpoint       string          `mapstructure:"endpoint"`
	APIKey         string          `mapstructure:"api_key"`
	TimeoutSeconds int             `mapstructure:"timeout_seconds"`
	UserAgent      string          `mapstructure:"user_agent"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
}

// LocalStoreConfig configures the file-backed store.
type LocalStoreConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// RedisStoreConfig configures the Redis store.
type RedisStoreConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TTLHours int    `mapstructure:"ttl_hours"`
}

// GCSStoreConfig configures the Cloud Storage store.
type GCSStoreConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// StoreConfig selects the durable snapshot backend.
type StoreConfig struct {
	Backend string           `mapstructure:"backend"`
	Local   LocalStoreConfig `mapstructure:"local"`
	Redis   RedisStoreConfig `mapstructure:"redis"`
	GCS     GCSStoreConfig   `mapstructure:"gcs"`
}

// DatabaseConfig controls access to Postgres for the key/value store and run history.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	KVTable         string        `mapstructure:"kv_table"`
	HistoryEnabled  bool          `mapstructure:"history_enabled"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressBatchConfig bounds event hub batches.
type ProgressBatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// ProgressConfig controls the event hub and its sinks.
type ProgressConfig struct {
	Enabled        bool                `mapstructure:"enabled"`
	LogEnabled     bool                `mapstructure:"log_enabled"`
	MetricsEnabled bool                `mapstructure:"metrics_enabled"`
	BufferSize     int                 `mapstructure:"buffer_size"`
	Batch          ProgressBatchConfig `mapstructure:"batch"`
	SinkTimeoutMs  int                 `mapstructure:"sink_timeout_ms"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BULKIMPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := importer.DefaultOptions()
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("import.concurrency", def.Concurrency)
	v.SetDefault("import.max_retries", def.MaxRetries)
	v.SetDefault("import.retry_delay_ms", def.RetryDelay.Milliseconds())
	v.SetDefault("import.delay_between_items_ms", def.DelayBetweenItems.Milliseconds())
	v.SetDefault("import.auto_save_interval_ms", def.AutoSaveInterval.Milliseconds())
	v.SetDefault("import.persist_to_storage", def.PersistToStorage)
	v.SetDefault("import.skip_confirmation", def.SkipConfirmation)
	v.SetDefault("import.state_key", "bulk_import_state")
	v.SetDefault("import.stale_after_hours", 24)
	v.SetDefault("processor.kind", ProcessorScrape)
	v.SetDefault("processor.timeout_seconds", 30)
	v.SetDefault("processor.user_agent", "bulk-importer/0.1")
	v.SetDefault("processor.rate_limit.rps", 0)
	v.SetDefault("processor.rate_limit.burst", 1)
	v.SetDefault("store.backend", StoreMemory)
	v.SetDefault("store.local.base_dir", "data/state")
	v.SetDefault("store.redis.ttl_hours", 24)
	v.SetDefault("store.gcs.prefix", "bulk-import")
	v.SetDefault("database.kv_table", "bulk_import_kv")
	v.SetDefault("database.history_enabled", false)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.metrics_enabled", true)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.batch.max_events", 256)
	v.SetDefault("progress.batch.max_wait_ms", 250)
	v.SetDefault("progress.sink_timeout_ms", 10000)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if err := c.Import.validate(); err != nil {
		return err
	}
	if err := c.Processor.validate(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if c.Database.HistoryEnabled && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn must be set when database.history_enabled is true")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

func (c ImportConfig) validate() error {
	switch {
	case c.Concurrency < 1:
		return fmt.Errorf("import.concurrency must be >= 1")
	case c.MaxRetries < 0:
		return fmt.Errorf("import.max_retries must be >= 0")
	case c.RetryDelayMs < 0:
		return fmt.Errorf("import.retry_delay_ms must be >= 0")
	case c.DelayBetweenItemsMs < 0:
		return fmt.Errorf("import.delay_between_items_ms must be >= 0")
	case c.AutoSaveIntervalMs < 0:
		return fmt.Errorf("import.auto_save_interval_ms must be >= 0")
	case c.StaleAfterHours < 0:
		return fmt.Errorf("import.stale_after_hours must be >= 0")
	}
	return nil
}

func (c ProcessorConfig) validate() error {
	switch c.Kind {
	case ProcessorScrape:
	case ProcessorRemote:
		if c.Endpoint == "" {
			return fmt.Errorf("processor.endpoint must be set for the remote processor")
		}
	default:
		return fmt.Errorf("processor.kind %q is not supported", c.Kind)
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("processor.timeout_seconds must be > 0")
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("processor.rate_limit.rps must be >= 0")
	}
	return nil
}

func (c Config) validateStore() error {
	switch c.Store.Backend {
	case StoreMemory:
	case StoreLocal:
		if c.Store.Local.BaseDir == "" {
			return fmt.Errorf("store.local.base_dir must be set for the local store")
		}
	case StoreRedis:
		if c.Store.Redis.Address == "" {
			return fmt.Errorf("store.redis.address must be set for the redis store")
		}
		if c.Store.Redis.TTLHours < 0 {
			return fmt.Errorf("store.redis.ttl_hours must be >= 0")
		}
	case StorePostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set for the postgres store")
		}
	case StoreGCS:
		if c.Store.GCS.Bucket == "" {
			return fmt.Errorf("store.gcs.bucket must be set for the gcs store")
		}
	default:
		return fmt.Errorf("store.backend %q is not supported", c.Store.Backend)
	}
	return nil
}

// ImportOptions converts the import section into engine run options.
func (c Config) ImportOptions() importer.Options {
	return importer.Options{
		Concurrency:       c.Import.Concurrency,
		MaxRetries:        c.Import.MaxRetries,
		RetryDelay:        time.Duration(c.Import.RetryDelayMs) * time.Millisecond,
		DelayBetweenItems: time.Duration(c.Import.DelayBetweenItemsMs) * time.Millisecond,
		AutoSaveInterval:  time.Duration(c.Import.AutoSaveIntervalMs) * time.Millisecond,
		PersistToStorage:  c.Import.PersistToStorage,
		SkipConfirmation:  c.Import.SkipConfirmation,
	}
}

// StaleAfter returns how old a snapshot may be before restore discards it.
func (c Config) StaleAfter() time.Duration {
	return time.Duration(c.Import.StaleAfterHours) * time.Hour
}

// ProcessorTimeout returns the per-call processor timeout.
func (c Config) ProcessorTimeout() time.Duration {
	return time.Duration(c.Processor.TimeoutSeconds) * time.Second
}
