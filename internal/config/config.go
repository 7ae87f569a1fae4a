// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Scrape    ScrapeConfig    `mapstructure:"scrape"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
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

// ScrapeConfig configures the timing-provider scraping client.
type ScrapeConfig struct {
	// ResultsBaseURL is the timing provider origin, including any
	// deployment path prefix, used for slug-addressed documents.
	ResultsBaseURL   string `mapstructure:"results_base_url"`
	UserAgent        string `mapstructure:"user_agent"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
}

// WorkerConfig governs the import job worker loop.
type WorkerConfig struct {
	PollIntervalMs  int    `mapstructure:"poll_interval_ms"`
	ItemDelayMs     int    `mapstructure:"item_delay_ms"`
	CompletionTopic string `mapstructure:"completion_topic"`
}

// DiscoveryConfig bounds club event discovery and import planning.
type DiscoveryConfig struct {
	MaxSelectedEvents    int `mapstructure:"max_selected_events"`
	MaxEstimatedLaps     int `mapstructure:"max_estimated_laps"`
	LapsPerEventEstimate int `mapstructure:"laps_per_event_estimate"`
}

// StorageConfig selects and configures the raw payload blob backend.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	Backend     string `mapstructure:"backend"`
	DSN         string `mapstructure:"dsn"`
	MaxConns    int    `mapstructure:"max_conns"`
	MinConns    int    `mapstructure:"min_conns"`
	LifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INGEST")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("scrape.user_agent", "lapforge-ingest/0.1")
	v.SetDefault("scrape.timeout_seconds", 15)
	v.SetDefault("scrape.max_retries", 3)
	v.SetDefault("scrape.backoff_initial_ms", 250)
	v.SetDefault("scrape.backoff_max_ms", 2000)
	v.SetDefault("worker.poll_interval_ms", 2000)
	v.SetDefault("worker.item_delay_ms", 500)
	v.SetDefault("worker.completion_topic", "import-complete")
	v.SetDefault("discovery.max_selected_events", 10)
	v.SetDefault("discovery.max_estimated_laps", 50000)
	v.SetDefault("discovery.laps_per_event_estimate", 400)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.local_dir", "data/raw")
	v.SetDefault("storage.prefix", "raw")
	v.SetDefault("db.backend", "memory")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("pubsub.backend", "memory")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scrape.TimeoutSeconds <= 0 {
		return fmt.Errorf("scrape.timeout_seconds must be > 0")
	}
	if c.Scrape.MaxRetries < 0 {
		return fmt.Errorf("scrape.max_retries must be >= 0")
	}
	if c.Worker.PollIntervalMs <= 0 {
		return fmt.Errorf("worker.poll_interval_ms must be > 0")
	}
	if c.Discovery.MaxSelectedEvents <= 0 {
		return fmt.Errorf("discovery.max_selected_events must be > 0")
	}
	switch c.Storage.Backend {
	case "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of memory, local, gcs")
	}
	switch c.DB.Backend {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("db.backend must be one of memory, postgres")
	}
	switch c.PubSub.Backend {
	case "memory":
	case "pubsub":
		if c.PubSub.ProjectID == "" {
			return fmt.Errorf("pubsub.project_id must be set for the pubsub backend")
		}
	default:
		return fmt.Errorf("pubsub.backend must be one of memory, pubsub")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// ScrapeTimeout converts the configured scrape timeout into a duration.
func (c Config) ScrapeTimeout() time.Duration {
	return time.Duration(c.Scrape.TimeoutSeconds) * time.Second
}

// PollInterval converts the worker poll interval into a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Worker.PollIntervalMs) * time.Millisecond
}

// ItemDelay converts the worker inter-item delay into a duration.
func (c Config) ItemDelay() time.Duration {
	return time.Duration(c.Worker.ItemDelayMs) * time.Millisecond
}
