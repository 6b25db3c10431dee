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
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	DB        DBConfig        `mapstructure:"db"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlerConfig governs the crawl worker pool and politeness behavior.
type CrawlerConfig struct {
	UserAgent            string `mapstructure:"user_agent"`
	RequestDelaySeconds  int    `mapstructure:"request_delay_seconds"`
	MaxConcurrentWorkers int    `mapstructure:"max_concurrent_workers"`
	RespectRobots        bool   `mapstructure:"respect_robots"`
	MinWordCount         int    `mapstructure:"min_word_count"`
	MaxAttempts          int    `mapstructure:"max_attempts"`
	IdlePollSeconds      int    `mapstructure:"idle_poll_seconds"`
}

// HTTPConfig configures the fetch client.
type HTTPConfig struct {
	FetchTimeoutMs int `mapstructure:"fetch_timeout_ms"`
}

// FetcherConfig selects the fetch strategy.
type FetcherConfig struct {
	// Strategy is "static" (plain HTTP GET) or "headless" (full render).
	Strategy string `mapstructure:"strategy"`
}

// HeadlessConfig configures the headless rendering path.
type HeadlessConfig struct {
	MaxParallel   int `mapstructure:"max_parallel"`
	NavTimeoutSec int `mapstructure:"nav_timeout_seconds"`
}

// EmbeddingConfig configures the embedding indexer and its backend.
type EmbeddingConfig struct {
	BatchSize       int    `mapstructure:"batch_size"`
	Endpoint        string `mapstructure:"endpoint"`
	APIKey          string `mapstructure:"api_key"`
	Model           string `mapstructure:"model"`
	IdlePollSeconds int    `mapstructure:"idle_poll_seconds"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
}

// DBConfig controls access to Postgres. Empty DSN selects the in-memory
// stores.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// StorageConfig selects the raw-HTML blob backend.
type StorageConfig struct {
	// Backend is "memory", "local" or "gcs".
	Backend     string `mapstructure:"backend"`
	BaseDir     string `mapstructure:"base_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	ContentType string `mapstructure:"content_type"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPAI")
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
	v.SetDefault("crawler.user_agent", "ScrapAI-Bot/1.0")
	v.SetDefault("crawler.request_delay_seconds", 2)
	v.SetDefault("crawler.max_concurrent_workers", 4)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.min_word_count", 10)
	v.SetDefault("crawler.max_attempts", 3)
	v.SetDefault("crawler.idle_poll_seconds", 10)
	v.SetDefault("http.fetch_timeout_ms", 30000)
	v.SetDefault("fetcher.strategy", "static")
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("embedding.batch_size", 10)
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.idle_poll_seconds", 30)
	v.SetDefault("embedding.timeout_seconds", 60)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.UserAgent == "" {
		return fmt.Errorf("crawler.user_agent is required")
	}
	if c.Crawler.MaxConcurrentWorkers <= 0 {
		return fmt.Errorf("crawler.max_concurrent_workers must be > 0")
	}
	if c.Crawler.RequestDelaySeconds < 0 {
		return fmt.Errorf("crawler.request_delay_seconds must be >= 0")
	}
	if c.HTTP.FetchTimeoutMs <= 0 {
		return fmt.Errorf("http.fetch_timeout_ms must be > 0")
	}
	if c.Fetcher.Strategy != "static" && c.Fetcher.Strategy != "headless" {
		return fmt.Errorf("fetcher.strategy must be static or headless")
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding.batch_size must be > 0")
	}
	switch c.Storage.Backend {
	case "memory":
	case "local":
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir is required for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be memory, local or gcs")
	}
	return nil
}

// RequestDelay returns the per-domain minimum interval as a duration.
func (c Config) RequestDelay() time.Duration {
	return time.Duration(c.Crawler.RequestDelaySeconds) * time.Second
}

// FetchTimeout returns the fetch timeout as a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.FetchTimeoutMs) * time.Millisecond
}
