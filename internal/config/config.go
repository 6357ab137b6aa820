// Package config loads configuration from a YAML file, AF_-prefixed
// environment variables and a .env file, in that priority order, with
// defaults underneath.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the main configuration struct combining all sub-configs.
type Config struct {
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Flips     FlipsConfig     `mapstructure:"flips"`
	Health    HealthConfig    `mapstructure:"health"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Store     StoreConfig     `mapstructure:"store"`
	Serve     ServeConfig     `mapstructure:"serve"`
}

// UpstreamConfig selects and tunes the AODP endpoint.
type UpstreamConfig struct {
	// Server is the game server whose markets to read.
	Server string `mapstructure:"server" validate:"required,oneof=west east europe"`

	// Timeout bounds each HTTP request.
	Timeout time.Duration `mapstructure:"timeout" validate:"required"`
}

// FetchConfig tunes the download orchestrator.
type FetchConfig struct {
	// MaxItemsPerChunk caps items per request.
	MaxItemsPerChunk int `mapstructure:"max_items_per_chunk" validate:"min=1"`

	// MaxURLLen caps the estimated request URL length.
	MaxURLLen int `mapstructure:"max_url_len" validate:"min=200"`

	// Concurrency is the worker ceiling.
	Concurrency int `mapstructure:"concurrency" validate:"min=1,max=32"`

	// RetryAttempts bounds tries per chunk on throttled and 5xx responses.
	RetryAttempts int `mapstructure:"retry_attempts" validate:"min=1"`

	// BackoffBase is the first retry delay, doubled per attempt.
	BackoffBase time.Duration `mapstructure:"backoff_base"`

	// TailRetryDelay spaces the sequential end-of-run retry pass.
	TailRetryDelay time.Duration `mapstructure:"tail_retry_delay"`
}

// RateLimitConfig holds token bucket configuration.
type RateLimitConfig struct {
	// RequestsPerSecond is the bucket refill rate.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gt=0"`

	// Burst is the bucket capacity.
	Burst int `mapstructure:"burst" validate:"min=1"`
}

// CacheConfig bounds the response cache.
type CacheConfig struct {
	// Entries caps the number of cached responses.
	Entries int `mapstructure:"entries" validate:"min=1"`

	// TTL is how long a cached response stays usable.
	TTL time.Duration `mapstructure:"ttl"`
}

// FlipsConfig sets the strict-tier thresholds.
type FlipsConfig struct {
	// MinProfit is the smallest acceptable spread in silver.
	MinProfit int64 `mapstructure:"min_profit" validate:"min=0"`

	// MinROI is the smallest acceptable spread relative to buy price.
	MinROI float64 `mapstructure:"min_roi" validate:"min=0"`

	// MaxAge drops quotes older than this.
	MaxAge time.Duration `mapstructure:"max_age"`

	// MaxResults truncates the ranked output.
	MaxResults int `mapstructure:"max_results" validate:"min=1"`
}

// HealthConfig tunes the reachability monitor.
type HealthConfig struct {
	// Threshold is the consecutive-failure count that flips Offline.
	Threshold int `mapstructure:"threshold" validate:"min=1"`

	// ProbeInterval spaces the periodic reachability probes.
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
}

// CatalogConfig locates the master item list.
type CatalogConfig struct {
	// URL points at the formatted items dump.
	URL string `mapstructure:"url" validate:"required,url"`

	// TTL is how long a downloaded catalogue stays cached.
	TTL time.Duration `mapstructure:"ttl"`
}

// StoreConfig enables scan persistence. An empty path disables it.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// ServeConfig tunes the HTTP serving mode.
type ServeConfig struct {
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
}

// Load reads configuration with priority: environment variables, then the
// config file, then defaults. A missing config file is fine.
func Load(configPath string) (*Config, error) {
	// Load .env if present; missing is fine.
	_ = godotenv.Load()

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/albionflip")
	}

	v.SetEnvPrefix("AF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("upstream.server", "west")
	v.SetDefault("upstream.timeout", 20*time.Second)

	v.SetDefault("fetch.max_items_per_chunk", 40)
	v.SetDefault("fetch.max_url_len", 1800)
	v.SetDefault("fetch.concurrency", 6)
	v.SetDefault("fetch.retry_attempts", 4)
	v.SetDefault("fetch.backoff_base", 500*time.Millisecond)
	v.SetDefault("fetch.tail_retry_delay", 500*time.Millisecond)

	v.SetDefault("rate_limit.requests_per_second", 2.0)
	v.SetDefault("rate_limit.burst", 4)

	v.SetDefault("cache.entries", 256)
	v.SetDefault("cache.ttl", 120*time.Second)

	v.SetDefault("flips.min_profit", 1000)
	v.SetDefault("flips.min_roi", 0.1)
	v.SetDefault("flips.max_age", 24*time.Hour)
	v.SetDefault("flips.max_results", 1000)

	v.SetDefault("health.threshold", 3)
	v.SetDefault("health.probe_interval", 60*time.Second)

	v.SetDefault("catalog.url", "https://raw.githubusercontent.com/ao-data/ao-bin-dumps/master/formatted/items.json")
	v.SetDefault("catalog.ttl", 24*time.Hour)

	v.SetDefault("store.path", "")

	v.SetDefault("serve.port", 8080)
}
