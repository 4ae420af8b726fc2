// Package config loads and validates content loader configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend names accepted by the cache, resolver and queue sections.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendPostgres = "postgres"
	BackendPubSub   = "pubsub"
)

// Span exporters accepted by tracing.exporter.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterGCP    = "gcp"
)

const (
	defaultMaxAttempts   = 7
	defaultBackoffStepMs = 2000
	// requestTimeoutSlack covers routing, resolver lookups and response encoding.
	requestTimeoutSlack = 5 * time.Second
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Loader   LoaderConfig   `mapstructure:"loader"`
	Prefetch PrefetchConfig `mapstructure:"prefetch"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoaderConfig tunes the retry chain.
type LoaderConfig struct {
	MaxAttempts      int `mapstructure:"max_attempts"`
	BackoffStepMs    int `mapstructure:"backoff_step_ms"`
	AttemptTimeoutMs int `mapstructure:"attempt_timeout_ms"`
}

// PrefetchConfig sizes the fan-out and the worker pool draining the prefetch queue.
type PrefetchConfig struct {
	MaxConcurrency int `mapstructure:"max_concurrency"`
	Workers        int `mapstructure:"workers"`
	QueueDepth     int `mapstructure:"queue_depth"`
}

// BackendConfig points at the Article Content Fetch Service.
type BackendConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	AuthToken      string `mapstructure:"auth_token"`

	// RequestsPerSecond caps fetches per user; zero disables the limit.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	// RateLimitIdleMinutes drops a user's bucket after this long without fetches.
	RateLimitIdleMinutes int `mapstructure:"rate_limit_idle_minutes"`
}

// CacheConfig selects where fetched content is persisted.
type CacheConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// ResolverConfig selects where item ID reassignments are tracked.
type ResolverConfig struct {
	Backend  string         `mapstructure:"backend"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig controls the link table connection pool.
type PostgresConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	EnsureSchema           bool   `mapstructure:"ensure_schema"`
}

// QueueConfig selects how prefetch requests travel from the API to the workers.
type QueueConfig struct {
	Backend                string `mapstructure:"backend"`
	ProjectID              string `mapstructure:"project_id"`
	Topic                  string `mapstructure:"topic"`
	Subscription           string `mapstructure:"subscription"`
	MaxOutstandingMessages int    `mapstructure:"max_outstanding_messages"`
}

// TracingConfig toggles OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
	Exporter    string  `mapstructure:"exporter"`
	ProjectID   string  `mapstructure:"project_id"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LOADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Cloud Run injects PORT; the prefixed variable still wins when both are set.
	if err := v.BindEnv("server.port", "LOADER_SERVER_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind port env: %w", err)
	}

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
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key. AutomaticEnv only consults the environment for keys viper
// already knows, so keys without a real default are registered with their zero value.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("loader.max_attempts", defaultMaxAttempts)
	v.SetDefault("loader.backoff_step_ms", defaultBackoffStepMs)
	v.SetDefault("loader.attempt_timeout_ms", 0)
	v.SetDefault("prefetch.max_concurrency", 0)
	v.SetDefault("prefetch.workers", 2)
	v.SetDefault("prefetch.queue_depth", 64)
	v.SetDefault("backend.base_url", "")
	v.SetDefault("backend.timeout_seconds", 10)
	v.SetDefault("backend.user_agent", "readlater-content-loader/0.1")
	v.SetDefault("backend.auth_token", "")
	v.SetDefault("backend.requests_per_second", 0)
	v.SetDefault("backend.burst", 1)
	v.SetDefault("backend.rate_limit_idle_minutes", 10)
	v.SetDefault("cache.backend", BackendMemory)
	v.SetDefault("cache.local_dir", "")
	v.SetDefault("cache.gcs_bucket", "")
	v.SetDefault("cache.gcs_prefix", "content")
	v.SetDefault("resolver.backend", BackendMemory)
	v.SetDefault("resolver.postgres.dsn", "")
	v.SetDefault("resolver.postgres.table", "item_links")
	v.SetDefault("resolver.postgres.max_conns", 4)
	v.SetDefault("resolver.postgres.min_conns", 0)
	v.SetDefault("resolver.postgres.max_conn_lifetime_minutes", 0)
	v.SetDefault("resolver.postgres.ensure_schema", false)
	v.SetDefault("queue.backend", BackendMemory)
	v.SetDefault("queue.project_id", "")
	v.SetDefault("queue.topic", "")
	v.SetDefault("queue.subscription", "")
	v.SetDefault("queue.max_outstanding_messages", 16)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "readlater-content-loader")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("tracing.exporter", ExporterNone)
	v.SetDefault("tracing.project_id", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

func (c *Config) normalize() {
	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	c.Resolver.Backend = strings.ToLower(strings.TrimSpace(c.Resolver.Backend))
	c.Queue.Backend = strings.ToLower(strings.TrimSpace(c.Queue.Backend))
	c.Backend.BaseURL = strings.TrimSpace(c.Backend.BaseURL)
	c.Tracing.Exporter = strings.ToLower(strings.TrimSpace(c.Tracing.Exporter))
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("server.shutdown_timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Loader.MaxAttempts <= 1 {
		return fmt.Errorf("loader.max_attempts must be > 1")
	}
	if c.Loader.BackoffStepMs <= 0 {
		return fmt.Errorf("loader.backoff_step_ms must be > 0")
	}
	if c.Loader.AttemptTimeoutMs < 0 {
		return fmt.Errorf("loader.attempt_timeout_ms must be >= 0")
	}
	if c.Prefetch.MaxConcurrency < 0 {
		return fmt.Errorf("prefetch.max_concurrency must be >= 0")
	}
	if c.Prefetch.Workers <= 0 {
		return fmt.Errorf("prefetch.workers must be > 0")
	}
	if c.Prefetch.QueueDepth <= 0 {
		return fmt.Errorf("prefetch.queue_depth must be > 0")
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if c.Backend.TimeoutSeconds <= 0 {
		return fmt.Errorf("backend.timeout_seconds must be > 0")
	}
	if c.Backend.RequestsPerSecond < 0 {
		return fmt.Errorf("backend.requests_per_second must be >= 0")
	}
	switch c.Cache.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if c.Cache.LocalDir == "" {
			return fmt.Errorf("cache.local_dir is required for the local cache")
		}
	case BackendGCS:
		if c.Cache.GCSBucket == "" {
			return fmt.Errorf("cache.gcs_bucket is required for the gcs cache")
		}
	default:
		return fmt.Errorf("unknown cache.backend %q", c.Cache.Backend)
	}
	switch c.Resolver.Backend {
	case BackendNone, BackendMemory:
	case BackendPostgres:
		if c.Resolver.Postgres.DSN == "" {
			return fmt.Errorf("resolver.postgres.dsn is required for the postgres resolver")
		}
	default:
		return fmt.Errorf("unknown resolver.backend %q", c.Resolver.Backend)
	}
	switch c.Queue.Backend {
	case BackendMemory:
	case BackendPubSub:
		if c.Queue.ProjectID == "" || c.Queue.Topic == "" || c.Queue.Subscription == "" {
			return fmt.Errorf("queue.project_id, queue.topic and queue.subscription are required for pubsub")
		}
	default:
		return fmt.Errorf("unknown queue.backend %q", c.Queue.Backend)
	}
	if c.Tracing.Enabled && (c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1) {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "", ExporterNone, ExporterStdout:
		case ExporterGCP:
			if c.Tracing.ProjectID == "" {
				return fmt.Errorf("tracing.project_id is required for the gcp exporter")
			}
		default:
			return fmt.Errorf("unknown tracing.exporter %q", c.Tracing.Exporter)
		}
	}
	return nil
}

// RequestTimeout is the budget for one synchronous content read: every backoff of a chain that
// reaches the attempt cap, one fetch timeout per attempt, and requestTimeoutSlack.
// Zero loader values fall back to the loader's defaults.
func (c Config) RequestTimeout() time.Duration {
	maxAttempts := c.Loader.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	step := c.BackoffStep()
	if step <= 0 {
		step = defaultBackoffStepMs * time.Millisecond
	}
	perFetch := c.BackendTimeout()
	if t := c.AttemptTimeout(); t > 0 && (perFetch <= 0 || t < perFetch) {
		perFetch = t
	}

	fetches := maxAttempts - 1
	backoff := time.Duration(fetches*(fetches+1)/2) * step
	return backoff + time.Duration(fetches)*perFetch + requestTimeoutSlack
}

// BackoffStep is the per-attempt wait unit.
func (c Config) BackoffStep() time.Duration {
	return time.Duration(c.Loader.BackoffStepMs) * time.Millisecond
}

// AttemptTimeout bounds a single fetch. Zero means unbounded.
func (c Config) AttemptTimeout() time.Duration {
	return time.Duration(c.Loader.AttemptTimeoutMs) * time.Millisecond
}

// BackendTimeout is the HTTP client timeout for the fetch service.
func (c Config) BackendTimeout() time.Duration {
	return time.Duration(c.Backend.TimeoutSeconds) * time.Second
}

// RateLimitIdleTTL converts the idle bucket lifetime.
func (c Config) RateLimitIdleTTL() time.Duration {
	return time.Duration(c.Backend.RateLimitIdleMinutes) * time.Minute
}

// ShutdownTimeout bounds graceful shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// PostgresMaxConnLifetime converts the configured pool lifetime.
func (c Config) PostgresMaxConnLifetime() time.Duration {
	return time.Duration(c.Resolver.Postgres.MaxConnLifetimeMinutes) * time.Minute
}
