package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
server:
  port: 9090
  shutdown_timeout_seconds: 5
auth:
  enabled: true
  api_key: secret
loader:
  max_attempts: 5
  backoff_step_ms: 500
  attempt_timeout_ms: 3000
prefetch:
  max_concurrency: 8
  workers: 3
  queue_depth: 16
backend:
  base_url: https://content.internal
  timeout_seconds: 20
  auth_token: token
cache:
  backend: GCS
  gcs_bucket: articles
resolver:
  backend: postgres
  postgres:
    dsn: postgres://loader@localhost/readlater
    max_conn_lifetime_minutes: 30
queue:
  backend: pubsub
  project_id: proj
  topic: prefetch
  subscription: prefetch-sub
tracing:
  enabled: true
  sample_ratio: 0.25
logging:
  development: false
  level: debug
`)

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
	if cfg.Loader.MaxAttempts != 5 || cfg.BackoffStep() != 500*time.Millisecond || cfg.AttemptTimeout() != 3*time.Second {
		t.Fatalf("expected loader overrides to apply: %+v", cfg.Loader)
	}
	if cfg.Prefetch.MaxConcurrency != 8 || cfg.Prefetch.Workers != 3 || cfg.Prefetch.QueueDepth != 16 {
		t.Fatalf("expected prefetch overrides to apply: %+v", cfg.Prefetch)
	}
	if cfg.Cache.Backend != BackendGCS || cfg.Cache.GCSPrefix != "content" {
		t.Fatalf("expected normalized gcs cache with default prefix: %+v", cfg.Cache)
	}
	if cfg.Resolver.Postgres.Table != "item_links" || cfg.PostgresMaxConnLifetime() != 30*time.Minute {
		t.Fatalf("expected postgres defaults to merge: %+v", cfg.Resolver.Postgres)
	}
	if cfg.BackendTimeout() != 20*time.Second || cfg.ShutdownTimeout() != 5*time.Second {
		t.Fatalf("unexpected timeouts: backend=%v shutdown=%v", cfg.BackendTimeout(), cfg.ShutdownTimeout())
	}
	if cfg.Queue.Backend != BackendPubSub || cfg.Queue.MaxOutstandingMessages != 16 {
		t.Fatalf("expected pubsub queue: %+v", cfg.Queue)
	}
	if cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging overrides: %+v", cfg.Logging)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LOADER_BACKEND_BASE_URL", "http://localhost:8081")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Loader.MaxAttempts != 7 {
		t.Fatalf("expected max attempts 7, got %d", cfg.Loader.MaxAttempts)
	}
	if cfg.BackoffStep() != 2*time.Second {
		t.Fatalf("expected backoff step 2s, got %v", cfg.BackoffStep())
	}
	if cfg.AttemptTimeout() != 0 {
		t.Fatalf("expected no attempt timeout, got %v", cfg.AttemptTimeout())
	}
	if cfg.Prefetch.MaxConcurrency != 0 {
		t.Fatalf("expected unbounded fan-out by default, got %d", cfg.Prefetch.MaxConcurrency)
	}
	if cfg.Cache.Backend != BackendMemory || cfg.Resolver.Backend != BackendMemory || cfg.Queue.Backend != BackendMemory {
		t.Fatalf("expected in-memory backends by default: %+v %+v %+v", cfg.Cache, cfg.Resolver, cfg.Queue)
	}
	if cfg.RateLimitIdleTTL() != 10*time.Minute {
		t.Fatalf("expected 10m idle bucket ttl, got %v", cfg.RateLimitIdleTTL())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LOADER_BACKEND_BASE_URL", "http://localhost:8081")
	t.Setenv("LOADER_LOADER_MAX_ATTEMPTS", "3")
	t.Setenv("LOADER_PREFETCH_WORKERS", "6")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Loader.MaxAttempts != 3 || cfg.Prefetch.Workers != 6 {
		t.Fatalf("expected env overrides, got %+v %+v", cfg.Loader, cfg.Prefetch)
	}
}

func TestLoadPortEnv(t *testing.T) {
	t.Setenv("LOADER_BACKEND_BASE_URL", "http://localhost:8081")
	t.Setenv("PORT", "7070")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected PORT to set server port, got %d", cfg.Server.Port)
	}

	t.Setenv("LOADER_SERVER_PORT", "6060")
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 6060 {
		t.Fatalf("expected LOADER_SERVER_PORT to win, got %d", cfg.Server.Port)
	}
}

func TestLoadEnvOnly(t *testing.T) {
	t.Setenv("LOADER_BACKEND_BASE_URL", "http://backend:8081")
	t.Setenv("LOADER_BACKEND_AUTH_TOKEN", "svc-token")
	t.Setenv("LOADER_AUTH_ENABLED", "true")
	t.Setenv("LOADER_AUTH_API_KEY", "secret")
	t.Setenv("LOADER_CACHE_BACKEND", "gcs")
	t.Setenv("LOADER_CACHE_GCS_BUCKET", "content-bucket")
	t.Setenv("LOADER_RESOLVER_BACKEND", "postgres")
	t.Setenv("LOADER_RESOLVER_POSTGRES_DSN", "postgres://loader@db/readlater")
	t.Setenv("LOADER_RESOLVER_POSTGRES_ENSURE_SCHEMA", "true")
	t.Setenv("LOADER_QUEUE_BACKEND", "pubsub")
	t.Setenv("LOADER_QUEUE_PROJECT_ID", "proj")
	t.Setenv("LOADER_QUEUE_TOPIC", "prefetch")
	t.Setenv("LOADER_QUEUE_SUBSCRIPTION", "prefetch-sub")
	t.Setenv("LOADER_TRACING_ENABLED", "true")
	t.Setenv("LOADER_TRACING_EXPORTER", "gcp")
	t.Setenv("LOADER_TRACING_PROJECT_ID", "proj")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend.BaseURL != "http://backend:8081" || cfg.Backend.AuthToken != "svc-token" {
		t.Fatalf("backend not loaded from env: %+v", cfg.Backend)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("auth not loaded from env: %+v", cfg.Auth)
	}
	if cfg.Cache.GCSBucket != "content-bucket" {
		t.Fatalf("cache not loaded from env: %+v", cfg.Cache)
	}
	if cfg.Resolver.Postgres.DSN != "postgres://loader@db/readlater" || !cfg.Resolver.Postgres.EnsureSchema {
		t.Fatalf("postgres not loaded from env: %+v", cfg.Resolver.Postgres)
	}
	if cfg.Queue.ProjectID != "proj" || cfg.Queue.Topic != "prefetch" || cfg.Queue.Subscription != "prefetch-sub" {
		t.Fatalf("queue not loaded from env: %+v", cfg.Queue)
	}
	if cfg.Tracing.Exporter != ExporterGCP || cfg.Tracing.ProjectID != "proj" {
		t.Fatalf("tracing not loaded from env: %+v", cfg.Tracing)
	}
}

func TestLoadEnvLocalDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LOADER_BACKEND_BASE_URL", "http://backend:8081")
	t.Setenv("LOADER_CACHE_BACKEND", "local")
	t.Setenv("LOADER_CACHE_LOCAL_DIR", dir)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Cache.LocalDir != dir {
		t.Fatalf("expected local dir %q, got %q", dir, cfg.Cache.LocalDir)
	}
}

func TestRequestTimeout(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
		want time.Duration
	}{
		{
			name: "defaults",
			cfg:  Config{Loader: LoaderConfig{MaxAttempts: 7, BackoffStepMs: 2000}, Backend: BackendConfig{TimeoutSeconds: 10}},
			want: 42*time.Second + 60*time.Second + requestTimeoutSlack,
		},
		{
			name: "attempt timeout tighter than backend",
			cfg: Config{
				Loader:  LoaderConfig{MaxAttempts: 3, BackoffStepMs: 1000, AttemptTimeoutMs: 500},
				Backend: BackendConfig{TimeoutSeconds: 10},
			},
			want: 3*time.Second + time.Second + requestTimeoutSlack,
		},
		{
			name: "zero loader values use loader defaults",
			cfg:  Config{},
			want: 42*time.Second + requestTimeoutSlack,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.cfg.RequestTimeout(); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		return Config{
			Server:   ServerConfig{Port: 8080, ShutdownTimeoutSeconds: 10},
			Loader:   LoaderConfig{MaxAttempts: 7, BackoffStepMs: 2000},
			Prefetch: PrefetchConfig{Workers: 1, QueueDepth: 1},
			Backend:  BackendConfig{BaseURL: "http://backend", TimeoutSeconds: 10},
			Cache:    CacheConfig{Backend: BackendMemory},
			Resolver: ResolverConfig{Backend: BackendNone},
			Queue:    QueueConfig{Backend: BackendMemory},
		}
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"shutdown", func(c *Config) { c.Server.ShutdownTimeoutSeconds = 0 }, "shutdown_timeout_seconds"},
		{"auth key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"max attempts", func(c *Config) { c.Loader.MaxAttempts = 1 }, "loader.max_attempts"},
		{"backoff", func(c *Config) { c.Loader.BackoffStepMs = 0 }, "loader.backoff_step_ms"},
		{"attempt timeout", func(c *Config) { c.Loader.AttemptTimeoutMs = -1 }, "loader.attempt_timeout_ms"},
		{"concurrency", func(c *Config) { c.Prefetch.MaxConcurrency = -1 }, "prefetch.max_concurrency"},
		{"workers", func(c *Config) { c.Prefetch.Workers = 0 }, "prefetch.workers"},
		{"queue depth", func(c *Config) { c.Prefetch.QueueDepth = 0 }, "prefetch.queue_depth"},
		{"base url", func(c *Config) { c.Backend.BaseURL = "" }, "backend.base_url"},
		{"backend timeout", func(c *Config) { c.Backend.TimeoutSeconds = 0 }, "backend.timeout_seconds"},
		{"rate limit", func(c *Config) { c.Backend.RequestsPerSecond = -1 }, "backend.requests_per_second"},
		{"local dir", func(c *Config) { c.Cache.Backend = BackendLocal }, "cache.local_dir"},
		{"gcs bucket", func(c *Config) { c.Cache.Backend = BackendGCS }, "cache.gcs_bucket"},
		{"cache backend", func(c *Config) { c.Cache.Backend = "redis" }, "cache.backend"},
		{"postgres dsn", func(c *Config) { c.Resolver.Backend = BackendPostgres }, "resolver.postgres.dsn"},
		{"resolver backend", func(c *Config) { c.Resolver.Backend = "etcd" }, "resolver.backend"},
		{"pubsub", func(c *Config) { c.Queue.Backend = BackendPubSub }, "queue.project_id"},
		{"queue backend", func(c *Config) { c.Queue.Backend = "sqs" }, "queue.backend"},
		{"tracing exporter", func(c *Config) { c.Tracing = TracingConfig{Enabled: true, Exporter: "jaeger"} }, "tracing.exporter"},
		{"tracing project", func(c *Config) { c.Tracing = TracingConfig{Enabled: true, Exporter: ExporterGCP} }, "tracing.project_id"},
		{"sample ratio", func(c *Config) { c.Tracing = TracingConfig{Enabled: true, SampleRatio: 2} }, "tracing.sample_ratio"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
