// Package main hosts the content loader service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics and two routes under /v1. A content read runs one retry
//     chain synchronously; a prefetch request is validated, given a batch ID and enqueued.
//   - Retry chain: internal/loader asks the Article Content Fetch Service for an item. While the service reports
//     PROCESSING the chain waits attempt x backoff_step, re-resolves the item ID and tries again, giving up once the
//     attempt number reaches max_attempts. SUCCEEDED and UNKNOWN both end the chain with content.
//   - Prefetch: workers drain a bounded in-memory queue and hand each batch to internal/prefetch, which launches one
//     retry chain per item and waits for all of them. With queue.backend=pubsub the API publishes batches to a topic
//     and a subscription consumer feeds the same in-memory queue.
//   - Persistence: successful content is cached in memory, on local disk or in GCS. Item ID reassignments are tracked
//     in memory or in a Postgres link table and consulted between attempts.
//   - Configuration & plumbing: Viper populates config from env/files (LOADER_ prefix); zap provides structured
//     logging; Prometheus metrics are served on /metrics; OpenTelemetry spans cover the API, each chain and the
//     backend calls when tracing.enabled is set.
//
// Quick checklist:
//   - Configure env vars: LOADER_BACKEND_BASE_URL (required), LOADER_SERVER_PORT or PORT, LOADER_LOADER_MAX_ATTEMPTS,
//     LOADER_LOADER_BACKOFF_STEP_MS, cache (LOADER_CACHE_*), resolver (LOADER_RESOLVER_*) and queue (LOADER_QUEUE_*).
//   - Run locally: go run ./cmd/contentloader -config config.yaml (or rely solely on env overrides).
//   - Cloud Run: the container listens on PORT and drains in-flight prefetches on SIGTERM within
//     server.shutdown_timeout_seconds.
package main
