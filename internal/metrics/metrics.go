// Package metrics exposes Prometheus collectors for the content loader service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchAttemptsTotal         *prometheus.CounterVec
	loadResultsTotal           *prometheus.CounterVec
	loadBackoffSeconds         prometheus.Histogram
	loadDurationSeconds        *prometheus.HistogramVec
	prefetchBatchesTotal       prometheus.Counter
	prefetchItemsTotal         *prometheus.CounterVec
	prefetchInflight           prometheus.Gauge
	queueMessagesTotal         *prometheus.CounterVec
	cacheLookupsTotal          *prometheus.CounterVec
	rateLimitDelaySeconds      prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loader_fetch_attempts_total",
				Help: "Total number of content fetch attempts, labeled by returned status.",
			},
			[]string{"status"},
		)

		loadResultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loader_results_total",
				Help: "Total number of finished retry chains, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		loadBackoffSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "loader_backoff_seconds",
				Help:    "Histogram of backoff waits between fetch attempts.",
				Buckets: []float64{1, 2, 4, 6, 8, 10, 12, 20},
			},
		)

		loadDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loader_duration_seconds",
				Help:    "Histogram of total retry chain durations, labeled by outcome.",
				Buckets: []float64{0.05, 0.25, 1, 5, 15, 30, 45, 60},
			},
			[]string{"outcome"},
		)

		prefetchBatchesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "prefetch_batches_total",
				Help: "Total number of prefetch batches started.",
			},
		)

		prefetchItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prefetch_items_total",
				Help: "Total number of prefetched items, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		prefetchInflight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "prefetch_inflight",
				Help: "Number of prefetch retry chains currently running.",
			},
		)

		queueMessagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "queue_messages_total",
				Help: "Total number of prefetch queue messages, labeled by source and result.",
			},
			[]string{"source", "result"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_lookups_total",
				Help: "Total number of content cache lookups, labeled by result.",
			},
			[]string{"result"},
		)

		rateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "backend_rate_limit_delay_seconds",
				Help:    "Histogram of time spent waiting for a backend rate limit token.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 45},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveFetchAttempt counts one fetch call by the status it returned.
func ObserveFetchAttempt(status string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(status).Inc()
}

// ObserveBackoff records a backoff wait.
func ObserveBackoff(d time.Duration) {
	Init()
	loadBackoffSeconds.Observe(d.Seconds())
}

// ObserveLoad records the outcome and duration of a retry chain.
func ObserveLoad(outcome string, d time.Duration) {
	Init()
	loadResultsTotal.WithLabelValues(outcome).Inc()
	loadDurationSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObservePrefetchBatch counts a started prefetch batch.
func ObservePrefetchBatch() {
	Init()
	prefetchBatchesTotal.Inc()
}

// ObservePrefetchItem counts a finished prefetch chain.
func ObservePrefetchItem(outcome string) {
	Init()
	prefetchItemsTotal.WithLabelValues(outcome).Inc()
}

// IncPrefetchInflight increments the in-flight prefetch gauge.
func IncPrefetchInflight() {
	Init()
	prefetchInflight.Inc()
}

// DecPrefetchInflight decrements the in-flight prefetch gauge.
func DecPrefetchInflight() {
	Init()
	prefetchInflight.Dec()
}

// ObserveQueueMessage counts a queue message by source and result.
func ObserveQueueMessage(source, result string) {
	Init()
	queueMessagesTotal.WithLabelValues(source, result).Inc()
}

// ObserveCacheLookup counts a cache lookup as "hit", "miss" or "error".
func ObserveCacheLookup(result string) {
	Init()
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveRateLimitDelay records how long a fetch waited for a rate limit token.
func ObserveRateLimitDelay(d time.Duration) {
	Init()
	rateLimitDelaySeconds.Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
