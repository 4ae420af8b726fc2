package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if fetchAttemptsTotal == nil || loadResultsTotal == nil ||
		prefetchItemsTotal == nil || httpRequestsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveFetchAttempt(t *testing.T) {
	Init()
	before := testutil.ToFloat64(fetchAttemptsTotal.WithLabelValues("PROCESSING"))

	ObserveFetchAttempt("PROCESSING")
	ObserveFetchAttempt("PROCESSING")

	if got := testutil.ToFloat64(fetchAttemptsTotal.WithLabelValues("PROCESSING")) - before; got != 2 {
		t.Errorf("Expected 2 PROCESSING attempts, got %f", got)
	}
}

func TestObserveLoad(t *testing.T) {
	Init()
	before := testutil.ToFloat64(loadResultsTotal.WithLabelValues("succeeded"))

	ObserveLoad("succeeded", 3*time.Second)

	if got := testutil.ToFloat64(loadResultsTotal.WithLabelValues("succeeded")) - before; got != 1 {
		t.Errorf("Expected 1 succeeded load, got %f", got)
	}
	if val := testutil.CollectAndCount(loadDurationSeconds); val <= 0 {
		t.Errorf("Expected loadDurationSeconds to be observed, got %d", val)
	}
}

func TestPrefetchInflightGauge(t *testing.T) {
	Init()
	before := testutil.ToFloat64(prefetchInflight)

	IncPrefetchInflight()
	IncPrefetchInflight()
	DecPrefetchInflight()

	if got := testutil.ToFloat64(prefetchInflight) - before; got != 1 {
		t.Errorf("Expected gauge delta 1, got %f", got)
	}
}

func TestObserveQueueMessage(t *testing.T) {
	Init()
	before := testutil.ToFloat64(queueMessagesTotal.WithLabelValues("pubsub", "malformed"))

	ObserveQueueMessage("pubsub", "malformed")

	if got := testutil.ToFloat64(queueMessagesTotal.WithLabelValues("pubsub", "malformed")) - before; got != 1 {
		t.Errorf("Expected 1 malformed message, got %f", got)
	}
}

func histogramCount(t *testing.T, h prometheus.Histogram) uint64 {
	t.Helper()
	var m dto.Metric
	if err := h.Write(&m); err != nil {
		t.Fatalf("write histogram: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestObserveRateLimitDelay(t *testing.T) {
	Init()
	before := histogramCount(t, rateLimitDelaySeconds)

	ObserveRateLimitDelay(20 * time.Millisecond)

	if got := histogramCount(t, rateLimitDelaySeconds) - before; got != 1 {
		t.Errorf("Expected 1 rate limit observation, got %d", got)
	}
}
