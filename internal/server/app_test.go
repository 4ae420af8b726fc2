package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/JakeFAU/readlater-content-loader/internal/config"
	"github.com/JakeFAU/readlater-content-loader/internal/telemetry"
)

type fakeBackend struct {
	mu    sync.Mutex
	paths []string
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.paths = append(b.paths, r.URL.Path)
	b.mu.Unlock()

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	itemID := parts[len(parts)-2]
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"item_id":%q,"title":"Title","content":"<p>hi</p>","status":"SUCCEEDED"}`, itemID)
}

func (b *fakeBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.paths)
}

func testConfig(baseURL string) config.Config {
	return config.Config{
		Server:   config.ServerConfig{Port: 0, ShutdownTimeoutSeconds: 2},
		Loader:   config.LoaderConfig{MaxAttempts: 7, BackoffStepMs: 1},
		Prefetch: config.PrefetchConfig{Workers: 1, QueueDepth: 4},
		Backend:  config.BackendConfig{BaseURL: baseURL, TimeoutSeconds: 2, UserAgent: "test"},
		Cache:    config.CacheConfig{Backend: config.BackendMemory},
		Resolver: config.ResolverConfig{Backend: config.BackendMemory},
		Queue:    config.QueueConfig{Backend: config.BackendMemory},
		Logging:  config.LoggingConfig{Development: true, Level: "error"},
	}
}

func startApp(t *testing.T, cfg config.Config) (string, func()) {
	t.Helper()
	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx, ln) }()

	stop := func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("serve did not return after cancel")
		}
	}
	return "http://" + ln.Addr().String(), stop
}

func TestAppServesContentAndCaches(t *testing.T) {
	backend := &fakeBackend{}
	upstream := httptest.NewServer(backend)
	defer upstream.Close()

	base, stop := startApp(t, testConfig(upstream.URL))
	defer stop()

	for range 2 {
		resp, err := http.Get(base + "/v1/users/reader/items/item-1/content")
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var got map[string]any
		require.NoError(t, json.Unmarshal(body, &got))
		require.Equal(t, "item-1", got["item_id"])
		require.Equal(t, "SUCCEEDED", got["status"])
	}
	require.Equal(t, 1, backend.count(), "second read should be served from the cache")
}

func TestAppPrefetchReachesBackend(t *testing.T) {
	backend := &fakeBackend{}
	upstream := httptest.NewServer(backend)
	defer upstream.Close()

	cfg := testConfig(upstream.URL)
	cfg.Cache.Backend = config.BackendNone
	cfg.Resolver.Backend = config.BackendNone
	base, stop := startApp(t, cfg)
	defer stop()

	resp, err := http.Post(base+"/v1/users/reader/prefetch", "application/json",
		strings.NewReader(`{"item_ids":["a","b","a"]}`))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool { return backend.count() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestAppLocalCache(t *testing.T) {
	backend := &fakeBackend{}
	upstream := httptest.NewServer(backend)
	defer upstream.Close()

	cfg := testConfig(upstream.URL)
	cfg.Cache.Backend = config.BackendLocal
	cfg.Cache.LocalDir = t.TempDir()
	cfg.Backend.RequestsPerSecond = 50
	cfg.Backend.Burst = 2
	base, stop := startApp(t, cfg)
	defer stop()

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/v1/users/reader/items/x/content")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBuildRejectsBadBackendURL(t *testing.T) {
	_, err := Build(context.Background(), testConfig("ftp://example.com"))
	require.Error(t, err)
}

func enableStdoutTracing(t *testing.T, cfg *config.Config) {
	t.Helper()
	cfg.Tracing = config.TracingConfig{Enabled: true, SampleRatio: 1, Exporter: config.ExporterStdout}
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })
}

func TestBuildShutsDownTracerOnError(t *testing.T) {
	notDir := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(notDir, []byte("x"), 0o600))

	cfg := testConfig("http://127.0.0.1:1")
	cfg.Cache.Backend = config.BackendLocal
	cfg.Cache.LocalDir = notDir
	enableStdoutTracing(t, &cfg)

	_, err := Build(context.Background(), cfg)
	require.Error(t, err)

	_, span := telemetry.Tracer().Start(context.Background(), "after-build")
	defer span.End()
	require.False(t, span.IsRecording(), "tracer provider should be shut down when Build fails")
}

// hangingBackend holds every request until the client gives up.
type hangingBackend struct {
	once    sync.Once
	started chan struct{}
}

func (b *hangingBackend) ServeHTTP(_ http.ResponseWriter, r *http.Request) {
	b.once.Do(func() { close(b.started) })
	<-r.Context().Done()
}

func TestAppServeFlushesTracesAfterDeadlineDrain(t *testing.T) {
	backend := &hangingBackend{started: make(chan struct{})}
	upstream := httptest.NewServer(backend)
	defer upstream.Close()

	cfg := testConfig(upstream.URL)
	cfg.Server.ShutdownTimeoutSeconds = 1
	cfg.Cache.Backend = config.BackendNone
	cfg.Resolver.Backend = config.BackendNone
	enableStdoutTracing(t, &cfg)
	base, stop := startApp(t, cfg)

	resp, err := http.Post(base+"/v1/users/reader/prefetch", "application/json",
		strings.NewReader(`{"item_ids":["slow"]}`))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case <-backend.started:
	case <-time.After(2 * time.Second):
		t.Fatal("prefetch never reached the backend")
	}

	// The drain uses up the whole shutdown deadline; Close still gets time to flush spans.
	stop()
}
