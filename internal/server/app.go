// Package server builds the content loader's dependencies and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	pubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/readlater-content-loader/internal/api"
	"github.com/JakeFAU/readlater-content-loader/internal/backend"
	"github.com/JakeFAU/readlater-content-loader/internal/cache"
	"github.com/JakeFAU/readlater-content-loader/internal/config"
	"github.com/JakeFAU/readlater-content-loader/internal/content"
	"github.com/JakeFAU/readlater-content-loader/internal/dispatcher"
	"github.com/JakeFAU/readlater-content-loader/internal/id/uuid"
	"github.com/JakeFAU/readlater-content-loader/internal/loader"
	"github.com/JakeFAU/readlater-content-loader/internal/logging"
	"github.com/JakeFAU/readlater-content-loader/internal/metrics"
	"github.com/JakeFAU/readlater-content-loader/internal/prefetch"
	queueMemory "github.com/JakeFAU/readlater-content-loader/internal/queue/memory"
	gcppubsub "github.com/JakeFAU/readlater-content-loader/internal/queue/pubsub"
	"github.com/JakeFAU/readlater-content-loader/internal/ratelimit"
	gcsstorage "github.com/JakeFAU/readlater-content-loader/internal/storage/gcs"
	localstorage "github.com/JakeFAU/readlater-content-loader/internal/storage/local"
	memoryStorage "github.com/JakeFAU/readlater-content-loader/internal/storage/memory"
	pgstore "github.com/JakeFAU/readlater-content-loader/internal/storage/postgres"
	"github.com/JakeFAU/readlater-content-loader/internal/telemetry"
	"github.com/JakeFAU/readlater-content-loader/internal/worker"
)

// closeTimeout bounds releasing clients and flushing spans once serving has stopped.
const closeTimeout = 5 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg            config.Config
	logger         *zap.Logger
	apiServer      *api.Server
	loader         *loader.Loader
	dispatch       *dispatcher.Dispatcher
	queue          *queueMemory.Queue
	consumer       *gcppubsub.Consumer
	publisher      *gcppubsub.Publisher
	pubsubClient   *pubsub.Client
	storage        *storage.Client
	linkStore      *pgstore.LinkStore
	tracerShutdown func(context.Context) error
}

// Build creates the application's dependencies. On error everything built so far is released.
func Build(ctx context.Context, cfg config.Config) (_ *App, err error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
			defer cancel()
			app.closeInfrastructure(closeCtx)
			if obsErr := app.closeObservability(closeCtx); obsErr != nil {
				logger.Warn("observability cleanup failed", zap.Error(obsErr))
			}
		}
	}()
	app.logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("cache", cfg.Cache.Backend),
		zap.String("resolver", cfg.Resolver.Backend),
		zap.String("queue", cfg.Queue.Backend),
	)

	if cfg.Tracing.Enabled {
		if err := app.setupTracing(ctx); err != nil {
			return nil, err
		}
	}

	client, err := backend.New(backend.Config{
		BaseURL:   cfg.Backend.BaseURL,
		Timeout:   cfg.BackendTimeout(),
		UserAgent: cfg.Backend.UserAgent,
		AuthToken: cfg.Backend.AuthToken,
	}, logger.Named("backend"))
	if err != nil {
		return nil, fmt.Errorf("backend client init failed: %w", err)
	}

	contentStore, err := app.setupContentStore(ctx)
	if err != nil {
		return nil, err
	}
	resolver, recorder, err := app.setupResolver(ctx)
	if err != nil {
		return nil, err
	}

	var fetcher content.ContentFetcher = client
	if cfg.Backend.RequestsPerSecond > 0 {
		fetcher = ratelimit.NewFetcher(client, ratelimit.New(ratelimit.Config{
			RequestsPerSecond: cfg.Backend.RequestsPerSecond,
			Burst:             cfg.Backend.Burst,
			IdleTTL:           cfg.RateLimitIdleTTL(),
		}))
	}
	if contentStore != nil {
		fetcher = cache.New(fetcher, contentStore, recorder, logger.Named("cache"))
	}

	app.loader = loader.New(fetcher, resolver, loader.Config{
		MaxAttempts:    cfg.Loader.MaxAttempts,
		BackoffStep:    cfg.BackoffStep(),
		AttemptTimeout: cfg.AttemptTimeout(),
	}, logger.Named("loader"))
	prefetcher := prefetch.New(app.loader, prefetch.Config{
		MaxConcurrency: cfg.Prefetch.MaxConcurrency,
	}, logger.Named("prefetch"))

	app.queue = queueMemory.NewQueue(cfg.Prefetch.QueueDepth)
	workers := make([]*worker.Worker, 0, cfg.Prefetch.Workers)
	for i := range cfg.Prefetch.Workers {
		workers = append(workers, worker.New(i, app.queue, prefetcher, logger.Named("worker")))
	}
	app.dispatch = dispatcher.New(app.queue, workers)

	var enqueuer api.Enqueuer = app.dispatch
	if cfg.Queue.Backend == config.BackendPubSub {
		if err := app.setupPubSub(ctx); err != nil {
			return nil, err
		}
		enqueuer = app.publisher
	}

	app.apiServer = api.NewServer(app.loader, enqueuer, uuid.New(), cfg, logger.Named("api"))
	return app, nil
}

func (a *App) setupTracing(ctx context.Context) error {
	exp, err := telemetry.NewSpanExporter(ctx, telemetry.ExporterConfig{
		Kind:      a.cfg.Tracing.Exporter,
		ProjectID: a.cfg.Tracing.ProjectID,
	})
	if err != nil {
		return fmt.Errorf("trace exporter init failed: %w", err)
	}
	tp, err := telemetry.InitTracerProvider(ctx, a.cfg.Tracing.ServiceName, a.cfg.Tracing.SampleRatio,
		telemetry.WithExporter(exp)...)
	if err != nil {
		if exp != nil {
			_ = exp.Shutdown(ctx)
		}
		return fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerShutdown = tp.Shutdown
	a.logger.Info("tracing enabled",
		zap.String("exporter", a.cfg.Tracing.Exporter),
		zap.Float64("sample_ratio", a.cfg.Tracing.SampleRatio),
	)
	return nil
}

func (a *App) setupContentStore(ctx context.Context) (content.ContentStore, error) {
	switch a.cfg.Cache.Backend {
	case config.BackendNone:
		a.logger.Info("content cache disabled")
		return nil, nil
	case config.BackendGCS:
		var err error
		a.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		store, err := gcsstorage.New(a.storage, gcsstorage.Config{
			Bucket: a.cfg.Cache.GCSBucket,
			Prefix: a.cfg.Cache.GCSPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs content store init failed: %w", err)
		}
		a.logger.Info("using GCS content cache", zap.String("bucket", a.cfg.Cache.GCSBucket))
		return store, nil
	case config.BackendLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Cache.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local content store init failed: %w", err)
		}
		a.logger.Info("using local content cache", zap.String("path", a.cfg.Cache.LocalDir))
		return store, nil
	default:
		a.logger.Info("using in-memory content cache")
		return memoryStorage.NewContentStore(), nil
	}
}

func (a *App) setupResolver(ctx context.Context) (content.IDResolver, content.LinkRecorder, error) {
	switch a.cfg.Resolver.Backend {
	case config.BackendNone:
		a.logger.Info("item id resolver disabled")
		return nil, nil, nil
	case config.BackendPostgres:
		pg := a.cfg.Resolver.Postgres
		store, err := pgstore.NewLinkStore(ctx, pgstore.LinkStoreConfig{
			DSN:             pg.DSN,
			Table:           pg.Table,
			MaxConns:        pg.MaxConns,
			MinConns:        pg.MinConns,
			MaxConnLifetime: a.cfg.PostgresMaxConnLifetime(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("link store init failed: %w", err)
		}
		a.linkStore = store
		if pg.EnsureSchema {
			if err := store.EnsureSchema(ctx); err != nil {
				return nil, nil, err
			}
		}
		a.logger.Info("using postgres item id resolver", zap.String("table", pg.Table))
		return store, store, nil
	default:
		store := memoryStorage.NewLinkStore()
		a.logger.Info("using in-memory item id resolver")
		return store, store, nil
	}
}

func (a *App) setupPubSub(ctx context.Context) error {
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.Queue.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.publisher, err = gcppubsub.NewPublisher(a.pubsubClient.Topic(a.cfg.Queue.Topic))
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.consumer, err = gcppubsub.NewConsumer(
		a.pubsubClient.Subscription(a.cfg.Queue.Subscription),
		a.queue,
		gcppubsub.ConsumerConfig{MaxOutstandingMessages: a.cfg.Queue.MaxOutstandingMessages},
		a.logger.Named("pubsub"),
	)
	if err != nil {
		return fmt.Errorf("pubsub consumer init failed: %w", err)
	}
	a.logger.Info("Pub/Sub prefetch queue initialized",
		zap.String("project", a.cfg.Queue.ProjectID),
		zap.String("topic", a.cfg.Queue.Topic),
		zap.String("subscription", a.cfg.Queue.Subscription),
	)
	return nil
}

// Handler exposes the HTTP handler (primarily for tests).
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run listens on the configured port and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the workers, the optional Pub/Sub consumer and the HTTP server on ln until ctx
// is cancelled, then shuts everything down within the configured timeout.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	workCtx, stopWork := context.WithCancel(context.Background())
	defer stopWork()
	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Prefetch.Workers))
		a.dispatch.Run(workCtx)
	}()

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if a.consumer == nil {
			return
		}
		a.logger.Info("pubsub consumer started")
		if err := a.consumer.Run(ctx); err != nil {
			a.logger.Error("pubsub consumer stopped", zap.Error(err))
			stop()
		}
	}()

	srv := &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")
	a.apiServer.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	<-consumerDone

	// Buffered batches drain until the deadline, then in-flight chains are cancelled.
	a.queue.Close()
	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("shutdown deadline reached, cancelling in-flight prefetches")
		stopWork()
		<-workersDone
	}

	closeCtx, cancelClose := context.WithTimeout(context.Background(), closeTimeout)
	defer cancelClose()
	closeErr := a.Close(closeCtx)
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close releases clients and flushes telemetry. The returned error reports a failed span flush.
func (a *App) Close(ctx context.Context) error {
	a.queue.Close()
	a.closeInfrastructure(ctx)
	a.logger.Info("shutdown complete")
	return a.closeObservability(ctx)
}

func (a *App) closeInfrastructure(_ context.Context) {
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.linkStore != nil {
		a.linkStore.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) error {
	var err error
	if a.tracerShutdown != nil {
		if err = a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
			err = fmt.Errorf("tracer shutdown: %w", err)
		}
		a.tracerShutdown = nil
	}
	// Sync commonly fails on stderr; the error is not actionable.
	_ = a.logger.Sync()
	return err
}
