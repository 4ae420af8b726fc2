// Package loader implements the content fetch retry orchestrator.
//
// A load runs as a bounded loop: fetch, inspect the returned status, and while the backend is
// still processing wait attempt × BackoffStep, re-resolve the item ID and try again. The chain
// ends with the fetched content (SUCCEEDED or UNKNOWN) or a content.LoadError that matches
// content.ErrBadData.
package loader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/readlater-content-loader/internal/clock/system"
	"github.com/JakeFAU/readlater-content-loader/internal/content"
	"github.com/JakeFAU/readlater-content-loader/internal/metrics"
	"github.com/JakeFAU/readlater-content-loader/internal/telemetry"
)

const (
	// DefaultMaxAttempts is the attempt number at which a chain gives up without fetching.
	DefaultMaxAttempts = 7
	// DefaultBackoffStep is multiplied by the attempt number to get the wait before a retry.
	DefaultBackoffStep = 2 * time.Second
)

// ErrEmptyItemID is returned when a load is requested without an item ID.
var ErrEmptyItemID = errors.New("item id is required")

// Config controls retry behavior.
type Config struct {
	MaxAttempts int
	BackoffStep time.Duration
	// AttemptTimeout bounds a single fetch call. Zero leaves fetches unbounded.
	AttemptTimeout time.Duration
}

// SleepFunc suspends the calling goroutine for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option customizes a Loader.
type Option func(*Loader)

// WithSleep replaces the backoff sleeper (used by tests to skip real waits).
func WithSleep(fn SleepFunc) Option {
	return func(l *Loader) {
		if fn != nil {
			l.sleep = fn
		}
	}
}

// WithClock replaces the clock used for duration metrics.
func WithClock(clock content.Clock) Option {
	return func(l *Loader) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// Loader fetches article content and retries while the backend is still processing it.
// A Loader holds no per-call state and is safe for concurrent use.
type Loader struct {
	fetcher  content.ContentFetcher
	resolver content.IDResolver
	cfg      Config
	sleep    SleepFunc
	clock    content.Clock
	tracer   trace.Tracer
	logger   *zap.Logger
}

// New constructs a Loader. resolver may be nil, in which case item IDs are never re-resolved.
func New(
	fetcher content.ContentFetcher,
	resolver content.IDResolver,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Loader {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffStep <= 0 {
		cfg.BackoffStep = DefaultBackoffStep
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loader{
		fetcher:  fetcher,
		resolver: resolver,
		cfg:      cfg,
		sleep:    sleepWithContext,
		clock:    system.New(),
		tracer:   telemetry.Tracer(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadWithRetries loads content for itemID starting at attempt 1.
func (l *Loader) LoadWithRetries(ctx context.Context, itemID, username string) (content.ArticleContent, error) {
	return l.Load(ctx, content.FetchRequest{ItemID: itemID, Username: username, Attempt: 1})
}

// Load runs a retry chain beginning at req.Attempt.
func (l *Loader) Load(ctx context.Context, req content.FetchRequest) (content.ArticleContent, error) {
	if req.ItemID == "" {
		return content.ArticleContent{}, ErrEmptyItemID
	}
	if req.Attempt < 1 {
		req.Attempt = 1
	}

	ctx, span := l.tracer.Start(ctx, "loader.Load", trace.WithAttributes(
		attribute.String("item.id", req.ItemID),
		attribute.Int("attempt.start", req.Attempt),
	))
	defer span.End()

	start := l.clock.Now()
	article, err := l.run(ctx, span, req)
	outcome := outcomeOf(article, err)
	metrics.ObserveLoad(outcome, l.clock.Now().Sub(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	return article, err
}

func (l *Loader) run(ctx context.Context, span trace.Span, req content.FetchRequest) (content.ArticleContent, error) {
	itemID := req.ItemID
	for attempt := req.Attempt; ; attempt++ {
		if attempt >= l.cfg.MaxAttempts {
			l.logger.Warn("content retry cap reached",
				zap.String("item_id", itemID),
				zap.String("username", req.Username),
				zap.Int("attempt", attempt),
			)
			return content.ArticleContent{}, &content.LoadError{
				Reason:  content.ReasonAttemptsExhausted,
				ItemID:  itemID,
				Attempt: attempt,
			}
		}
		if err := ctx.Err(); err != nil {
			return content.ArticleContent{}, fmt.Errorf("load content %s: %w", itemID, err)
		}

		fetched, err := l.fetch(ctx, req.Username, itemID)
		if err != nil {
			return content.ArticleContent{}, fmt.Errorf("fetch content %s (attempt %d): %w", itemID, attempt, err)
		}
		metrics.ObserveFetchAttempt(string(fetched.Status))
		span.AddEvent("fetch", trace.WithAttributes(
			attribute.String("item.id", itemID),
			attribute.Int("attempt", attempt),
			attribute.String("status", string(fetched.Status)),
		))

		switch fetched.Status {
		case content.StatusFailed:
			l.logger.Info("backend reported content failure",
				zap.String("item_id", itemID),
				zap.Int("attempt", attempt),
			)
			return content.ArticleContent{}, &content.LoadError{
				Reason:  content.ReasonContentFailed,
				ItemID:  itemID,
				Attempt: attempt,
			}
		case content.StatusProcessing:
			backoff := l.backoff(attempt)
			metrics.ObserveBackoff(backoff)
			if err := l.sleep(ctx, backoff); err != nil {
				return content.ArticleContent{}, fmt.Errorf("load content %s: %w", itemID, err)
			}
			l.logger.Debug("fetching content",
				zap.String("item_id", itemID),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
			)
			itemID = l.resolve(ctx, itemID)
		case content.StatusSucceeded:
			return fetched, nil
		case content.StatusUnknown:
			l.logger.Warn("content status unknown, returning content as loaded",
				zap.String("item_id", itemID),
				zap.Int("attempt", attempt),
			)
			return fetched, nil
		default:
			return content.ArticleContent{}, &content.LoadError{
				Reason:  content.ReasonUnrecognizedStatus,
				ItemID:  itemID,
				Attempt: attempt,
			}
		}
	}
}

func (l *Loader) fetch(ctx context.Context, username, itemID string) (content.ArticleContent, error) {
	if l.cfg.AttemptTimeout <= 0 {
		return l.fetcher.Fetch(ctx, username, itemID, true)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, l.cfg.AttemptTimeout)
	defer cancel()
	return l.fetcher.Fetch(attemptCtx, username, itemID, true)
}

// resolve returns the newest known ID for itemID. Lookup failures keep the current ID.
func (l *Loader) resolve(ctx context.Context, itemID string) string {
	if l.resolver == nil {
		return itemID
	}
	resolved, ok, err := l.resolver.Resolve(ctx, itemID)
	if err != nil {
		l.logger.Warn("item id lookup failed", zap.String("item_id", itemID), zap.Error(err))
		return itemID
	}
	if !ok || resolved == "" {
		return itemID
	}
	if resolved != itemID {
		l.logger.Debug("item id reassigned", zap.String("item_id", itemID), zap.String("canonical_id", resolved))
	}
	return resolved
}

func (l *Loader) backoff(attempt int) time.Duration {
	return time.Duration(attempt) * l.cfg.BackoffStep
}

func outcomeOf(article content.ArticleContent, err error) string {
	var loadErr *content.LoadError
	switch {
	case err == nil && article.Status == content.StatusUnknown:
		return "unknown"
	case err == nil:
		return "succeeded"
	case errors.As(err, &loadErr):
		return string(loadErr.Reason)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
