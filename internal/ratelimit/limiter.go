// Package ratelimit throttles calls to the Article Content Fetch Service per user.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/readlater-content-loader/internal/content"
	"github.com/JakeFAU/readlater-content-loader/internal/metrics"
)

// DefaultIdleTTL is how long an unused per-user bucket is kept.
const DefaultIdleTTL = 10 * time.Minute

// Config holds rate limiter configuration.
type Config struct {
	// RequestsPerSecond is the sustained rate per user. Zero or less disables limiting.
	RequestsPerSecond float64
	Burst             int

	// IdleTTL drops buckets unused for this long. Buckets are never dropped before
	// they could have refilled, so eviction does not grant extra tokens.
	IdleTTL time.Duration
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter manages one token bucket per key.
type Limiter struct {
	mu        sync.Mutex
	limiters  map[string]*entry
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	idleTTL := cfg.IdleTTL
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	if limit != rate.Inf {
		if refill := time.Duration(float64(burst) / float64(limit) * float64(time.Second)); refill > idleTTL {
			idleTTL = refill
		}
	}
	return &Limiter{
		limiters: make(map[string]*entry),
		limit:    limit,
		burst:    burst,
		idleTTL:  idleTTL,
		now:      time.Now,
	}
}

// Wait blocks until a token is available for key or ctx is done.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if l.limit == rate.Inf {
		return nil
	}
	l.mu.Lock()
	now := l.now()
	l.sweepLocked(now)
	e, ok := l.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = now
	limiter := e.limiter
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(waited)
	}
	return nil
}

// Len reports how many per-user buckets are held.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// sweepLocked drops idle buckets at most once per idleTTL. l.mu must be held.
func (l *Limiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.idleTTL {
		return
	}
	l.lastSweep = now
	for key, e := range l.limiters {
		if now.Sub(e.lastSeen) >= l.idleTTL {
			delete(l.limiters, key)
		}
	}
}

// Fetcher delays upstream fetches so each user stays under the configured rate.
type Fetcher struct {
	upstream content.ContentFetcher
	limiter  *Limiter
}

// NewFetcher wraps upstream with limiter.
func NewFetcher(upstream content.ContentFetcher, limiter *Limiter) *Fetcher {
	return &Fetcher{upstream: upstream, limiter: limiter}
}

// Fetch waits for the user's token and then delegates to the upstream fetcher.
func (f *Fetcher) Fetch(ctx context.Context, username, itemID string, useCache bool) (content.ArticleContent, error) {
	if err := f.limiter.Wait(ctx, username); err != nil {
		return content.ArticleContent{}, err
	}
	return f.upstream.Fetch(ctx, username, itemID, useCache)
}
