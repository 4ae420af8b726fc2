// Package prefetch warms article content for a batch of items concurrently.
package prefetch

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/readlater-content-loader/internal/content"
	"github.com/JakeFAU/readlater-content-loader/internal/metrics"
)

// Loader runs one retry chain.
type Loader interface {
	Load(ctx context.Context, req content.FetchRequest) (content.ArticleContent, error)
}

// Config controls fan-out width.
type Config struct {
	// MaxConcurrency caps simultaneous retry chains. Zero or less means one goroutine per item.
	MaxConcurrency int
}

// Prefetcher launches an independent retry chain per item and waits for all of them.
type Prefetcher struct {
	loader Loader
	cfg    Config
	logger *zap.Logger
}

// New constructs a Prefetcher.
func New(loader Loader, cfg Config, logger *zap.Logger) *Prefetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prefetcher{loader: loader, cfg: cfg, logger: logger}
}

// PrefetchAll loads every item in itemIDs and returns once each chain has finished.
// Outcomes are logged and counted but never returned; a failing chain does not affect the others.
// Cancelling ctx stops every in-flight chain at its next suspension point.
func (p *Prefetcher) PrefetchAll(ctx context.Context, itemIDs []string, username string) {
	links := pendingLinks(itemIDs)
	if len(links) == 0 {
		return
	}
	metrics.ObservePrefetchBatch()
	p.logger.Debug("prefetch batch started", zap.String("username", username), zap.Int("items", len(links)))

	var g errgroup.Group
	if p.cfg.MaxConcurrency > 0 {
		g.SetLimit(p.cfg.MaxConcurrency)
	}
	for _, link := range links {
		if ctx.Err() != nil {
			metrics.ObservePrefetchItem("canceled")
			continue
		}
		g.Go(func() error {
			p.prefetchPage(ctx, link, username)
			return nil
		})
	}
	// Children never return errors; Wait is only the join point.
	_ = g.Wait()
	p.logger.Debug("prefetch batch finished", zap.String("username", username), zap.Int("items", len(links)))
}

func (p *Prefetcher) prefetchPage(ctx context.Context, link content.PendingLink, username string) {
	metrics.IncPrefetchInflight()
	defer metrics.DecPrefetchInflight()

	_, err := p.loader.Load(ctx, content.FetchRequest{
		ItemID:   link.ItemID,
		Username: username,
		Attempt:  link.RetryCount,
	})
	switch {
	case err == nil:
		metrics.ObservePrefetchItem("loaded")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		metrics.ObservePrefetchItem("canceled")
	default:
		metrics.ObservePrefetchItem("failed")
		p.logger.Debug("prefetch item failed", zap.String("item_id", link.ItemID), zap.Error(err))
	}
}

// pendingLinks collapses duplicates and drops empty IDs, keeping first-seen order.
func pendingLinks(itemIDs []string) []content.PendingLink {
	if len(itemIDs) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(itemIDs))
	links := make([]content.PendingLink, 0, len(itemIDs))
	for _, id := range itemIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		links = append(links, content.PendingLink{ItemID: id, RetryCount: 1})
	}
	return links
}
