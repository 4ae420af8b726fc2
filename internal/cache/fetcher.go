// Package cache decorates a content fetcher with a persistent content store.
package cache

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/readlater-content-loader/internal/content"
	"github.com/JakeFAU/readlater-content-loader/internal/metrics"
	"github.com/JakeFAU/readlater-content-loader/internal/storage/memory"
)

// linkIndex both records and resolves item reassignments.
type linkIndex interface {
	content.LinkRecorder
	content.IDResolver
}

// Fetcher serves SUCCEEDED content from a store when the caller allows cached results,
// and writes every SUCCEEDED upstream result back to the store.
//
// Entries are keyed by the ID the backend returned. A request for an older ID is
// followed through the link index so it reaches the entry stored under its successor.
type Fetcher struct {
	upstream content.ContentFetcher
	store    content.ContentStore
	links    content.LinkRecorder
	aliases  linkIndex
	logger   *zap.Logger

	// sharedIndex is set when links also serves as aliases.
	sharedIndex bool
}

// New wraps upstream. links may be nil when reassignments are not tracked elsewhere;
// the fetcher then keeps its own in-memory index of them.
func New(upstream content.ContentFetcher, store content.ContentStore, links content.LinkRecorder, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	aliases, shared := links.(linkIndex)
	if !shared {
		aliases = memory.NewLinkStore()
	}
	return &Fetcher{
		upstream:    upstream,
		store:       store,
		links:       links,
		aliases:     aliases,
		logger:      logger,
		sharedIndex: shared,
	}
}

// Fetch implements content.ContentFetcher.
func (f *Fetcher) Fetch(ctx context.Context, username, itemID string, useCache bool) (content.ArticleContent, error) {
	if useCache {
		if article, ok := f.lookup(ctx, username, itemID); ok {
			return article, nil
		}
	}

	article, err := f.upstream.Fetch(ctx, username, itemID, useCache)
	if err != nil {
		return content.ArticleContent{}, err
	}
	if article.ItemID != "" && article.ItemID != itemID {
		f.recordLink(ctx, itemID, article.ItemID)
	}
	if article.Status == content.StatusSucceeded {
		if article.ItemID == "" {
			article.ItemID = itemID
		}
		if err := f.store.PutContent(ctx, username, article); err != nil {
			f.logger.Warn("store content failed",
				zap.String("item_id", article.ItemID),
				zap.String("username", username),
				zap.Error(err),
			)
		}
	}
	return article, nil
}

func (f *Fetcher) recordLink(ctx context.Context, itemID, canonicalID string) {
	recorders := []content.LinkRecorder{f.aliases}
	if f.links != nil && !f.sharedIndex {
		recorders = append(recorders, f.links)
	}
	for _, r := range recorders {
		if err := r.RecordLink(ctx, itemID, canonicalID); err != nil {
			f.logger.Warn("record item link failed",
				zap.String("item_id", itemID),
				zap.String("canonical_id", canonicalID),
				zap.Error(err),
			)
		}
	}
}

func (f *Fetcher) lookup(ctx context.Context, username, itemID string) (content.ArticleContent, bool) {
	article, result := f.get(ctx, username, itemID)
	if result == "miss" {
		canonicalID, ok, err := f.aliases.Resolve(ctx, itemID)
		switch {
		case err != nil:
			f.logger.Warn("resolve cached item link failed", zap.String("item_id", itemID), zap.Error(err))
		case ok && canonicalID != itemID:
			article, result = f.get(ctx, username, canonicalID)
		}
	}
	metrics.ObserveCacheLookup(result)
	return article, result == "hit"
}

func (f *Fetcher) get(ctx context.Context, username, itemID string) (content.ArticleContent, string) {
	article, err := f.store.GetContent(ctx, username, itemID)
	switch {
	case errors.Is(err, content.ErrNotFound):
		return content.ArticleContent{}, "miss"
	case err != nil:
		f.logger.Warn("content store lookup failed",
			zap.String("item_id", itemID),
			zap.String("username", username),
			zap.Error(err),
		)
		return content.ArticleContent{}, "error"
	case article.Status != content.StatusSucceeded:
		return content.ArticleContent{}, "miss"
	}
	return article, "hit"
}
