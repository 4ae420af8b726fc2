package content

import (
	"context"
	"time"
)

// ContentFetcher retrieves article content for an item.
// When useCache is true the implementation may return a previously stored result.
type ContentFetcher interface {
	Fetch(ctx context.Context, username, itemID string, useCache bool) (ArticleContent, error)
}

// IDResolver looks up the current canonical ID for an item.
// ok is false when no newer ID is known.
type IDResolver interface {
	Resolve(ctx context.Context, itemID string) (canonicalID string, ok bool, err error)
}

// LinkRecorder remembers that itemID has been reassigned to canonicalID.
type LinkRecorder interface {
	RecordLink(ctx context.Context, itemID, canonicalID string) error
}

// ContentStore persists fetched content per user and item.
type ContentStore interface {
	GetContent(ctx context.Context, username, itemID string) (ArticleContent, error)
	PutContent(ctx context.Context, username string, article ArticleContent) error
}

// Queue provides enqueue/dequeue semantics for prefetch batches.
type Queue interface {
	Enqueue(ctx context.Context, req PrefetchRequest) error
	Dequeue(ctx context.Context) (PrefetchRequest, error)
}

// Prefetcher warms content for a batch of items.
type Prefetcher interface {
	PrefetchAll(ctx context.Context, itemIDs []string, username string)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces batch IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher digests response bodies for entity tags.
type Hasher interface {
	Hash(data []byte) (string, error)
}
