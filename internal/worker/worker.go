// Package worker drains prefetch requests from a queue.
package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/readlater-content-loader/internal/content"
	"github.com/JakeFAU/readlater-content-loader/internal/metrics"
)

// Worker consumes prefetch requests and warms each batch.
type Worker struct {
	id         int
	queue      content.Queue
	prefetcher content.Prefetcher
	logger     *zap.Logger
}

// New constructs a Worker.
func New(id int, queue content.Queue, prefetcher content.Prefetcher, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:         id,
		queue:      queue,
		prefetcher: prefetcher,
		logger:     logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming requests until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		req, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, content.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		metrics.ObserveQueueMessage("memory", "dequeued")
		w.logger.Debug("dequeued prefetch batch",
			zap.String("batch_id", req.BatchID),
			zap.String("username", req.Username),
			zap.Int("items", len(req.ItemIDs)),
		)
		w.prefetcher.PrefetchAll(ctx, req.ItemIDs, req.Username)
	}
}
