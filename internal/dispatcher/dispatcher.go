// Package dispatcher runs the prefetch worker pool and accepts batches for it.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/readlater-content-loader/internal/content"
	"github.com/JakeFAU/readlater-content-loader/internal/metrics"
	"github.com/JakeFAU/readlater-content-loader/internal/worker"
)

// Dispatcher owns the pool of workers draining a shared queue.
type Dispatcher struct {
	queue   content.Queue
	workers []*worker.Worker
}

// New creates a Dispatcher over queue. workers may be empty when only Enqueue is needed.
func New(queue content.Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{queue: queue, workers: workers}
}

// Run blocks until every worker has returned. Workers stop when ctx ends or the queue is closed and drained.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Go(func() { w.Run(ctx) })
	}
	wg.Wait()
}

// Enqueue hands a batch to the worker pool.
func (d *Dispatcher) Enqueue(ctx context.Context, req content.PrefetchRequest) error {
	if err := d.queue.Enqueue(ctx, req); err != nil {
		metrics.ObserveQueueMessage("memory", "rejected")
		return fmt.Errorf("enqueue batch %s: %w", req.BatchID, err)
	}
	metrics.ObserveQueueMessage("memory", "enqueued")
	return nil
}
