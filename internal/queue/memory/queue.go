// Package memory provides a prefetch queue for single-process deployments.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/readlater-content-loader/internal/content"
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch   chan content.PrefetchRequest
	done chan struct{}
	once sync.Once
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch:   make(chan content.PrefetchRequest, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue pushes a request, blocking while the queue is full.
func (q *Queue) Enqueue(ctx context.Context, req content.PrefetchRequest) error {
	select {
	case <-q.done:
		return content.ErrQueueClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return content.ErrQueueClosed
	case q.ch <- req:
		return nil
	}
}

// Dequeue pops the next request. Requests buffered before Close are still delivered.
func (q *Queue) Dequeue(ctx context.Context) (content.PrefetchRequest, error) {
	select {
	case <-ctx.Done():
		return content.PrefetchRequest{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case req := <-q.ch:
		return req, nil
	case <-q.done:
		select {
		case req := <-q.ch:
			return req, nil
		default:
			return content.PrefetchRequest{}, content.ErrQueueClosed
		}
	}
}

// Len reports how many requests are buffered.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops the queue. It is safe to call more than once.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.done) })
}
