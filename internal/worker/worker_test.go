package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/readlater-content-loader/internal/content"
	"github.com/JakeFAU/readlater-content-loader/internal/queue/memory"
)

type recordingPrefetcher struct {
	mu      sync.Mutex
	batches [][]string
	users   []string
}

func (p *recordingPrefetcher) PrefetchAll(_ context.Context, itemIDs []string, username string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, itemIDs)
	p.users = append(p.users, username)
}

func (p *recordingPrefetcher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.batches)
}

func TestWorkerPrefetchesDequeuedBatches(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(2)
	prefetcher := &recordingPrefetcher{}
	w := New(1, q, prefetcher, zap.NewNop())

	require.NoError(t, q.Enqueue(context.Background(), content.PrefetchRequest{Username: "alice", ItemIDs: []string{"a"}}))
	require.NoError(t, q.Enqueue(context.Background(), content.PrefetchRequest{Username: "bob", ItemIDs: []string{"b", "c"}}))
	q.Close()

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after queue close")
	}
	require.Equal(t, [][]string{{"a"}, {"b", "c"}}, prefetcher.batches)
	require.Equal(t, []string{"alice", "bob"}, prefetcher.users)
}

func TestWorkerStopsOnCancel(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(1)
	w := New(1, q, &recordingPrefetcher{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

type flakyQueue struct {
	calls atomic.Int32
}

func (q *flakyQueue) Enqueue(context.Context, content.PrefetchRequest) error { return nil }

func (q *flakyQueue) Dequeue(context.Context) (content.PrefetchRequest, error) {
	switch q.calls.Add(1) {
	case 1:
		return content.PrefetchRequest{}, errors.New("transient")
	case 2:
		return content.PrefetchRequest{Username: "reader", ItemIDs: []string{"x"}}, nil
	default:
		return content.PrefetchRequest{}, content.ErrQueueClosed
	}
}

func TestWorkerContinuesAfterDequeueError(t *testing.T) {
	t.Parallel()

	prefetcher := &recordingPrefetcher{}
	New(1, &flakyQueue{}, prefetcher, nil).Run(context.Background())

	require.Equal(t, 1, prefetcher.count())
}
