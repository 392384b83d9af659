package xfer

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// pendingKey identifies one (token, image) destination queue; non-blocking
// puts addressed to the same destination must complete in the order they
// were issued, so each destination gets its own FIFO.
type pendingKey struct {
	window uint64
	image  int
}

// pendingQueue holds not-yet-applied puts, draining them in FIFO order on
// FlushAll (sync_memory, sync_all, sync_images and sync_team all call
// through here; unlock does not). A semaphore bounds the total bytes queued across every
// destination so a caller issuing many large non-blocking puts without
// ever syncing blocks on the next send instead of growing without limit.
type pendingQueue struct {
	mu    sync.Mutex
	byKey map[pendingKey][]func() error
	sem   *semaphore.Weighted
}

func newPendingQueue(maxBytes int64) *pendingQueue {
	return &pendingQueue{byKey: make(map[pendingKey][]func() error), sem: semaphore.NewWeighted(maxBytes)}
}

// enqueue reserves n bytes against the queue's budget and appends do to
// key's FIFO. It blocks if the budget is exhausted, the backpressure the
// engine applies instead of letting an unflushed queue grow unbounded.
func (q *pendingQueue) enqueue(key pendingKey, n int64, do func() error) error {
	if err := q.sem.Acquire(context.Background(), n); err != nil {
		return err
	}
	q.mu.Lock()
	q.byKey[key] = append(q.byKey[key], func() error {
		defer q.sem.Release(n)
		return do()
	})
	q.mu.Unlock()
	return nil
}

// FlushAll implements token.Flusher: drains every destination's FIFO in
// order, collecting (not short-circuiting on) the first error.
func (q *pendingQueue) FlushAll() error {
	q.mu.Lock()
	pending := q.byKey
	q.byKey = make(map[pendingKey][]func() error)
	q.mu.Unlock()

	var firstErr error
	for _, fns := range pending {
		for _, fn := range fns {
			if err := fn(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
