package txn

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// queue is a single-slot semaphore. Waiters are granted the slot in the order
// they asked for it, so operations run one at a time in submission order.
type queue struct {
	sem     *semaphore.Weighted
	pending atomic.Int64
}

// Enqueue runs op after every operation submitted before it has finished.
// Operations never overlap. If ctx ends while waiting for a turn, op is skipped
// and a *ConcurrencyError is returned.
func (m *Manager) Enqueue(ctx context.Context, op func(context.Context) error) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}

	m.queue.pending.Add(1)
	defer m.queue.pending.Add(-1)

	if err := m.acquire(ctx, m.queue.sem, 1); err != nil {
		if ctx.Err() == nil {
			return ErrClosed
		}
		return &ConcurrencyError{Err: ctx.Err()}
	}
	defer m.queue.sem.Release(1)

	return op(ctx)
}

// Queued returns the number of operations submitted to Enqueue that have not finished.
func (m *Manager) Queued() int {
	return int(m.queue.pending.Load())
}
