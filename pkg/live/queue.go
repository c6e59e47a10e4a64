package live

import (
	"context"
	"sync"
)

// dropQueue is a bounded FIFO that never blocks producers: pushing onto a full queue
// evicts the oldest item.
type dropQueue[T any] struct {
	mu      sync.Mutex
	items   []T
	limit   int
	closed  bool
	notify  chan struct{}
	dropped uint64
}

func newDropQueue[T any](limit int) *dropQueue[T] {
	if limit < 1 {
		limit = 1
	}
	return &dropQueue[T]{
		limit:  limit,
		notify: make(chan struct{}, 1),
	}
}

// Push appends v. It reports whether an older item was dropped to make room.
// Pushing onto a closed queue is a no-op.
func (q *dropQueue[T]) Push(v T) (dropped bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if len(q.items) >= q.limit {
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		q.dropped++
		dropped = true
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return dropped
}

// Pop blocks until an item is available, the queue is closed, or ctx is done.
func (q *dropQueue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			q.mu.Unlock()
			return v, nil
		}
		if q.closed {
			q.mu.Unlock()
			return zero, ErrStreamClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *dropQueue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *dropQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *dropQueue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
