package workqueue

import (
	"context"
	"sync"
)

// Queue is a thread-safe unbounded FIFO with join semantics.
//
// The zero value is not usable; construct with New.
type Queue[T comparable] struct {
	mu      sync.Mutex
	items   []T
	pending int           // enqueued but not yet acknowledged
	signal  chan struct{} // buffered, size 1; coalesces wakeups
	idle    chan struct{} // closed while pending == 0
}

// New creates an empty queue.
func New[T comparable]() *Queue[T] {
	idle := make(chan struct{})
	close(idle)
	return &Queue[T]{
		items:  make([]T, 0, 16),
		signal: make(chan struct{}, 1),
		idle:   idle,
	}
}

// Enqueue appends an item. It never blocks.
func (q *Queue[T]) Enqueue(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, item)
	if q.pending == 0 {
		q.idle = make(chan struct{})
	}
	q.pending++
	q.notifyLocked()
}

// Dequeue removes and returns the front item, waiting until one is available.
// It only fails when ctx is done.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	for {
		if item, ok := q.TryDequeue(); ok {
			return item, nil
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-q.signal:
		}
	}
}

// TryDequeue removes the front item without waiting.
func (q *Queue[T]) TryDequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
		// Hand the wakeup on so another waiting consumer sees the remainder.
		q.notifyLocked()
	}
	return item, true
}

// Done acknowledges one dequeued item. Calling Done more times than items
// were enqueued panics, mirroring sync.WaitGroup.
func (q *Queue[T]) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pending == 0 {
		panic("workqueue: Done called without a matching Enqueue")
	}
	q.pending--
	if q.pending == 0 {
		close(q.idle)
	}
}

// Wait blocks until every enqueued item has been acknowledged or ctx is done.
func (q *Queue[T]) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Remove drops every queued entry equal to item, preserving the order of the
// rest, and returns how many were dropped. Dropped entries count as
// acknowledged. Entries already dequeued are unaffected.
func (q *Queue[T]) Remove(item T) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	drained := q.items
	kept := make([]T, 0, len(drained))
	for _, queued := range drained {
		if queued != item {
			kept = append(kept, queued)
		}
	}
	removed := len(drained) - len(kept)
	q.items = kept
	if removed > 0 {
		q.pending -= removed
		if q.pending == 0 {
			close(q.idle)
		}
	}
	return removed
}

// Snapshot returns a copy of the queued items in FIFO order. The result is
// diagnostic and may be stale as soon as it is returned.
func (q *Queue[T]) Snapshot() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]T, len(q.items))
	copy(out, q.items)
	return out
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending returns the number of enqueued items not yet acknowledged,
// including those dequeued and still in flight.
func (q *Queue[T]) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

func (q *Queue[T]) notifyLocked() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
