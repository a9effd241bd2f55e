// Package queue provides the in-process work queue feeding the batch
// processor.
//
// The queue is the ephemeral fast path: contents are lost on restart and
// that is acceptable because the batch store is the source of truth for
// what still needs processing. The sweeper re-injects anything the queue
// forgot. Keeping the hot path in memory keeps submission latency flat
// regardless of database load.
package queue

import "sync"

// BatchQueue is an unbounded, thread-safe FIFO of batch ids with a
// coalesced "item enqueued" signal for the single consumer.
type BatchQueue struct {
	mu    sync.Mutex
	ids   []string
	notify chan struct{} // buffered size 1: multiple enqueues coalesce
}

// New creates an empty batch queue.
func New() *BatchQueue {
	return &BatchQueue{
		ids:    make([]string, 0, 16),
		notify: make(chan struct{}, 1),
	}
}

// Enqueue appends a batch id and signals the consumer. Never blocks and
// never fails; the buffered signal channel coalesces bursts.
func (q *BatchQueue) Enqueue(id string) {
	q.mu.Lock()
	q.ids = append(q.ids, id)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Dequeue removes and returns the oldest id. The second return value is
// false when the queue is empty.
func (q *BatchQueue) Dequeue() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ids) == 0 {
		return "", false
	}
	id := q.ids[0]
	q.ids = q.ids[1:]
	return id, true
}

// Size returns the number of queued ids.
func (q *BatchQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}

// Notify returns the channel signalled on enqueue. The consumer selects on
// it alongside its context; a receive means "something may be pending", not
// "exactly one item is pending".
func (q *BatchQueue) Notify() <-chan struct{} {
	return q.notify
}
