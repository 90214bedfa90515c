package eventloop

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrQueueFull is returned by TryPost when the queue has no free slot.
var ErrQueueFull = errors.New("event queue full")

// Queue is a bounded FIFO carrying stack events into the dispatch loop.
//
// It never discards. Post blocks until there is room or ctx ends.
//
// Readers use C() like a normal channel, or Receive()/TryReceive() to be counted
// in the metrics.
type Queue[T any] struct {
	ch      chan T
	metrics Metrics
}

// NewQueue creates a queue with the given capacity.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		panic("eventloop: capacity must be > 0")
	}
	return &Queue[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel.
//
// Reading from the returned channel bypasses the Processed metric.
func (q *Queue[T]) C() <-chan T {
	return q.ch
}

// Post enqueues v, blocking while the queue is full.
func (q *Queue[T]) Post(ctx context.Context, v T) error {
	select {
	case q.ch <- v:
		q.metrics.addWritten()
		return nil
	default:
	}

	select {
	case q.ch <- v:
		q.metrics.addWritten()
		return nil
	case <-ctx.Done():
		q.metrics.addRejected()
		return ctx.Err()
	}
}

// TryPost enqueues v without blocking.
func (q *Queue[T]) TryPost(v T) error {
	select {
	case q.ch <- v:
		q.metrics.addWritten()
		return nil
	default:
		q.metrics.addRejected()
		return ErrQueueFull
	}
}

// Receive blocks until a value is available or the queue is closed.
func (q *Queue[T]) Receive() (v T, ok bool) {
	v, ok = <-q.ch
	if ok {
		q.metrics.addProcessed()
	}
	return
}

// TryReceive attempts a non-blocking receive.
func (q *Queue[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-q.ch:
		if ok {
			q.metrics.addProcessed()
		}
		return
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered events.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	return cap(q.ch)
}

// Close closes the queue. Posting afterwards panics.
func (q *Queue[T]) Close() {
	close(q.ch)
}

// GetMetrics returns a snapshot of the counters.
func (q *Queue[T]) GetMetrics() Metrics {
	return Metrics{
		Written:   atomic.LoadInt64(&q.metrics.Written),
		Processed: atomic.LoadInt64(&q.metrics.Processed),
		Rejected:  atomic.LoadInt64(&q.metrics.Rejected),
	}
}

// Metrics counts queue traffic. Fields are updated atomically.
type Metrics struct {
	Written   int64
	Processed int64
	Rejected  int64
}

func (m *Metrics) addWritten()   { atomic.AddInt64(&m.Written, 1) }
func (m *Metrics) addProcessed() { atomic.AddInt64(&m.Processed, 1) }
func (m *Metrics) addRejected()  { atomic.AddInt64(&m.Rejected, 1) }
