// Package fifo provides the bounded, non-blocking-producer queue that
// stands in for the original SDTL's shared topic-bus FIFOs
// (data_td/ack_td per channel). Everything here is in-process: one
// goroutine (the service's RX loop) pushes, channel API callers pop.
package fifo

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrCanceled is returned by Pop/PopTimeout once Cancel has been
// called and the queue has drained.
var ErrCanceled = errors.New("fifo: canceled")

// ErrTimeout is returned by PopTimeout when no entry arrives within
// the given duration.
var ErrTimeout = errors.New("fifo: timeout")

// ErrOverflow is returned by Pop/PopTimeout/PopContext, alongside the
// entry that was actually popped, the first time a consumer observes
// the queue after Push had to drop an older entry to make room. It
// mirrors eswb_e_fifo_rcvr_underrun: the popped value is still good,
// but something queued before it was lost.
var ErrOverflow = errors.New("fifo: consumer missed an entry overwritten by the producer")

// Queue is a bounded FIFO of T, backed by a buffered channel. Push
// never blocks: once full, it overwrites the oldest unread entry and
// flags the overrun for the next Pop/PopTimeout/PopContext to report.
// Cancel unblocks every waiter currently or later calling
// Pop/PopTimeout, and Push after Cancel is a no-op.
type Queue[T any] struct {
	ch         chan T
	cancelCh   chan struct{}
	cancelOnce sync.Once
	overflowed atomic.Bool
}

// New creates a Queue with the given capacity.
func New[T any](capacity int) *Queue[T] {
	return &Queue[T]{
		ch:       make(chan T, capacity),
		cancelCh: make(chan struct{}),
	}
}

// Push enqueues v without blocking. If the queue is full it drops the
// oldest entry to make room and flags the overrun, so the producer
// (the channel's single RX goroutine) can never stall waiting for a
// consumer. It returns ErrCanceled without enqueuing if the queue has
// been canceled.
func (q *Queue[T]) Push(v T) error {
	select {
	case <-q.cancelCh:
		return ErrCanceled
	default:
	}

	select {
	case q.ch <- v:
		return nil
	default:
	}

	select {
	case <-q.ch:
	default:
	}
	q.overflowed.Store(true)

	select {
	case q.ch <- v:
	default:
		// Can't happen under the single-producer invariant (only this
		// goroutine pushes to this queue), but never block regardless.
	}
	return nil
}

// finish reports v together with ErrOverflow the first time it's
// observed after an overrun, clearing the flag so only one Pop call
// reports any given overrun.
func (q *Queue[T]) finish(v T) (T, error) {
	if q.overflowed.CompareAndSwap(true, false) {
		return v, ErrOverflow
	}
	return v, nil
}

// Pop blocks until an entry is available or the queue is canceled.
func (q *Queue[T]) Pop() (T, error) {
	select {
	case v := <-q.ch:
		return q.finish(v)
	case <-q.cancelCh:
		var zero T
		select {
		case v := <-q.ch:
			return q.finish(v)
		default:
			return zero, ErrCanceled
		}
	}
}

// PopTimeout blocks until an entry is available, the queue is
// canceled, or timeout elapses.
func (q *Queue[T]) PopTimeout(timeout time.Duration) (T, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return q.PopContext(ctx)
}

// PopContext blocks until an entry is available, the queue is
// canceled, or ctx is done.
func (q *Queue[T]) PopContext(ctx context.Context) (T, error) {
	select {
	case v := <-q.ch:
		return q.finish(v)
	case <-q.cancelCh:
		var zero T
		select {
		case v := <-q.ch:
			return q.finish(v)
		default:
			return zero, ErrCanceled
		}
	case <-ctx.Done():
		var zero T
		return zero, ErrTimeout
	}
}

// Flush discards every entry currently queued without blocking.
func (q *Queue[T]) Flush() {
	for {
		select {
		case <-q.ch:
		default:
			return
		}
	}
}

// Cancel unblocks all current and future waiters with ErrCanceled
// (after they've drained whatever was already queued). Idempotent.
func (q *Queue[T]) Cancel() {
	q.cancelOnce.Do(func() { close(q.cancelCh) })
}
