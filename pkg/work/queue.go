package work

import (
	"context"
	"errors"
	"time"
)

// ErrQueueClosed is returned by Put after Close has been called.
var ErrQueueClosed = errors.New("work queue closed")

// Queue is a bounded FIFO of Items. Put blocks while the queue is full
// (backpressure against an unbounded producer), Get blocks until an item is
// available or a timeout elapses. FIFO order is best effort only: requeued
// items re-enter at the tail, so delivery order is not the collection order.
type Queue struct {
	ch     chan Item
	closed chan struct{}
}

// NewQueue creates a queue with the given capacity. Capacity must be >= 1.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		ch:     make(chan Item, capacity),
		closed: make(chan struct{}),
	}
}

// Put enqueues an item, blocking while the queue is full. It returns the
// context error if ctx is cancelled while waiting, or ErrQueueClosed after
// Close.
func (q *Queue) Put(ctx context.Context, item Item) error {
	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closed:
		return ErrQueueClosed
	}
}

// TryPut enqueues an item without blocking. Returns false when the queue is
// full or closed (fail-fast producers).
func (q *Queue) TryPut(item Item) bool {
	select {
	case <-q.closed:
		return false
	default:
	}
	select {
	case q.ch <- item:
		return true
	default:
		return false
	}
}

// Get dequeues one item, waiting up to timeout. ok is false when the timeout
// elapsed without a delivery; err is non-nil only when ctx was cancelled.
func (q *Queue) Get(ctx context.Context, timeout time.Duration) (item Item, ok bool, err error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case item = <-q.ch:
		return item, true, nil
	case <-timer.C:
		return Item{}, false, nil
	case <-ctx.Done():
		return Item{}, false, ctx.Err()
	}
}

// Len returns the current queue occupancy.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the configured capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Close unblocks pending and future Put calls. Items already queued remain
// readable via Get.
func (q *Queue) Close() {
	select {
	case <-q.closed:
	default:
		close(q.closed)
	}
}
