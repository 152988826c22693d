// Package serial runs closures one at a time on a single goroutine.
package serial

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO of closures drained by Run.
//
// Enqueue is safe from any goroutine and never blocks, so platform callbacks
// can hand work over without waiting. Run must be called from exactly one
// goroutine; everything it executes is serialized.
type Queue struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool
	signal chan struct{} // buffered, size 1
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{
		tasks:  make([]func(), 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends fn. Returns false once the queue is closed.
func (q *Queue) Enqueue(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.tasks = append(q.tasks, fn)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// Close stops accepting work. Run drains what is already queued, then returns.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Len returns the number of pending closures.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Run executes closures until the queue is closed and drained, or ctx is done.
func (q *Queue) Run(ctx context.Context) error {
	for {
		fn, closed := q.next()
		if fn != nil {
			fn()
			continue
		}
		if closed {
			return nil
		}

		select {
		case <-ctx.Done():
			q.Close()
			return ctx.Err()
		case <-q.signal:
		}
	}
}

func (q *Queue) next() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return nil, q.closed
	}
	fn := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return fn, q.closed
}
