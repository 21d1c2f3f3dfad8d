// Package bridge marshals commands from arbitrary goroutines into a single
// executing goroutine. Callers Submit; the owner of the receiver waits on
// Wake and calls DrainAndExecute.
package bridge

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Submit once the queue has been closed.
var ErrClosed = errors.New("bridge closed")

// Command is a named unit of work bound to the receiver type R. Fn runs
// exactly once on the executing goroutine, or never if the queue is closed
// first.
type Command[R any] struct {
	Name string
	Fn   func(R)
}

// Queue is a FIFO of commands for one receiver.
type Queue[R any] struct {
	logger *slog.Logger

	mu      sync.Mutex
	pending []Command[R]
	closed  bool

	wake      chan struct{}
	executing atomic.Bool

	// OnExecuted, when set, is called after every executed command with its
	// name and whether it panicked. It runs on the executing goroutine.
	OnExecuted func(name string, panicked bool)
}

// NewQueue creates an empty open queue.
func NewQueue[R any](logger *slog.Logger) *Queue[R] {
	return &Queue[R]{
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

// Submit enqueues cmd and wakes the executing goroutine. It never runs cmd
// itself and never blocks beyond the enqueue.
func (q *Queue[R]) Submit(cmd Command[R]) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.pending = append(q.pending, cmd)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Wake fires after one or more Submit calls.
func (q *Queue[R]) Wake() <-chan struct{} {
	return q.wake
}

// DrainAndExecute runs queued commands against r in FIFO order until the
// queue is empty, including commands submitted while draining. It must only
// be called from the executing goroutine. A call made from inside a running
// command returns 0 without executing anything.
func (q *Queue[R]) DrainAndExecute(r R) int {
	if !q.executing.CompareAndSwap(false, true) {
		return 0
	}
	defer q.executing.Store(false)

	n := 0
	for {
		cmd, ok := q.pop()
		if !ok {
			return n
		}
		q.execute(r, cmd)
		n++
	}
}

// Close rejects further submissions and drops every queued command. It
// returns how many were dropped.
func (q *Queue[R]) Close() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0
	}
	q.closed = true
	dropped := len(q.pending)
	q.pending = nil
	return dropped
}

// Closed reports whether Close has been called.
func (q *Queue[R]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of queued commands.
func (q *Queue[R]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue[R]) pop() (Command[R], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || len(q.pending) == 0 {
		return Command[R]{}, false
	}
	cmd := q.pending[0]
	q.pending[0] = Command[R]{}
	q.pending = q.pending[1:]
	return cmd, true
}

func (q *Queue[R]) execute(r R, cmd Command[R]) {
	panicked := false
	defer func() {
		if rec := recover(); rec != nil {
			panicked = true
			if q.logger != nil {
				q.logger.Error("command panicked", "command", cmd.Name, "panic", rec)
			}
		}
		if q.OnExecuted != nil {
			q.OnExecuted(cmd.Name, panicked)
		}
	}()
	cmd.Fn(r)
}
