// Package dispatch provides the foreground execution context.
//
// Everything that touches interactive-surface state runs on one goroutine,
// the foreground. Workers never call into the surface directly; they Post a
// function and the foreground runs it later, in posting order.
//
// Loop is the only implementation. It can drive itself (Run) for headless
// use, or be drained by another event loop (Ready + Drain), which is how the
// bubbletea program in package tui adopts it as its foreground.
package dispatch

import (
	"context"
	"sync"
)

// Dispatcher schedules work on the foreground.
type Dispatcher interface {
	// Post queues fn to run on the foreground. It never blocks. It returns
	// false if the foreground has shut down, in which case fn will never run.
	Post(fn func()) bool

	// Done is closed when the foreground shuts down.
	Done() <-chan struct{}
}

// Loop is an unbounded FIFO of foreground work.
type Loop struct {
	mu      sync.Mutex
	pending []func()
	closed  bool

	wake chan struct{}
	done chan struct{}
}

// Compile-time interface satisfaction check.
var _ Dispatcher = (*Loop)(nil)

// NewLoop creates an open loop with no pending work.
func NewLoop() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post implements Dispatcher.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.pending = append(l.pending, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Done implements Dispatcher.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Ready receives a value after Post when work may be pending. A single
// receive can stand for several posts; call Drain after each.
func (l *Loop) Ready() <-chan struct{} {
	return l.wake
}

// Drain runs all pending work on the calling goroutine, including work
// posted by the functions it runs, and returns how many functions ran.
// The caller is the foreground for the duration of the call.
func (l *Loop) Drain() int {
	ran := 0
	for {
		l.mu.Lock()
		if l.closed || len(l.pending) == 0 {
			l.mu.Unlock()
			return ran
		}
		batch := l.pending
		l.pending = nil
		l.mu.Unlock()

		for _, fn := range batch {
			fn()
			ran++
		}
	}
}

// Run makes the calling goroutine the foreground until ctx is cancelled or
// Close is called. It closes the loop on return.
func (l *Loop) Run(ctx context.Context) error {
	defer l.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case <-l.wake:
			l.Drain()
		}
	}
}

// Close shuts the loop down. Pending work is dropped and later posts are
// refused. Safe to call more than once.
func (l *Loop) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.pending = nil
	close(l.done)
}

// Len returns the number of functions waiting to run.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}
