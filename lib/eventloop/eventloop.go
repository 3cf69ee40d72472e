// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventloop runs closures one at a time on a single goroutine.
//
// A match session is single-threaded: signaling messages, link state
// changes, timer ticks, and application calls are each posted to the
// session's Loop and executed in arrival order. Code running on the
// loop owns the session state outright and needs no locks.
//
// Post never blocks, so it is safe to call from transport callbacks
// (pion, Redis, WebSocket readers) that must not stall. Do posts and
// waits for completion; it must not be called from the loop itself.
package eventloop

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is returned by Do when the loop is not running or stops
// before the closure runs.
var ErrStopped = errors.New("eventloop: loop stopped")

// Loop is a FIFO executor. The zero value is not usable; call New.
type Loop struct {
	mu      sync.Mutex
	wake    *sync.Cond
	queue   []func()
	stopped bool
	done    chan struct{}
}

// New creates a loop. Closures posted before Run are kept and executed
// once Run starts.
func New() *Loop {
	loop := &Loop{done: make(chan struct{})}
	loop.wake = sync.NewCond(&loop.mu)
	return loop
}

// Post queues fn. It reports false if the loop has stopped, in which
// case fn will never run.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return false
	}
	l.queue = append(l.queue, fn)
	l.wake.Signal()
	return true
}

// Do runs fn on the loop and waits for it to return.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		// The loop may have run fn just before stopping.
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes posted closures until ctx is cancelled. Closures still
// queued when ctx ends are discarded. Run must be called once.
func (l *Loop) Run(ctx context.Context) error {
	stopWatcher := context.AfterFunc(ctx, func() {
		l.mu.Lock()
		l.stopped = true
		l.wake.Broadcast()
		l.mu.Unlock()
	})
	defer stopWatcher()
	defer close(l.done)

	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.stopped {
			l.wake.Wait()
		}
		if l.stopped {
			l.queue = nil
			l.mu.Unlock()
			return ctx.Err()
		}
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			fn()
			if ctx.Err() != nil {
				break
			}
		}
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} { return l.done }
