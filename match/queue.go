// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package match

import (
	"context"
	"sync"
)

// eventQueue moves events from the loop to the consumer. push never
// blocks. Above limit queued entries, a GameState replaces the pending
// GameState from the same source instead of growing the queue.
type eventQueue struct {
	mu     sync.Mutex
	wake   *sync.Cond
	items  []Event
	limit  int
	closed bool

	out chan Event
}

func newEventQueue(limit int) *eventQueue {
	queue := &eventQueue{limit: limit, out: make(chan Event)}
	queue.wake = sync.NewCond(&queue.mu)
	return queue
}

func (q *eventQueue) push(event Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if state, ok := event.(GameState); ok && q.limit > 0 && len(q.items) >= q.limit {
		for index, pending := range q.items {
			if queued, ok := pending.(GameState); ok && queued.Source == state.Source {
				q.items[index] = state
				return
			}
		}
	}
	q.items = append(q.items, event)
	q.wake.Signal()
}

// len returns the number of undelivered events.
func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// run delivers events to out until ctx is done, then closes out.
// Events still queued are discarded.
func (q *eventQueue) run(ctx context.Context) {
	defer close(q.out)
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.closed = true
		q.wake.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.wake.Wait()
		}
		if q.closed {
			q.items = nil
			q.mu.Unlock()
			return
		}
		event := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.mu.Unlock()

		select {
		case q.out <- event:
		case <-ctx.Done():
			return
		}
	}
}
