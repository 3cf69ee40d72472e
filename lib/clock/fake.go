// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"slices"
	"sync"
	"time"
)

// FakeClock is a Clock whose time moves only when Advance is called.
// It is safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	changed *sync.Cond
	now     time.Time
	pending []*pendingTimer
}

type pendingTimer struct {
	due      time.Time
	period   time.Duration // zero for one-shot timers
	callback func()        // AfterFunc timers
	ticks    chan time.Time
	done     bool
}

// Fake returns a FakeClock starting at initial.
func Fake(initial time.Time) *FakeClock {
	fake := &FakeClock{now: initial}
	fake.changed = sync.NewCond(&fake.mu)
	return fake
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc schedules f. A non-positive d runs f before returning.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stop: func() bool { return false }}
	}
	c.mu.Lock()
	entry := &pendingTimer{due: c.now.Add(d), callback: f}
	c.pending = append(c.pending, entry)
	c.changed.Broadcast()
	c.mu.Unlock()

	return &Timer{stop: func() bool { return c.cancel(entry) }}
}

// NewTicker returns a ticker driven by Advance.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	ticks := make(chan time.Time, 1)
	c.mu.Lock()
	entry := &pendingTimer{due: c.now.Add(d), period: d, ticks: ticks}
	c.pending = append(c.pending, entry)
	c.changed.Broadcast()
	c.mu.Unlock()

	return &Ticker{C: ticks, stop: func() { c.cancel(entry) }}
}

func (c *FakeClock) cancel(entry *pendingTimer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry.done {
		return false
	}
	entry.done = true
	c.pending = slices.DeleteFunc(c.pending, func(p *pendingTimer) bool { return p == entry })
	c.changed.Broadcast()
	return true
}

// Advance moves time forward by d, firing every timer that falls due
// in deadline order. A ticker spanning several periods fires once per
// period; ticks nobody reads are dropped.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		if next.due.After(c.now) {
			c.now = next.due
		}
		firedAt := c.now
		if next.period > 0 {
			next.due = next.due.Add(next.period)
		} else {
			next.done = true
			c.pending = slices.DeleteFunc(c.pending, func(p *pendingTimer) bool { return p == next })
		}
		c.mu.Unlock()

		if next.callback != nil {
			next.callback()
		} else {
			select {
			case next.ticks <- firedAt:
			default:
			}
		}
	}
}

// nextDueLocked returns the earliest timer due at or before target.
func (c *FakeClock) nextDueLocked(target time.Time) *pendingTimer {
	var earliest *pendingTimer
	for _, entry := range c.pending {
		if entry.due.After(target) {
			continue
		}
		if earliest == nil || entry.due.Before(earliest.due) {
			earliest = entry
		}
	}
	return earliest
}

// WaitForTimers blocks until at least n timers or tickers are pending.
// Tests call it before Advance so that a goroutine has armed its timer.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.pending) < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of armed timers and tickers.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
