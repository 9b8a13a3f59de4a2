// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock set to initial. Time moves only when
// Advance is called.
func Fake(initial time.Time) *FakeClock {
	clock := &FakeClock{now: initial}
	clock.changed = sync.NewCond(&clock.mu)
	return clock
}

// FakeClock is a deterministic Clock for tests. It is safe for
// concurrent use. Do not call Advance from inside an AfterFunc
// callback.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*waiter
	changed *sync.Cond
}

// waiter is one registered After, AfterFunc or ticker.
type waiter struct {
	deadline time.Time

	// channel is set for After and tickers.
	channel chan time.Time

	// callback is set for AfterFunc.
	callback func()

	// period is non-zero for tickers, which are re-armed after firing.
	period time.Duration

	stopped bool
	fired   bool
}

// Now returns the fake current time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that receives once the clock has advanced
// by d. With d <= 0 the channel is ready immediately and no waiter is
// registered.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.now
		return channel
	}
	c.registerLocked(&waiter{deadline: c.now.Add(d), channel: channel})
	return channel
}

// AfterFunc registers f to run during the Advance call that crosses
// now+d. With d <= 0, f runs before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stop: func() bool { return false }}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	registered := &waiter{deadline: c.now.Add(d), callback: f}
	c.registerLocked(registered)

	return &Timer{stop: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if registered.stopped || registered.fired {
			return false
		}
		registered.stopped = true
		return true
	}}
}

// NewTicker returns a Ticker firing every d of fake time.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	registered := &waiter{deadline: c.now.Add(d), channel: channel, period: d}
	c.registerLocked(registered)

	return &Ticker{C: channel, stop: func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		registered.stopped = true
	}}
}

func (c *FakeClock) registerLocked(w *waiter) {
	c.pending = append(c.pending, w)
	c.changed.Broadcast()
}

// Advance moves the clock forward by d and fires every waiter whose
// deadline is at or before the new time, in deadline order. Tickers
// spanning several periods fire once per period, subject to the
// capacity-1 channel.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now
	c.mu.Unlock()

	for {
		due := c.collectDue(target)
		if len(due) == 0 {
			return
		}
		sort.SliceStable(due, func(i, j int) bool {
			return due[i].deadline.Before(due[j].deadline)
		})
		for _, w := range due {
			if w.callback != nil {
				w.callback()
				continue
			}
			select {
			case w.channel <- target:
			default:
			}
		}
	}
}

// collectDue removes due waiters from the pending list, re-arms
// tickers, and returns what should fire.
func (c *FakeClock) collectDue(target time.Time) []*waiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due, remaining []*waiter
	for _, w := range c.pending {
		switch {
		case w.stopped:
		case w.deadline.After(target):
			remaining = append(remaining, w)
		default:
			due = append(due, w)
		}
	}

	for _, w := range due {
		if w.period > 0 {
			w.deadline = w.deadline.Add(w.period)
			remaining = append(remaining, w)
		} else {
			w.fired = true
		}
	}

	c.pending = remaining
	return due
}

// WaitForTimers blocks until at least n waiters are pending. Use it
// to close the race between a goroutine registering a timer and the
// test calling Advance.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingLocked() < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of active waiters.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *FakeClock) pendingLocked() int {
	count := 0
	for _, w := range c.pending {
		if !w.stopped {
			count++
		}
	}
	return count
}
