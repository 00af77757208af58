// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock initialized to the given time. Time stands
// still until Advance is called. Tickers register pending waiters that
// fire when the clock advances past their deadline.
//
// FakeClock is safe for concurrent use by multiple goroutines.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// FakeClock is a deterministic Clock for testing. Time advances only
// when Advance is called.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeWaiter
}

// fakeWaiter is a pending ticker. After firing, it is rescheduled at
// deadline + interval.
type fakeWaiter struct {
	deadline time.Time
	channel  chan time.Time
	interval time.Duration

	// stopped is set by Ticker.Stop. Stopped waiters are skipped
	// during Advance and garbage-collected.
	stopped bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// NewTicker returns a Ticker that fires each time Advance moves the
// clock past a multiple of d. Panics if d <= 0, matching
// time.NewTicker.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	waiter := &fakeWaiter{
		deadline: c.current.Add(d),
		channel:  make(chan time.Time, 1),
		interval: d,
	}
	c.waiters = append(c.waiters, waiter)

	return &Ticker{
		C: waiter.channel,
		stopFunc: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			waiter.stopped = true
		},
	}
}

// Advance moves the fake clock forward by d, firing every waiter
// whose deadline falls within the window in deadline order. Waiters
// are rescheduled after firing and may fire multiple times within a
// single Advance.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := c.current.Add(d)

	for {
		fired := false

		sort.SliceStable(c.waiters, func(i, j int) bool {
			return c.waiters[i].deadline.Before(c.waiters[j].deadline)
		})

		for _, waiter := range c.waiters {
			if waiter.stopped || waiter.deadline.After(target) {
				continue
			}

			// Non-blocking send: ticker channels have capacity 1
			// and drop ticks when the consumer lags, matching
			// time.Ticker.
			select {
			case waiter.channel <- waiter.deadline:
			default:
			}

			waiter.deadline = waiter.deadline.Add(waiter.interval)
			fired = true
		}

		if !fired {
			break
		}
	}

	// Drop stopped waiters.
	kept := c.waiters[:0]
	for _, waiter := range c.waiters {
		if !waiter.stopped {
			kept = append(kept, waiter)
		}
	}
	c.waiters = kept

	c.current = target
}
