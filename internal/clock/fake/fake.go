// Package fake provides a manually advanced clock for deterministic tests.
package fake

import (
	"sync"
	"time"

	"github.com/JakeFAU/bulk-importer/internal/importer"
)

// Clock is an importer.Clock whose time only moves when Advance or Set is called.
type Clock struct {
	mu      sync.Mutex
	cond    *sync.Cond
	now     time.Time
	waiters []*waiter
}

type waiter struct {
	deadline time.Time
	period   time.Duration
	ch       chan time.Time
	stopped  bool
}

// New creates a Clock starting at now.
func New(now time.Time) *Clock {
	c := &Clock{now: now}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Now returns the virtual time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After fires once the virtual time has moved d past now.
func (c *Clock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, &waiter{deadline: c.now.Add(d), ch: ch})
	c.cond.Broadcast()
	return ch
}

// NewTicker returns a ticker driven by virtual time. Ticks that are not
// consumed are dropped, like time.Ticker.
func (c *Clock) NewTicker(d time.Duration) importer.Ticker {
	if d <= 0 {
		panic("fake: non-positive interval for NewTicker")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	w := &waiter{deadline: c.now.Add(d), period: d, ch: make(chan time.Time, 1)}
	c.waiters = append(c.waiters, w)
	c.cond.Broadcast()
	return &ticker{clock: c, w: w}
}

// Advance moves the clock forward and fires every timer that came due.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(c.now.Add(d))
}

// Set jumps the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(t)
}

// Waiters returns the number of pending timers and tickers.
func (c *Clock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// BlockUntil waits until at least n timers or tickers are pending.
func (c *Clock) BlockUntil(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.waiters) < n {
		c.cond.Wait()
	}
}

func (c *Clock) setLocked(t time.Time) {
	c.now = t
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if w.stopped {
			continue
		}
		if w.deadline.After(t) {
			kept = append(kept, w)
			continue
		}
		select {
		case w.ch <- t:
		default:
		}
		if w.period > 0 {
			for !w.deadline.After(t) {
				w.deadline = w.deadline.Add(w.period)
			}
			kept = append(kept, w)
		}
	}
	c.waiters = kept
}

func (c *Clock) stop(w *waiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w.stopped = true
	kept := c.waiters[:0]
	for _, other := range c.waiters {
		if other != w {
			kept = append(kept, other)
		}
	}
	c.waiters = kept
}

type ticker struct {
	clock *Clock
	w     *waiter
}

func (t *ticker) C() <-chan time.Time { return t.w.ch }

func (t *ticker) Stop() { t.clock.stop(t.w) }
