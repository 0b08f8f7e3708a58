package push

import (
	"sync"
	"time"

	"silvermon/internal/model"
)

// coalescer rate-limits bar-update forwarding: within one window only the
// most recent update survives. Prevents a bursty provider from flooding
// downstream recompute/render paths.
type coalescer struct {
	window  time.Duration
	forward func(model.Bar)
	onDrop  func() // optional, fires for each superseded update

	mu         sync.Mutex
	lastSent   time.Time
	pending    model.Bar
	hasPending bool
	timer      *time.Timer
	stopped    bool

	// dropped counts updates superseded inside a window.
	dropped uint64
}

func newCoalescer(window time.Duration, forward func(model.Bar)) *coalescer {
	return &coalescer{window: window, forward: forward}
}

// Offer submits a bar update. It is forwarded immediately when the window
// since the previous forward has elapsed, otherwise stored as the pending
// update and flushed when the window expires.
func (c *coalescer) Offer(bar model.Bar, now time.Time) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}

	if since := now.Sub(c.lastSent); since >= c.window {
		c.lastSent = now
		c.hasPending = false
		c.mu.Unlock()
		c.forward(bar)
		return
	}

	superseded := c.hasPending
	if superseded {
		c.dropped++
	}
	c.pending = bar
	c.hasPending = true
	if c.timer == nil {
		wait := c.window - now.Sub(c.lastSent)
		c.timer = time.AfterFunc(wait, c.flush)
	}
	c.mu.Unlock()

	if superseded && c.onDrop != nil {
		c.onDrop()
	}
}

func (c *coalescer) flush() {
	c.mu.Lock()
	c.timer = nil
	if c.stopped || !c.hasPending {
		c.mu.Unlock()
		return
	}
	bar := c.pending
	c.hasPending = false
	c.lastSent = time.Now()
	c.mu.Unlock()
	c.forward(bar)
}

// Stop cancels any pending flush. Idempotent; no forward fires afterward.
func (c *coalescer) Stop() {
	c.mu.Lock()
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.hasPending = false
	c.mu.Unlock()
}

// Dropped returns how many updates were superseded without forwarding.
func (c *coalescer) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
