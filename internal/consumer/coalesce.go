// internal/consumer/coalesce.go
package consumer

import (
	"sync"
	"time"
)

// coalescer bounds the rate of text flushes independent of upstream delta
// frequency. Deltas may arrive far faster than a UI can usefully redraw, so
// the coalescer emits at most one flush per interval and always carries the
// latest full snapshot when it fires.
//
// emit is invoked with the mutex held: close() therefore cannot return while
// a flush is still in flight, which lets the consumer close its update
// channel safely afterwards.
type coalescer struct {
	mu       sync.Mutex
	interval time.Duration
	emit     func(text string)
	timer    *time.Timer
	pending  string
	dirty    bool
	closed   bool
}

func newCoalescer(interval time.Duration, emit func(string)) *coalescer {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &coalescer{interval: interval, emit: emit}
}

// update records the latest accumulated text and schedules a flush if one
// is not already pending.
func (c *coalescer) update(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.pending = text
	c.dirty = true
	if c.timer == nil {
		c.timer = time.AfterFunc(c.interval, c.fire)
	}
}

func (c *coalescer) fire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timer = nil
	if c.closed || !c.dirty {
		return
	}
	c.dirty = false
	c.emit(c.pending)
}

// flush emits any pending text immediately. Called before terminal
// resolution so the final fragment is never lost to the timer.
func (c *coalescer) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.dirty {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.dirty = false
	c.emit(c.pending)
}

// close stops the timer and suppresses all further emissions. Idempotent.
func (c *coalescer) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
