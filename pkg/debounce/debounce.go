// Package debounce provides a trailing-edge debouncer with a max-wait
// cutoff, decoupled from any UI or framework lifecycle.
package debounce

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of calls into one trailing invocation. Each
// call resets the quiet-period timer; if calls keep arriving, the pending
// function still runs once maxWait has elapsed since the first deferred
// call. A zero maxWait disables the cutoff.
type Debouncer struct {
	mu      sync.Mutex
	wait    time.Duration
	maxWait time.Duration
	timer   *time.Timer
	first   time.Time
	pending func()
}

func New(wait, maxWait time.Duration) *Debouncer {
	return &Debouncer{wait: wait, maxWait: maxWait}
}

// Do schedules fn to run after the quiet period. A later call replaces the
// pending function, so only the last one of a burst runs.
func (d *Debouncer) Do(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = fn
	now := time.Now()
	if d.timer == nil {
		d.first = now
	}

	delay := d.wait
	if d.maxWait > 0 {
		if remaining := d.maxWait - now.Sub(d.first); remaining < delay {
			delay = remaining
			if delay < 0 {
				delay = 0
			}
		}
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(delay, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	fn := d.pending
	d.pending = nil
	d.timer = nil
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Stop cancels any pending invocation.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = nil
}

// Flush runs any pending invocation immediately.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	fn := d.pending
	d.pending = nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}
