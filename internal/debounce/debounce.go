// Package debounce coalesces bursts of events into a single trailing call.
package debounce

import (
	"sync"
	"time"
)

// Trigger invokes its callback once per burst: each Fire resets the timer,
// and the callback runs after the delay elapses with no further fires.
type Trigger struct {
	delay time.Duration
	fn    func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// New creates a trigger. A non-positive delay makes Fire call fn directly.
func New(delay time.Duration, fn func()) *Trigger {
	return &Trigger{delay: delay, fn: fn}
}

// Fire schedules the callback, superseding any pending invocation.
func (t *Trigger) Fire() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	if t.delay <= 0 {
		t.mu.Unlock()
		t.fn()
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.delay, t.run)
	t.mu.Unlock()
}

func (t *Trigger) run() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	t.mu.Unlock()
	t.fn()
}

// Stop cancels any pending invocation and disables the trigger.
func (t *Trigger) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Pending reports whether an invocation is scheduled.
func (t *Trigger) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}
