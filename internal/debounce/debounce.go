// Package debounce coalesces bursts of calls into one trailing call.
package debounce

import (
	"sync"
	"time"

	"github.com/facebookgo/clock"
)

// Debouncer runs fn once after Trigger stops being called for the wait
// duration. Each Trigger cancels the pending timer and schedules a new one.
type Debouncer struct {
	clock clock.Clock
	wait  time.Duration
	fn    func()

	mu      sync.Mutex
	timer   *clock.Timer
	stopped bool
	running sync.WaitGroup
}

// New creates a debouncer. A nil clock uses the wall clock.
func New(clk clock.Clock, wait time.Duration, fn func()) *Debouncer {
	if clk == nil {
		clk = clock.New()
	}
	return &Debouncer{clock: clk, wait: wait, fn: fn}
}

// Trigger (re)starts the quiet window.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	var t *clock.Timer
	t = d.clock.AfterFunc(d.wait, func() {
		d.mu.Lock()
		if d.timer != t || d.stopped {
			d.mu.Unlock()
			return
		}
		d.timer = nil
		d.running.Add(1)
		d.mu.Unlock()

		defer d.running.Done()
		d.fn()
	})
	d.timer = t
}

// Cancel drops a pending call without running it. It reports whether one
// was pending.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer == nil {
		return false
	}
	d.timer.Stop()
	d.timer = nil
	return true
}

// Stop cancels any pending call and waits for a call that already started.
// Later Triggers are ignored. It reports whether a pending call was dropped,
// so the owner can run it synchronously instead.
func (d *Debouncer) Stop() bool {
	d.mu.Lock()
	d.stopped = true
	dropped := d.timer != nil
	if dropped {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	d.running.Wait()
	return dropped
}
