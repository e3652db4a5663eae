package views

import (
	"sync"
	"time"
)

// Debouncer runs fn once after triggers stop arriving for the configured
// period.
type Debouncer struct {
	mu      sync.Mutex
	period  time.Duration
	fn      func()
	timer   *time.Timer
	stopped bool
}

func NewDebouncer(period time.Duration, fn func()) *Debouncer {
	return &Debouncer{period: period, fn: fn}
}

func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.period, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()
	d.fn()
}

// Stop cancels a pending run. Later triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
