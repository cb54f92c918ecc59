// Package debounce provides a reschedulable trailing-edge timer: many rapid
// triggers collapse into a single delayed call.
package debounce

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Option configures a Debouncer.
type Option func(*Debouncer)

// WithClock replaces the wall clock. Tests pass a *clock.Mock.
func WithClock(c clock.Clock) Option {
	return func(d *Debouncer) { d.clock = c }
}

// Debouncer invokes fn once, delay after the most recent Trigger.
// There is never more than one outstanding invocation.
type Debouncer struct {
	clock clock.Clock
	delay time.Duration
	fn    func()

	mu    sync.Mutex
	timer *clock.Timer
	// gen invalidates timers that fired while being superseded.
	gen uint64
}

// New creates a Debouncer. Nothing is scheduled until Trigger is called.
func New(delay time.Duration, fn func(), opts ...Option) *Debouncer {
	d := &Debouncer{
		clock: clock.New(),
		delay: delay,
		fn:    fn,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Trigger cancels any scheduled-but-unfired invocation and schedules a new
// one delay from now.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.delay, func() { d.fire(gen) })
}

// Cancel drops the pending invocation, if any.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
}

// Pending reports whether an invocation is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Delay returns the configured delay.
func (d *Debouncer) Delay() time.Duration { return d.delay }

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.timer == nil {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()

	d.fn()
}
