package session

import (
	"sync"
	"time"
)

// DefaultDebounceDelay is the window in which repeated mutations collapse
// into one write.
const DefaultDebounceDelay = 500 * time.Millisecond

// Debouncer coalesces bursts of Trigger calls into a single call of fn,
// issued once no further trigger arrives within delay.
type Debouncer struct {
	delay   time.Duration
	fn      func() error
	onError func(error)

	mu         sync.Mutex
	timer      *time.Timer
	generation uint64
	pending    bool
	stopped    bool
}

// NewDebouncer returns an idle debouncer. Errors from timer-driven calls of
// fn go to onError, which may be nil.
func NewDebouncer(delay time.Duration, fn func() error, onError func(error)) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounceDelay
	}
	return &Debouncer{delay: delay, fn: fn, onError: onError}
}

// Trigger (re)starts the window. It never blocks on fn.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.generation++
	d.pending = true
	gen := d.generation
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	// A newer trigger, a cancel or a flush superseded this timer.
	if gen != d.generation || !d.pending {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.timer = nil
	d.mu.Unlock()
	if err := d.fn(); err != nil && d.onError != nil {
		d.onError(err)
	}
}

// FlushNow cancels any pending window and runs fn synchronously, returning
// its error.
func (d *Debouncer) FlushNow() error {
	d.Cancel()
	return d.fn()
}

// Cancel drops a pending window without running fn.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.generation++
	d.pending = false
}

// Stop cancels any pending window and ignores later triggers.
func (d *Debouncer) Stop() {
	d.Cancel()
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
}
