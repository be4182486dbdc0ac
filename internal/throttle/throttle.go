package throttle

import (
	"sync"
	"time"
)

// Throttler rate-limits a callback. The first call in a window runs
// immediately; calls arriving inside the window are coalesced into a single
// trailing invocation carrying the most recent arguments.
type Throttler struct {
	delay time.Duration
	fn    func(args ...interface{})

	mu          sync.Mutex
	lastRun     time.Time
	pendingArgs []interface{}
	hasPending  bool
	timer       *time.Timer
	stopped     bool

	now func() time.Time
}

// New creates a throttler around fn with the given minimum interval
func New(delay time.Duration, fn func(args ...interface{})) *Throttler {
	return &Throttler{
		delay: delay,
		fn:    fn,
		now:   time.Now,
	}
}

// Call requests an invocation. Runs fn immediately if the window has
// elapsed, otherwise schedules a trailing invocation with the latest args.
func (t *Throttler) Call(args ...interface{}) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}

	now := t.now()
	elapsed := now.Sub(t.lastRun)

	if t.lastRun.IsZero() || elapsed >= t.delay {
		t.lastRun = now
		t.mu.Unlock()
		t.fn(args...)
		return
	}

	// Inside the window: remember the latest args and make sure exactly one
	// trailing run is scheduled for the end of the window.
	t.pendingArgs = args
	if !t.hasPending {
		t.hasPending = true
		remaining := t.delay - elapsed
		t.timer = time.AfterFunc(remaining, t.fireTrailing)
	}
	t.mu.Unlock()
}

func (t *Throttler) fireTrailing() {
	t.mu.Lock()
	if t.stopped || !t.hasPending {
		t.mu.Unlock()
		return
	}
	args := t.pendingArgs
	t.pendingArgs = nil
	t.hasPending = false
	t.lastRun = t.now()
	t.mu.Unlock()

	t.fn(args...)
}

// Cancel drops any pending trailing invocation and stops the throttler
func (t *Throttler) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopped = true
	t.pendingArgs = nil
	t.hasPending = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
