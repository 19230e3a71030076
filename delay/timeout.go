package delay

import (
	"sync"
	"time"

	"github.com/commons-dev-open/reactive/clock"
)

// Timeout runs a function once after a fixed delay. A negative delay leaves
// the timeout disarmed until Reset is called with a usable one.
type Timeout struct {
	mu       sync.Mutex
	clk      clock.Clock
	fn       func()
	d        time.Duration
	timer    clock.Timer
	armed    bool
	fired    bool
	deadline time.Time
	closed   bool
}

// After schedules fn to run once d from now. The schedule starts immediately;
// use Stop and Restart to manage it afterwards.
func After(d time.Duration, fn func(), opts ...Option) *Timeout {
	o := newOptions(opts)
	t := &Timeout{
		clk: o.clk,
		fn:  fn,
		d:   d,
	}
	t.timer = o.clk.AfterFunc(time.Hour, t.fire)
	t.timer.Stop()
	if fn != nil && d >= 0 {
		t.armLocked(d)
	}
	return t
}

func (t *Timeout) armLocked(d time.Duration) {
	t.armed = true
	t.fired = false
	t.deadline = t.clk.Now().Add(d)
	t.timer.Reset(d)
}

func (t *Timeout) fire() {
	t.mu.Lock()
	if t.closed || !t.armed {
		t.mu.Unlock()
		return
	}
	if now := t.clk.Now(); now.Before(t.deadline) {
		t.timer.Reset(t.deadline.Sub(now))
		t.mu.Unlock()
		return
	}
	t.armed = false
	t.fired = true
	fn := t.fn
	t.mu.Unlock()
	fn()
}

// Stop cancels the pending run, if any. The timeout stays usable and can be
// re-armed with Restart or Reset.
func (t *Timeout) Stop() {
	t.mu.Lock()
	if !t.closed && t.armed {
		t.armed = false
		t.timer.Stop()
	}
	t.mu.Unlock()
}

// Restart re-arms the full configured delay from now, whether the timeout is
// pending, stopped, or already fired.
func (t *Timeout) Restart() {
	t.mu.Lock()
	if !t.closed && t.fn != nil && t.d >= 0 {
		t.armLocked(t.d)
	}
	t.mu.Unlock()
}

// Reset replaces the delay and re-arms from now. A negative delay disarms the
// timeout instead.
func (t *Timeout) Reset(d time.Duration) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.d = d
	if t.fn == nil || d < 0 {
		if t.armed {
			t.armed = false
			t.timer.Stop()
		}
		t.mu.Unlock()
		return
	}
	t.armLocked(d)
	t.mu.Unlock()
}

// Active reports whether a run is pending.
func (t *Timeout) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

// Fired reports whether the most recent schedule completed. Stop and re-arm
// both clear it.
func (t *Timeout) Fired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}

// Close cancels any pending run and makes the timeout permanently inert.
// Close is idempotent.
func (t *Timeout) Close() {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		if t.armed {
			t.armed = false
			t.timer.Stop()
		}
	}
	t.mu.Unlock()
}
