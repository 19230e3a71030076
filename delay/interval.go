package delay

import (
	"sync"
	"time"

	"github.com/commons-dev-open/reactive/clock"
)

// Interval runs a function repeatedly with a fixed period between the end of
// one run and the start of the next. A non-positive period pauses the cadence
// until SetPeriod provides a usable one.
type Interval struct {
	mu       sync.Mutex
	clk      clock.Clock
	fn       func()
	period   time.Duration
	timer    clock.Timer
	armed    bool
	gen      uint64
	deadline time.Time
	closed   bool
}

// Every starts a cadence running fn once per period. The first run happens one
// period from now.
func Every(period time.Duration, fn func(), opts ...Option) *Interval {
	o := newOptions(opts)
	i := &Interval{
		clk:    o.clk,
		fn:     fn,
		period: period,
	}
	i.timer = o.clk.AfterFunc(time.Hour, i.fire)
	i.timer.Stop()
	if fn != nil && period > 0 {
		i.armLocked(period)
	}
	return i
}

func (i *Interval) armLocked(d time.Duration) {
	i.armed = true
	i.gen++
	i.deadline = i.clk.Now().Add(d)
	i.timer.Reset(d)
}

func (i *Interval) fire() {
	i.mu.Lock()
	if i.closed || !i.armed {
		i.mu.Unlock()
		return
	}
	if now := i.clk.Now(); now.Before(i.deadline) {
		i.timer.Reset(i.deadline.Sub(now))
		i.mu.Unlock()
		return
	}
	gen := i.gen
	fn := i.fn
	i.mu.Unlock()

	fn()

	// Schedule the next run unless the cadence was re-armed or paused while
	// fn was running.
	i.mu.Lock()
	if !i.closed && i.armed && gen == i.gen {
		i.deadline = i.clk.Now().Add(i.period)
		i.timer.Reset(i.period)
	}
	i.mu.Unlock()
}

// SetPeriod replaces the period. A positive period restarts the cadence from
// now; a non-positive one pauses it.
func (i *Interval) SetPeriod(period time.Duration) {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.period = period
	if i.fn == nil || period <= 0 {
		if i.armed {
			i.armed = false
			i.gen++
			i.timer.Stop()
		}
		i.mu.Unlock()
		return
	}
	i.armLocked(period)
	i.mu.Unlock()
}

// Active reports whether the cadence is running.
func (i *Interval) Active() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.armed
}

// Stop halts the cadence permanently. Stop is idempotent.
func (i *Interval) Stop() {
	i.mu.Lock()
	if !i.closed {
		i.closed = true
		if i.armed {
			i.armed = false
			i.timer.Stop()
		}
	}
	i.mu.Unlock()
}
