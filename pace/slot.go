package pace

import (
	"time"

	"github.com/commons-dev-open/reactive/clock"
)

// slot owns the single pending timer of a policy instance. A policy never has
// more than one scheduled execution: arming replaces the previous deadline and
// cancelling leaves the slot idle. The caller is expected to hold the policy
// lock around every method.
type slot struct {
	clk      clock.Clock
	timer    clock.Timer
	armed    bool
	deadline time.Time
}

func newSlot(clk clock.Clock, fire func()) *slot {
	s := &slot{clk: clk}
	// Create the timer parked, so later arms are plain Resets.
	s.timer = clk.AfterFunc(time.Hour, fire)
	s.timer.Stop()
	return s
}

// arm schedules the firing d from now, replacing any pending deadline.
func (s *slot) arm(d time.Duration) {
	if d < 0 {
		d = 0
	}
	s.armed = true
	s.deadline = s.clk.Now().Add(d)
	s.timer.Reset(d)
}

// cancel drops the pending deadline, if any.
func (s *slot) cancel() {
	if !s.armed {
		return
	}
	s.armed = false
	s.timer.Stop()
}

func (s *slot) pending() bool {
	return s.armed
}

// consume is called from the timer callback. It reports whether the callback
// should go ahead and fire. A callback that arrives while the slot is idle is
// a leftover from a cancelled schedule and is dropped. A callback that
// arrives before the current deadline belongs to a schedule that was since
// replaced; the slot re-arms for the remainder and the callback is dropped.
func (s *slot) consume() bool {
	if !s.armed {
		return false
	}
	if now := s.clk.Now(); now.Before(s.deadline) {
		s.timer.Reset(s.deadline.Sub(now))
		return false
	}
	s.armed = false
	return true
}
