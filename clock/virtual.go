package clock

import (
	"sort"
	"sync"
	"time"
)

// Virtual is a manually driven clock for deterministic simulations. Time only
// moves when Advance or AdvanceTo is called; armed timers fire in deadline
// order (arming order for equal deadlines) as the clock passes them.
type Virtual struct {
	mu      sync.Mutex
	current time.Time
	seq     uint64
	timers  []*virtualTimer
}

type virtualTimer struct {
	clock *Virtual
	fn    func()
	when  time.Time
	seq   uint64
	armed bool
}

// NewVirtual initialises a virtual clock starting at the provided instant. A
// zero start falls back to the Unix epoch so test output stays readable.
func NewVirtual(start time.Time) *Virtual {
	if start.IsZero() {
		start = time.Unix(0, 0).UTC()
	}
	return &Virtual{current: start}
}

// Now returns the current simulated instant.
func (c *Virtual) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AfterFunc arms a timer that fires when the clock advances past d from now.
// A non-positive d makes the timer due immediately; it still fires only on the
// next advance, never synchronously.
func (c *Virtual) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d < 0 {
		d = 0
	}
	t := &virtualTimer{
		clock: c,
		fn:    fn,
		when:  c.current.Add(d),
		armed: true,
	}
	c.insertLocked(t)
	return t
}

// Advance moves the clock forward by d, firing every timer whose deadline is
// reached, in order. Advance(0) fires timers due at the current instant.
func (c *Virtual) Advance(d time.Duration) {
	if d < 0 {
		return
	}
	c.AdvanceTo(c.Now().Add(d))
}

// AdvanceTo moves the clock to target, firing due timers along the way.
// Callbacks run without the clock lock held, so they may arm, reset, or stop
// timers; newly armed timers due before target fire during the same call.
func (c *Virtual) AdvanceTo(target time.Time) {
	for {
		c.mu.Lock()
		if target.Before(c.current) {
			c.mu.Unlock()
			return
		}
		next := c.popDueLocked(target)
		if next == nil {
			c.current = target
			c.mu.Unlock()
			return
		}
		if next.when.After(c.current) {
			c.current = next.when
		}
		fn := next.fn
		c.mu.Unlock()
		fn()
	}
}

// Pending reports how many timers are currently armed.
func (c *Virtual) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// insertLocked keeps timers ordered by (deadline, arming sequence).
func (c *Virtual) insertLocked(t *virtualTimer) {
	c.seq++
	t.seq = c.seq
	idx := sort.Search(len(c.timers), func(i int) bool {
		other := c.timers[i]
		if other.when.Equal(t.when) {
			return other.seq > t.seq
		}
		return other.when.After(t.when)
	})
	c.timers = append(c.timers, nil)
	copy(c.timers[idx+1:], c.timers[idx:])
	c.timers[idx] = t
}

// popDueLocked removes and returns the earliest timer due at or before target.
func (c *Virtual) popDueLocked(target time.Time) *virtualTimer {
	if len(c.timers) == 0 {
		return nil
	}
	head := c.timers[0]
	if head.when.After(target) {
		return nil
	}
	c.timers = append(c.timers[:0], c.timers[1:]...)
	head.armed = false
	return head
}

func (c *Virtual) removeLocked(t *virtualTimer) bool {
	for i, candidate := range c.timers {
		if candidate == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return true
		}
	}
	return false
}

// Stop disarms the timer, reporting whether it was still armed.
func (t *virtualTimer) Stop() bool {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()
	if !t.armed {
		return false
	}
	t.armed = false
	c.removeLocked(t)
	return true
}

// Reset re-arms the timer d from the current instant, reporting whether it was
// armed beforehand.
func (t *virtualTimer) Reset(d time.Duration) bool {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()
	if d < 0 {
		d = 0
	}
	wasArmed := t.armed
	if wasArmed {
		c.removeLocked(t)
	}
	t.when = c.current.Add(d)
	t.armed = true
	c.insertLocked(t)
	return wasArmed
}
