package state

import "sync"

// Previous is a one-slot history buffer. Each distinct observed value shifts
// the prior distinct value into the history slot; observing a value equal to
// the current one leaves both slots untouched.
//
// The tracker has no history until two distinct values have been observed, so
// consumers that feed it after publishing an update still read the old value
// for the whole notification turn.
type Previous[T comparable] struct {
	mu      sync.Mutex
	prev    T
	last    T
	hasLast bool
	hasPrev bool
}

// NewPrevious constructs an empty tracker.
func NewPrevious[T comparable]() *Previous[T] {
	return &Previous[T]{}
}

// Observe records v as the current value. The previously current value moves
// into the history slot only when v differs from it.
func (p *Previous[T]) Observe(v T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.hasLast && p.last == v {
		return
	}
	if p.hasLast {
		p.prev = p.last
		p.hasPrev = true
	}
	p.last = v
	p.hasLast = true
}

// Previous returns the value observed before the current one. The second
// return is false until two distinct values have been observed.
func (p *Previous[T]) Previous() (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prev, p.hasPrev
}

// Current returns the most recently observed value. The second return is false
// until the first observation.
func (p *Previous[T]) Current() (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.hasLast
}
