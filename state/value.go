// Package state provides small observable state cells: single values, boolean
// flip-flops, and one-slot history trackers. Cells carry no scheduling of their
// own; the rate-control engine in package pace composes them into delayed or
// frequency-capped derivatives.
package state

import "sync"

// Value is an observable cell holding a single value. Watchers are notified on
// the writer's goroutine, in registration order, after the cell is updated.
type Value[T any] struct {
	mu       sync.RWMutex
	current  T
	watchers []watcher[T]
	nextID   uint64
}

type watcher[T any] struct {
	id uint64
	fn func(T)
}

// NewValue constructs a cell initialised to the provided value.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{current: initial}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current
}

// Set replaces the current value and notifies watchers.
func (v *Value[T]) Set(next T) {
	v.Update(func(T) T { return next })
}

// Update applies fn to the current value under the cell lock, stores the
// result, notifies watchers, and returns the new value.
func (v *Value[T]) Update(fn func(T) T) T {
	v.mu.Lock()
	v.current = fn(v.current)
	next := v.current
	snapshot := make([]watcher[T], len(v.watchers))
	copy(snapshot, v.watchers)
	v.mu.Unlock()

	// Watchers run outside the lock so they may read or write the cell.
	for _, w := range snapshot {
		w.fn(next)
	}
	return next
}

// Watch registers fn to run on every update. The returned function removes the
// registration and is safe to call more than once.
func (v *Value[T]) Watch(fn func(T)) (unwatch func()) {
	if fn == nil {
		return func() {}
	}
	v.mu.Lock()
	v.nextID++
	id := v.nextID
	v.watchers = append(v.watchers, watcher[T]{id: id, fn: fn})
	v.mu.Unlock()

	return func() {
		v.mu.Lock()
		for i, w := range v.watchers {
			if w.id == id {
				v.watchers = append(v.watchers[:i], v.watchers[i+1:]...)
				break
			}
		}
		v.mu.Unlock()
	}
}
