package state

// Toggle is an observable boolean flip-flop.
type Toggle struct {
	cell *Value[bool]
}

// NewToggle constructs a flip-flop starting in the provided position.
func NewToggle(initial bool) *Toggle {
	return &Toggle{cell: NewValue(initial)}
}

// Get reports the current position.
func (t *Toggle) Get() bool {
	return t.cell.Get()
}

// Set forces the flip-flop into the provided position.
func (t *Toggle) Set(on bool) {
	t.cell.Set(on)
}

// Flip inverts the position and returns the new one.
func (t *Toggle) Flip() bool {
	return t.cell.Update(func(on bool) bool { return !on })
}

// Watch registers fn to run on every position change, including writes that
// keep the position unchanged.
func (t *Toggle) Watch(fn func(bool)) (unwatch func()) {
	return t.cell.Watch(fn)
}
