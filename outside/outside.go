// Package outside detects press-type input landing outside a set of referenced
// regions, the dismiss-on-outside-press pattern. A Detector consumes a
// document-wide event stream, tests each press against its regions, and invokes
// a callback when the press lies outside all of them.
package outside

// Kind names a class of input event.
type Kind string

const (
	// KindPointerDown is a pointer press (mouse or pen).
	KindPointerDown Kind = "pointerdown"
	// KindTouchStart is the first contact of a touch gesture.
	KindTouchStart Kind = "touchstart"
)

func (k Kind) press() bool {
	return k == KindPointerDown || k == KindTouchStart
}

// Point is a position in document coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Event is one input occurrence. Target optionally names the element the press
// landed on, for regions that test membership instead of geometry.
type Event struct {
	Kind   Kind   `json:"kind"`
	Point  Point  `json:"point"`
	Target string `json:"target,omitempty"`
}

// Region decides whether an event falls inside it. Implementations are
// consulted at event time, so a region backed by mutable geometry is always
// tested against its current state.
type Region interface {
	Contains(ev Event) bool
}

// RegionFunc adapts a function to the Region interface.
type RegionFunc func(Event) bool

// Contains calls f.
func (f RegionFunc) Contains(ev Event) bool { return f(ev) }

// Rect is an axis-aligned rectangle in document coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Contains reports whether p lies inside the rectangle. The right and bottom
// edges are exclusive.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X < r.X+r.Width && p.Y >= r.Y && p.Y < r.Y+r.Height
}

// RectRef is a Region whose bounds are resolved when an event arrives, not
// when the detector is built. A RectRef without a Bounds func contains every
// event: an unresolved region suppresses outside callbacks until it reports
// real geometry.
type RectRef struct {
	Bounds func() Rect
}

// Contains tests the event point against the referenced bounds.
func (r RectRef) Contains(ev Event) bool {
	if r.Bounds == nil {
		return true
	}
	return r.Bounds().Contains(ev.Point)
}
