package pace

import (
	"sync"
	"time"

	"github.com/commons-dev-open/reactive/clock"
	"github.com/commons-dev-open/reactive/state"
)

// throttler implements the frequency-cap policy around an arbitrary deliver
// sink. An input arriving a full window after the previous firing fires
// immediately on the leading edge; inputs inside the window coalesce into a
// single trailing firing at the window boundary.
type throttler[T any] struct {
	mu       sync.Mutex
	clk      clock.Clock
	window   time.Duration
	slot     *slot
	latest   T
	deliver  func(T)
	lastFire time.Time
	fired    bool
	closed   bool
}

// primed marks construction itself as the first firing, so the first input
// inside the window is deferred to the trailing edge. Unprimed instances fire
// their first input immediately.
func newThrottler[T any](cfg config, deliver func(T), primed bool) *throttler[T] {
	t := &throttler[T]{
		clk:     cfg.clk,
		window:  cfg.window,
		deliver: deliver,
		fired:   primed,
	}
	if primed {
		t.lastFire = cfg.clk.Now()
	}
	t.slot = newSlot(cfg.clk, t.fire)
	return t
}

func (t *throttler[T]) input(v T) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.latest = v
	now := t.clk.Now()
	if !t.fired || now.Sub(t.lastFire) >= t.window {
		// Leading edge. A trailing execution still pending is superseded
		// by this immediate one.
		t.slot.cancel()
		t.lastFire = now
		t.fired = true
		payload := t.latest
		t.mu.Unlock()
		recordFiring("throttle", "leading")
		t.deliver(payload)
		return
	}
	if !t.slot.pending() {
		t.slot.arm(t.window - now.Sub(t.lastFire))
	}
	t.mu.Unlock()
	recordAbsorbed("throttle")
}

func (t *throttler[T]) fire() {
	t.mu.Lock()
	if t.closed || !t.slot.consume() {
		t.mu.Unlock()
		return
	}
	payload := t.latest
	t.lastFire = t.clk.Now()
	t.fired = true
	t.mu.Unlock()
	recordFiring("throttle", "trailing")
	t.deliver(payload)
}

func (t *throttler[T]) setWindow(w time.Duration) {
	w = normalizeWindow(w)
	t.mu.Lock()
	if !t.closed {
		// A trailing execution already scheduled keeps its original
		// deadline; the new window governs evaluation from then on.
		t.window = w
	}
	t.mu.Unlock()
}

func (t *throttler[T]) cancel() {
	t.mu.Lock()
	if !t.closed {
		t.slot.cancel()
	}
	t.mu.Unlock()
}

func (t *throttler[T]) close() {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		t.slot.cancel()
	}
	t.mu.Unlock()
}

// ThrottledValue derives a frequency-capped copy of a rapidly changing value.
// Construction counts as the first publication, so a change arriving within
// the first window already lands on the trailing edge.
type ThrottledValue[T any] struct {
	eng *throttler[T]
	out *state.Value[T]
}

// NewThrottledValue builds the derived cell holding the initial value.
func NewThrottledValue[T any](initial T, opts ...Option) *ThrottledValue[T] {
	v := &ThrottledValue[T]{out: state.NewValue(initial)}
	v.eng = newThrottler(newConfig(opts), v.out.Set, true)
	return v
}

// Set feeds one input. At most one update lands per window, always carrying
// the newest input.
func (v *ThrottledValue[T]) Set(input T) {
	v.eng.input(input)
}

// Value returns the current published value.
func (v *ThrottledValue[T]) Value() T {
	return v.out.Get()
}

// Watch registers fn to run on every published update.
func (v *ThrottledValue[T]) Watch(fn func(T)) (unwatch func()) {
	return v.out.Watch(fn)
}

// SetWindow replaces the cap window for future evaluation. A trailing update
// already scheduled keeps its original deadline.
func (v *ThrottledValue[T]) SetWindow(d time.Duration) {
	v.eng.setWindow(d)
}

// Cancel drops a scheduled trailing update, if any.
func (v *ThrottledValue[T]) Cancel() {
	v.eng.cancel()
}

// Close tears the derivation down. The published value stays readable. Close
// is idempotent.
func (v *ThrottledValue[T]) Close() {
	v.eng.close()
}

// ThrottledFunc wraps an action behind a stable proxy that invokes it at most
// once per window: immediately for the first call, then on the trailing edge
// with the payload of the newest call.
type ThrottledFunc[T any] struct {
	eng  *throttler[T]
	fnMu sync.RWMutex
	fn   func(T)
}

// NewThrottledFunc builds the proxy. A nil action is refused.
func NewThrottledFunc[T any](fn func(T), opts ...Option) (*ThrottledFunc[T], error) {
	if fn == nil {
		return nil, errNilAction("throttle")
	}
	f := &ThrottledFunc[T]{fn: fn}
	f.eng = newThrottler(newConfig(opts), f.invoke, false)
	return f, nil
}

func (f *ThrottledFunc[T]) invoke(v T) {
	f.fnMu.RLock()
	fn := f.fn
	f.fnMu.RUnlock()
	fn(v)
}

// Call feeds one call through the proxy.
func (f *ThrottledFunc[T]) Call(v T) {
	f.eng.input(v)
}

// SetFunc swaps the wrapped action without disturbing pending schedules. A
// nil action is refused and the previous one kept.
func (f *ThrottledFunc[T]) SetFunc(fn func(T)) error {
	if fn == nil {
		return errNilAction("throttle")
	}
	f.fnMu.Lock()
	f.fn = fn
	f.fnMu.Unlock()
	return nil
}

// SetWindow replaces the cap window for future evaluation. A trailing
// invocation already scheduled keeps its original deadline.
func (f *ThrottledFunc[T]) SetWindow(d time.Duration) {
	f.eng.setWindow(d)
}

// Cancel drops a scheduled trailing invocation, if any.
func (f *ThrottledFunc[T]) Cancel() {
	f.eng.cancel()
}

// Close tears the proxy down. Close is idempotent.
func (f *ThrottledFunc[T]) Close() {
	f.eng.close()
}

// Throttle wraps a payloadless action. The returned call function feeds the
// proxy; stop tears it down.
func Throttle(fn func(), opts ...Option) (call func(), stop func(), err error) {
	if fn == nil {
		return nil, nil, errNilAction("throttle")
	}
	f, err := NewThrottledFunc(func(struct{}) { fn() }, opts...)
	if err != nil {
		return nil, nil, err
	}
	return func() { f.Call(struct{}{}) }, f.Close, nil
}
