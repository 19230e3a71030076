package pace

import (
	"sync"
	"time"

	"github.com/commons-dev-open/reactive/errs"
	"github.com/commons-dev-open/reactive/state"
)

// debouncer implements the quiet-period policy around an arbitrary deliver
// sink. The value and func shapes are thin adapters over it.
type debouncer[T any] struct {
	mu      sync.Mutex
	window  time.Duration
	slot    *slot
	latest  T
	deliver func(T)
	closed  bool
}

func newDebouncer[T any](cfg config, deliver func(T)) *debouncer[T] {
	d := &debouncer[T]{
		window:  cfg.window,
		deliver: deliver,
	}
	d.slot = newSlot(cfg.clk, d.fire)
	return d
}

// input records v as the latest payload and re-arms the full window. Work
// pending from earlier inputs is superseded, never delivered.
func (d *debouncer[T]) input(v T) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.latest = v
	d.slot.arm(d.window)
	d.mu.Unlock()
	recordAbsorbed("debounce")
}

func (d *debouncer[T]) fire() {
	d.mu.Lock()
	if d.closed || !d.slot.consume() {
		d.mu.Unlock()
		return
	}
	payload := d.latest
	d.mu.Unlock()
	recordFiring("debounce", "trailing")
	d.deliver(payload)
}

func (d *debouncer[T]) setWindow(w time.Duration) {
	w = normalizeWindow(w)
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.window = w
	if d.slot.pending() {
		// The pending execution restarts on the new window; the old
		// deadline is discarded.
		d.slot.arm(w)
	}
	d.mu.Unlock()
}

func (d *debouncer[T]) cancel() {
	d.mu.Lock()
	if !d.closed {
		d.slot.cancel()
	}
	d.mu.Unlock()
}

func (d *debouncer[T]) close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		d.slot.cancel()
	}
	d.mu.Unlock()
}

// DebouncedValue derives a delayed copy of a frequently changing value. The
// derived cell holds the initial value from construction; afterwards it
// settles to the newest input once inputs stop arriving for a full window.
type DebouncedValue[T any] struct {
	eng *debouncer[T]
	out *state.Value[T]
}

// NewDebouncedValue builds the derived cell. The initial value is published
// synchronously, before any scheduling happens.
func NewDebouncedValue[T any](initial T, opts ...Option) *DebouncedValue[T] {
	v := &DebouncedValue[T]{out: state.NewValue(initial)}
	v.eng = newDebouncer(newConfig(opts), v.out.Set)
	return v
}

// Set feeds one input. The derived cell does not move until inputs stay quiet
// for a full window.
func (v *DebouncedValue[T]) Set(input T) {
	v.eng.input(input)
}

// Value returns the current settled value.
func (v *DebouncedValue[T]) Value() T {
	return v.out.Get()
}

// Watch registers fn to run whenever the derived cell settles.
func (v *DebouncedValue[T]) Watch(fn func(T)) (unwatch func()) {
	return v.out.Watch(fn)
}

// SetWindow replaces the quiet period. A pending settle restarts on the new
// window.
func (v *DebouncedValue[T]) SetWindow(d time.Duration) {
	v.eng.setWindow(d)
}

// Cancel drops any pending settle. The next Set arms a fresh window.
func (v *DebouncedValue[T]) Cancel() {
	v.eng.cancel()
}

// Close tears the derivation down. The settled value stays readable, but no
// further updates are delivered. Close is idempotent.
func (v *DebouncedValue[T]) Close() {
	v.eng.close()
}

// DebouncedFunc wraps an action behind a stable proxy that invokes it only
// after calls stop arriving for a full window, with the payload of the last
// call.
type DebouncedFunc[T any] struct {
	eng  *debouncer[T]
	fnMu sync.RWMutex
	fn   func(T)
}

// NewDebouncedFunc builds the proxy. A nil action is refused.
func NewDebouncedFunc[T any](fn func(T), opts ...Option) (*DebouncedFunc[T], error) {
	if fn == nil {
		return nil, errNilAction("debounce")
	}
	f := &DebouncedFunc[T]{fn: fn}
	f.eng = newDebouncer(newConfig(opts), f.invoke)
	return f, nil
}

func (f *DebouncedFunc[T]) invoke(v T) {
	f.fnMu.RLock()
	fn := f.fn
	f.fnMu.RUnlock()
	fn(v)
}

// Call feeds one call through the proxy.
func (f *DebouncedFunc[T]) Call(v T) {
	f.eng.input(v)
}

// SetFunc swaps the wrapped action without disturbing pending schedules. A
// firing always invokes the action current at fire time. A nil action is
// refused and the previous one kept.
func (f *DebouncedFunc[T]) SetFunc(fn func(T)) error {
	if fn == nil {
		return errNilAction("debounce")
	}
	f.fnMu.Lock()
	f.fn = fn
	f.fnMu.Unlock()
	return nil
}

// SetWindow replaces the quiet period, restarting any pending invocation on
// the new window.
func (f *DebouncedFunc[T]) SetWindow(d time.Duration) {
	f.eng.setWindow(d)
}

// Cancel drops any pending invocation. The next Call arms a fresh window.
func (f *DebouncedFunc[T]) Cancel() {
	f.eng.cancel()
}

// Close tears the proxy down. Close is idempotent.
func (f *DebouncedFunc[T]) Close() {
	f.eng.close()
}

// Debounce wraps a payloadless action. The returned call function feeds the
// proxy; stop tears it down.
func Debounce(fn func(), opts ...Option) (call func(), stop func(), err error) {
	if fn == nil {
		return nil, nil, errNilAction("debounce")
	}
	f, err := NewDebouncedFunc(func(struct{}) { fn() }, opts...)
	if err != nil {
		return nil, nil, err
	}
	return func() { f.Call(struct{}{}) }, f.Close, nil
}

func errNilAction(policy string) error {
	return errs.New("pace", errs.CodeInvalid,
		errs.WithMessage(policy+" requires a callable action"))
}
