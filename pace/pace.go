// Package pace implements temporal rate control for value updates and action
// calls. Two policies are provided:
//
//   - Debounce delays work until a quiet period: every input cancels and
//     re-arms a full window, so a burst produces exactly one firing, carrying
//     the last payload of the burst, one window after the burst ends.
//   - Throttle caps frequency: the first input of a window fires immediately
//     on the leading edge, later inputs inside the window coalesce into a
//     single trailing firing at the window boundary, again carrying the
//     latest payload.
//
// Each policy comes in two shapes. Value shape (DebouncedValue,
// ThrottledValue) feeds an observable state.Value cell that consumers read or
// watch. Func shape (DebouncedFunc, ThrottledFunc) wraps a caller-supplied
// action behind a stable proxy.
//
// All scheduling goes through a clock.Clock, so tests drive the policies on a
// clock.Virtual without sleeping.
package pace

import (
	"time"

	"github.com/commons-dev-open/reactive/clock"
)

// DefaultWindow is used when no window is configured and when a negative
// window is supplied, either at construction or through SetWindow.
const DefaultWindow = 500 * time.Millisecond

// Option configures a policy instance at construction.
type Option func(*config)

type config struct {
	clk    clock.Clock
	window time.Duration
}

func newConfig(opts []Option) config {
	cfg := config{
		clk:    clock.System(),
		window: DefaultWindow,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// WithWindow sets the control window. A zero window keeps scheduling
// asynchronous: firings still run from a timer, never inline with the input.
// Negative values fall back to DefaultWindow.
func WithWindow(d time.Duration) Option {
	return func(cfg *config) {
		cfg.window = normalizeWindow(d)
	}
}

// WithClock substitutes the time source, usually a clock.Virtual in tests.
// A nil clock is ignored.
func WithClock(clk clock.Clock) Option {
	return func(cfg *config) {
		if clk != nil {
			cfg.clk = clk
		}
	}
}

func normalizeWindow(d time.Duration) time.Duration {
	if d < 0 {
		return DefaultWindow
	}
	return d
}
