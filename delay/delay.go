// Package delay provides single-shot and repeating timer primitives built on
// clock.Clock. They cover plain "run this later" scheduling; coalescing and
// frequency capping live in package pace.
package delay

import "github.com/commons-dev-open/reactive/clock"

// Option configures a timer primitive at construction.
type Option func(*options)

type options struct {
	clk clock.Clock
}

func newOptions(opts []Option) options {
	o := options{clk: clock.System()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithClock substitutes the time source. A nil clock is ignored.
func WithClock(clk clock.Clock) Option {
	return func(o *options) {
		if clk != nil {
			o.clk = clk
		}
	}
}
