package outside

import (
	"sync"

	"github.com/commons-dev-open/reactive/errs"
)

const scope = "outside/detector"

// Detector watches an input stream and fires a callback for every press that
// lands outside all of its regions. Events reach it either directly through
// Deliver or from a channel via Attach. The callback runs on the goroutine
// that delivered the event, so events from one feed arrive in order.
type Detector struct {
	onOutside func(Event)
	regions   []Region

	mu     sync.Mutex
	closed bool
	stop   chan struct{}
	done   chan struct{}
}

// NewDetector builds a detector invoking onOutside for presses outside every
// region. With no regions every press is outside.
func NewDetector(onOutside func(Event), regions ...Region) (*Detector, error) {
	if onOutside == nil {
		return nil, errs.New(scope, errs.CodeInvalid, errs.WithMessage("callback required"))
	}
	return &Detector{
		onOutside: onOutside,
		regions:   regions,
	}, nil
}

// Deliver feeds one event. Non-press kinds and events after Close are
// discarded.
func (d *Detector) Deliver(ev Event) {
	if !ev.Kind.press() {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	for _, region := range d.regions {
		if region != nil && region.Contains(ev) {
			return
		}
	}
	d.onOutside(ev)
}

// Attach consumes events from ch on a background goroutine until Detach,
// Close, or the channel closing. A detector holds at most one attachment at a
// time; attaching again after either form of teardown is allowed.
func (d *Detector) Attach(ch <-chan Event) error {
	if ch == nil {
		return errs.New(scope, errs.CodeInvalid, errs.WithMessage("feed channel required"))
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errs.New(scope, errs.CodeClosed)
	}
	if d.stop != nil {
		d.mu.Unlock()
		return errs.New(scope, errs.CodeConflict, errs.WithMessage("feed already attached"))
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	d.stop = stop
	d.done = done
	d.mu.Unlock()

	go d.consume(ch, stop, done)
	return nil
}

func (d *Detector) consume(ch <-chan Event, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-ch:
			if !ok {
				// Feed ended on its own: release the attachment slot,
				// unless a newer attachment already replaced it.
				d.mu.Lock()
				if d.stop == stop {
					d.stop = nil
					d.done = nil
				}
				d.mu.Unlock()
				return
			}
			d.Deliver(ev)
		}
	}
}

// Detach stops the current channel attachment and waits for its goroutine to
// exit. Detaching with no attachment is a no-op.
func (d *Detector) Detach() {
	d.mu.Lock()
	stop, done := d.stop, d.done
	d.stop = nil
	d.done = nil
	d.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

// Close detaches any feed and makes the detector drop all further events.
// Close is idempotent.
func (d *Detector) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	stop, done := d.stop, d.done
	d.stop = nil
	d.done = nil
	d.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}
