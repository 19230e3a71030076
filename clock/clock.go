// Package clock abstracts the time source used by every scheduling component in
// the toolkit. Production code runs on the system clock; tests and the replay
// engine drive a virtual clock so timer behaviour is fully deterministic.
package clock

import "time"

// Clock supplies the current instant and schedules deferred callbacks.
type Clock interface {
	// Now returns the current instant.
	Now() time.Time
	// AfterFunc arms a timer that invokes fn once after d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a single scheduled callback. Stop and Reset follow time.Timer
// semantics: both report whether the timer was still armed.
type Timer interface {
	Stop() bool
	Reset(d time.Duration) bool
}
