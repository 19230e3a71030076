package clock

import "time"

type systemClock struct{}

type systemTimer struct {
	timer *time.Timer
}

// System returns the clock backed by the Go runtime timer facility. The
// returned value is stateless and safe to share.
func System() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) AfterFunc(d time.Duration, fn func()) Timer {
	if d < 0 {
		d = 0
	}
	return &systemTimer{timer: time.AfterFunc(d, fn)}
}

func (t *systemTimer) Stop() bool {
	return t.timer.Stop()
}

func (t *systemTimer) Reset(d time.Duration) bool {
	if d < 0 {
		d = 0
	}
	return t.timer.Reset(d)
}
