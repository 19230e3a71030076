package pace_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commons-dev-open/reactive/clock"
	"github.com/commons-dev-open/reactive/errs"
	"github.com/commons-dev-open/reactive/pace"
)

func TestThrottledFuncFirstCallFiresOnLeadingEdge(t *testing.T) {
	clk := clock.NewVirtual(time.Time{})

	var calls []string
	f, err := pace.NewThrottledFunc(func(v string) { calls = append(calls, v) },
		pace.WithClock(clk), pace.WithWindow(200*time.Millisecond))
	require.NoError(t, err)
	defer f.Close()

	f.Call("first")
	assert.Equal(t, []string{"first"}, calls, "first call is not deferred")
}

func TestThrottleTrailingEdgeDeliversLatestPayload(t *testing.T) {
	clk := clock.NewVirtual(time.Time{})

	var calls []string
	f, err := pace.NewThrottledFunc(func(v string) { calls = append(calls, v) },
		pace.WithClock(clk), pace.WithWindow(200*time.Millisecond))
	require.NoError(t, err)
	defer f.Close()

	f.Call("first")
	clk.Advance(60 * time.Millisecond)
	f.Call("second")
	clk.Advance(60 * time.Millisecond)
	f.Call("third")

	clk.Advance(79 * time.Millisecond)
	assert.Equal(t, []string{"first"}, calls, "trailing edge not reached yet")

	clk.Advance(1 * time.Millisecond)
	assert.Equal(t, []string{"first", "third"}, calls,
		"intermediate payload is dropped, latest survives")
}

func TestThrottleLaterInputsDoNotPostponePendingTrailing(t *testing.T) {
	clk := clock.NewVirtual(time.Time{})

	var calls []int
	f, err := pace.NewThrottledFunc(func(v int) { calls = append(calls, v) },
		pace.WithClock(clk), pace.WithWindow(200*time.Millisecond))
	require.NoError(t, err)
	defer f.Close()

	f.Call(1)
	clk.Advance(60 * time.Millisecond)
	f.Call(2)
	clk.Advance(130 * time.Millisecond)
	f.Call(3)

	clk.Advance(10 * time.Millisecond)
	assert.Equal(t, []int{1, 3}, calls,
		"trailing stays at one window after the leading fire")
}

func TestThrottleSteadyCadenceAtWindowBoundaryFiresEveryInput(t *testing.T) {
	clk := clock.NewVirtual(time.Time{})

	var calls []int
	f, err := pace.NewThrottledFunc(func(v int) { calls = append(calls, v) },
		pace.WithClock(clk), pace.WithWindow(100*time.Millisecond))
	require.NoError(t, err)
	defer f.Close()

	for i := 1; i <= 4; i++ {
		f.Call(i)
		clk.Advance(100 * time.Millisecond)
	}

	assert.Equal(t, []int{1, 2, 3, 4}, calls)
}

func TestThrottledValueDefersFirstChangeInsideConstructionWindow(t *testing.T) {
	clk := clock.NewVirtual(time.Time{})
	v := pace.NewThrottledValue("init",
		pace.WithClock(clk), pace.WithWindow(200*time.Millisecond))
	defer v.Close()

	clk.Advance(50 * time.Millisecond)
	v.Set("changed")
	assert.Equal(t, "init", v.Value(), "construction opened the window")

	clk.Advance(150 * time.Millisecond)
	assert.Equal(t, "changed", v.Value())
}

func TestThrottledValuePublishesImmediatelyAfterIdleWindow(t *testing.T) {
	clk := clock.NewVirtual(time.Time{})
	v := pace.NewThrottledValue("init",
		pace.WithClock(clk), pace.WithWindow(200*time.Millisecond))
	defer v.Close()

	clk.Advance(250 * time.Millisecond)
	v.Set("changed")
	assert.Equal(t, "changed", v.Value())
}

func TestThrottledValueWatchObservesEachPublication(t *testing.T) {
	clk := clock.NewVirtual(time.Time{})
	v := pace.NewThrottledValue(0,
		pace.WithClock(clk), pace.WithWindow(100*time.Millisecond))
	defer v.Close()

	var seen []int
	unwatch := v.Watch(func(n int) { seen = append(seen, n) })
	defer unwatch()

	v.Set(1)
	v.Set(2)
	clk.Advance(100 * time.Millisecond)
	v.Set(3)
	clk.Advance(200 * time.Millisecond)
	v.Set(4)

	assert.Equal(t, []int{2, 3, 4}, seen)
}

func TestThrottleWindowChangeKeepsScheduledTrailingDeadline(t *testing.T) {
	clk := clock.NewVirtual(time.Time{})

	var calls []string
	f, err := pace.NewThrottledFunc(func(v string) { calls = append(calls, v) },
		pace.WithClock(clk), pace.WithWindow(200*time.Millisecond))
	require.NoError(t, err)
	defer f.Close()

	f.Call("lead")
	clk.Advance(60 * time.Millisecond)
	f.Call("trail")
	f.SetWindow(500 * time.Millisecond)

	clk.Advance(140 * time.Millisecond)
	assert.Equal(t, []string{"lead", "trail"}, calls,
		"in-flight trailing keeps the deadline computed at arming time")

	f.Call("next")
	clk.Advance(499 * time.Millisecond)
	assert.Equal(t, []string{"lead", "trail"}, calls, "new window governs from here")

	clk.Advance(1 * time.Millisecond)
	assert.Equal(t, []string{"lead", "trail", "next"}, calls)
}

func TestThrottleZeroWindowFiresEveryCall(t *testing.T) {
	clk := clock.NewVirtual(time.Time{})

	var calls []int
	f, err := pace.NewThrottledFunc(func(v int) { calls = append(calls, v) },
		pace.WithClock(clk), pace.WithWindow(0))
	require.NoError(t, err)
	defer f.Close()

	f.Call(1)
	f.Call(2)
	f.Call(3)

	assert.Equal(t, []int{1, 2, 3}, calls)
}

func TestThrottleNegativeWindowFallsBackToDefault(t *testing.T) {
	clk := clock.NewVirtual(time.Time{})

	var calls []int
	f, err := pace.NewThrottledFunc(func(v int) { calls = append(calls, v) },
		pace.WithClock(clk), pace.WithWindow(-time.Second))
	require.NoError(t, err)
	defer f.Close()

	f.Call(1)
	clk.Advance(pace.DefaultWindow / 2)
	f.Call(2)

	clk.Advance(pace.DefaultWindow/2 - time.Millisecond)
	assert.Equal(t, []int{1}, calls)

	clk.Advance(time.Millisecond)
	assert.Equal(t, []int{1, 2}, calls)
}

func TestThrottleCancelDropsPendingTrailing(t *testing.T) {
	clk := clock.NewVirtual(time.Time{})

	var calls []int
	f, err := pace.NewThrottledFunc(func(v int) { calls = append(calls, v) },
		pace.WithClock(clk), pace.WithWindow(200*time.Millisecond))
	require.NoError(t, err)
	defer f.Close()

	f.Call(1)
	clk.Advance(60 * time.Millisecond)
	f.Call(2)
	f.Cancel()
	clk.Advance(time.Second)

	assert.Equal(t, []int{1}, calls)
}

func TestThrottleCloseStopsDeliveryAndIsIdempotent(t *testing.T) {
	clk := clock.NewVirtual(time.Time{})

	var calls []int
	f, err := pace.NewThrottledFunc(func(v int) { calls = append(calls, v) },
		pace.WithClock(clk), pace.WithWindow(200*time.Millisecond))
	require.NoError(t, err)

	f.Call(1)
	clk.Advance(60 * time.Millisecond)
	f.Call(2)
	f.Close()
	f.Close()
	clk.Advance(time.Second)

	f.Call(3)
	clk.Advance(time.Second)

	assert.Equal(t, []int{1}, calls)
}

func TestThrottledFuncRefusesNilAction(t *testing.T) {
	_, err := pace.NewThrottledFunc[int](nil)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.CodeInvalid))
}

func TestThrottlePayloadlessConvenience(t *testing.T) {
	clk := clock.NewVirtual(time.Time{})

	var calls int
	call, stop, err := pace.Throttle(func() { calls++ },
		pace.WithClock(clk), pace.WithWindow(100*time.Millisecond))
	require.NoError(t, err)

	call()
	call()
	assert.Equal(t, 1, calls, "second call within the window waits for the trailing edge")

	clk.Advance(100 * time.Millisecond)
	assert.Equal(t, 2, calls)

	stop()
	call()
	clk.Advance(time.Second)
	assert.Equal(t, 2, calls)
}
