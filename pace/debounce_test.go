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

func TestDebouncedValueHoldsInitialBeforeAnyInput(t *testing.T) {
	clk := clock.NewVirtual(time.Time{})
	v := pace.NewDebouncedValue("init",
		pace.WithClock(clk), pace.WithWindow(200*time.Millisecond))
	defer v.Close()

	assert.Equal(t, "init", v.Value())
	assert.Equal(t, 0, clk.Pending())
}

func TestDebouncedValueSettlesToLastInputAfterQuietWindow(t *testing.T) {
	clk := clock.NewVirtual(time.Time{})
	v := pace.NewDebouncedValue("",
		pace.WithClock(clk), pace.WithWindow(200*time.Millisecond))
	defer v.Close()

	v.Set("h")
	clk.Advance(10 * time.Millisecond)
	v.Set("he")
	clk.Advance(10 * time.Millisecond)
	v.Set("hello")

	clk.Advance(199 * time.Millisecond)
	assert.Equal(t, "", v.Value(), "window has not elapsed since the last input")

	clk.Advance(1 * time.Millisecond)
	assert.Equal(t, "hello", v.Value())
}

func TestDebounceEveryInputRestartsTheFullWindow(t *testing.T) {
	clk := clock.NewVirtual(time.Time{})
	v := pace.NewDebouncedValue(0,
		pace.WithClock(clk), pace.WithWindow(200*time.Millisecond))
	defer v.Close()

	v.Set(1)
	clk.Advance(150 * time.Millisecond)
	v.Set(2)
	clk.Advance(150 * time.Millisecond)
	assert.Equal(t, 0, v.Value(), "second input restarted the window")

	clk.Advance(50 * time.Millisecond)
	assert.Equal(t, 2, v.Value())
}

func TestDebouncedFuncCoalescesBurstIntoSingleInvocation(t *testing.T) {
	clk := clock.NewVirtual(time.Time{})

	var calls []int
	f, err := pace.NewDebouncedFunc(func(v int) { calls = append(calls, v) },
		pace.WithClock(clk), pace.WithWindow(200*time.Millisecond))
	require.NoError(t, err)
	defer f.Close()

	for i := 1; i <= 10; i++ {
		f.Call(i)
		clk.Advance(10 * time.Millisecond)
	}
	assert.Empty(t, calls, "burst still in flight")

	clk.Advance(190 * time.Millisecond)
	assert.Equal(t, []int{10}, calls)
}

func TestDebouncedValueNotifiesWatchersOnSettle(t *testing.T) {
	clk := clock.NewVirtual(time.Time{})
	v := pace.NewDebouncedValue("init",
		pace.WithClock(clk), pace.WithWindow(100*time.Millisecond))
	defer v.Close()

	var seen []string
	unwatch := v.Watch(func(s string) { seen = append(seen, s) })
	defer unwatch()

	v.Set("a")
	v.Set("b")
	clk.Advance(100 * time.Millisecond)

	assert.Equal(t, []string{"b"}, seen)
}

func TestDebounceZeroWindowStillFiresAsynchronously(t *testing.T) {
	clk := clock.NewVirtual(time.Time{})

	var calls int
	f, err := pace.NewDebouncedFunc(func(struct{}) { calls++ },
		pace.WithClock(clk), pace.WithWindow(0))
	require.NoError(t, err)
	defer f.Close()

	f.Call(struct{}{})
	assert.Equal(t, 0, calls, "zero window must not invoke inline with the call")

	clk.Advance(0)
	assert.Equal(t, 1, calls)
}

func TestDebounceNegativeWindowFallsBackToDefault(t *testing.T) {
	clk := clock.NewVirtual(time.Time{})
	v := pace.NewDebouncedValue("init",
		pace.WithClock(clk), pace.WithWindow(-time.Second))
	defer v.Close()

	v.Set("next")
	clk.Advance(pace.DefaultWindow - time.Millisecond)
	assert.Equal(t, "init", v.Value())

	clk.Advance(time.Millisecond)
	assert.Equal(t, "next", v.Value())
}

func TestDebounceSetWindowRestartsPendingOnNewWindow(t *testing.T) {
	clk := clock.NewVirtual(time.Time{})
	v := pace.NewDebouncedValue("init",
		pace.WithClock(clk), pace.WithWindow(200*time.Millisecond))
	defer v.Close()

	v.Set("next")
	clk.Advance(100 * time.Millisecond)
	v.SetWindow(300 * time.Millisecond)

	clk.Advance(299 * time.Millisecond)
	assert.Equal(t, "init", v.Value(), "pending settle restarted on the new window")

	clk.Advance(1 * time.Millisecond)
	assert.Equal(t, "next", v.Value())
}

func TestDebounceCancelClearsPendingAndNextInputRearms(t *testing.T) {
	clk := clock.NewVirtual(time.Time{})
	v := pace.NewDebouncedValue("init",
		pace.WithClock(clk), pace.WithWindow(100*time.Millisecond))
	defer v.Close()

	v.Set("dropped")
	v.Cancel()
	v.Cancel()
	clk.Advance(time.Second)
	assert.Equal(t, "init", v.Value())

	v.Set("kept")
	clk.Advance(100 * time.Millisecond)
	assert.Equal(t, "kept", v.Value())
}

func TestDebounceCloseStopsDeliveryAndIsIdempotent(t *testing.T) {
	clk := clock.NewVirtual(time.Time{})
	v := pace.NewDebouncedValue("init",
		pace.WithClock(clk), pace.WithWindow(100*time.Millisecond))

	v.Set("late")
	v.Close()
	v.Close()
	clk.Advance(time.Second)

	assert.Equal(t, "init", v.Value(), "settled value stays readable after close")

	v.Set("ignored")
	clk.Advance(time.Second)
	assert.Equal(t, "init", v.Value())
}

func TestDebouncedFuncRefusesNilAction(t *testing.T) {
	_, err := pace.NewDebouncedFunc[string](nil)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.CodeInvalid))
}

func TestDebouncedFuncSetFuncSwapsActionForPendingFiring(t *testing.T) {
	clk := clock.NewVirtual(time.Time{})

	var first, second []string
	f, err := pace.NewDebouncedFunc(func(v string) { first = append(first, v) },
		pace.WithClock(clk), pace.WithWindow(100*time.Millisecond))
	require.NoError(t, err)
	defer f.Close()

	f.Call("payload")
	require.NoError(t, f.SetFunc(func(v string) { second = append(second, v) }))
	clk.Advance(100 * time.Millisecond)

	assert.Empty(t, first)
	assert.Equal(t, []string{"payload"}, second)
}

func TestDebouncedFuncSetFuncRefusesNilAndKeepsPrevious(t *testing.T) {
	clk := clock.NewVirtual(time.Time{})

	var calls int
	f, err := pace.NewDebouncedFunc(func(struct{}) { calls++ },
		pace.WithClock(clk), pace.WithWindow(100*time.Millisecond))
	require.NoError(t, err)
	defer f.Close()

	err = f.SetFunc(nil)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.CodeInvalid))

	f.Call(struct{}{})
	clk.Advance(100 * time.Millisecond)
	assert.Equal(t, 1, calls)
}

func TestDebouncePayloadlessConvenience(t *testing.T) {
	clk := clock.NewVirtual(time.Time{})

	var calls int
	call, stop, err := pace.Debounce(func() { calls++ },
		pace.WithClock(clk), pace.WithWindow(50*time.Millisecond))
	require.NoError(t, err)

	call()
	call()
	clk.Advance(50 * time.Millisecond)
	assert.Equal(t, 1, calls)

	stop()
	call()
	clk.Advance(time.Second)
	assert.Equal(t, 1, calls)

	_, _, err = pace.Debounce(nil)
	require.Error(t, err)
}
