package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVirtualAdvanceFiresInDeadlineOrder(t *testing.T) {
	clk := NewVirtual(time.Unix(0, 0))
	var order []string

	clk.AfterFunc(30*time.Millisecond, func() { order = append(order, "c") })
	clk.AfterFunc(10*time.Millisecond, func() { order = append(order, "a") })
	clk.AfterFunc(20*time.Millisecond, func() { order = append(order, "b") })

	clk.Advance(50 * time.Millisecond)

	require.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, 0, clk.Pending())
	assert.Equal(t, time.Unix(0, 0).Add(50*time.Millisecond), clk.Now())
}

func TestVirtualEqualDeadlinesFireInArmingOrder(t *testing.T) {
	clk := NewVirtual(time.Unix(0, 0))
	var order []int

	for i := 0; i < 4; i++ {
		i := i
		clk.AfterFunc(10*time.Millisecond, func() { order = append(order, i) })
	}
	clk.Advance(10 * time.Millisecond)

	require.Equal(t, []int{0, 1, 2, 3}, order)
}

func TestVirtualZeroDelayFiresOnNextAdvance(t *testing.T) {
	clk := NewVirtual(time.Unix(0, 0))
	fired := false
	clk.AfterFunc(0, func() { fired = true })

	require.False(t, fired, "zero-delay timer must not fire synchronously")
	clk.Advance(0)
	require.True(t, fired)
}

func TestVirtualStopPreventsFiring(t *testing.T) {
	clk := NewVirtual(time.Unix(0, 0))
	fired := false
	timer := clk.AfterFunc(10*time.Millisecond, func() { fired = true })

	require.True(t, timer.Stop())
	require.False(t, timer.Stop(), "second stop reports already disarmed")

	clk.Advance(time.Second)
	assert.False(t, fired)
}

func TestVirtualResetMovesDeadline(t *testing.T) {
	clk := NewVirtual(time.Unix(0, 0))
	var fireTimes []time.Time
	timer := clk.AfterFunc(10*time.Millisecond, func() { fireTimes = append(fireTimes, clk.Now()) })

	clk.Advance(5 * time.Millisecond)
	require.True(t, timer.Reset(10*time.Millisecond))

	clk.Advance(9 * time.Millisecond)
	require.Empty(t, fireTimes, "reset deadline not yet reached")

	clk.Advance(1 * time.Millisecond)
	require.Len(t, fireTimes, 1)
	assert.Equal(t, time.Unix(0, 0).Add(15*time.Millisecond), fireTimes[0])
}

func TestVirtualCallbackMayReArmWithinSameAdvance(t *testing.T) {
	clk := NewVirtual(time.Unix(0, 0))
	var fireTimes []time.Duration
	start := clk.Now()

	clk.AfterFunc(10*time.Millisecond, func() {
		fireTimes = append(fireTimes, clk.Now().Sub(start))
		clk.AfterFunc(10*time.Millisecond, func() {
			fireTimes = append(fireTimes, clk.Now().Sub(start))
		})
	})

	clk.Advance(25 * time.Millisecond)

	require.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, fireTimes)
	assert.Equal(t, start.Add(25*time.Millisecond), clk.Now())
}

func TestVirtualAdvanceToPastIsIgnored(t *testing.T) {
	clk := NewVirtual(time.Unix(10, 0))
	clk.AdvanceTo(time.Unix(5, 0))
	assert.Equal(t, time.Unix(10, 0), clk.Now())
}
