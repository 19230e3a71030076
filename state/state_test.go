package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueSetNotifiesWatchersInRegistrationOrder(t *testing.T) {
	cell := NewValue(0)

	var order []string
	cell.Watch(func(int) { order = append(order, "first") })
	cell.Watch(func(int) { order = append(order, "second") })

	cell.Set(7)

	require.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, 7, cell.Get())
}

func TestValueUnwatchStopsNotificationsAndIsIdempotent(t *testing.T) {
	cell := NewValue("a")

	calls := 0
	unwatch := cell.Watch(func(string) { calls++ })

	cell.Set("b")
	unwatch()
	unwatch()
	cell.Set("c")

	assert.Equal(t, 1, calls)
	assert.Equal(t, "c", cell.Get())
}

func TestValueWatcherSeesUpdatedCell(t *testing.T) {
	cell := NewValue(0)

	var seen, read int
	cell.Watch(func(v int) {
		seen = v
		read = cell.Get()
	})

	cell.Set(42)

	assert.Equal(t, 42, seen)
	assert.Equal(t, 42, read)
}

func TestValueUpdateAppliesFunctionAtomically(t *testing.T) {
	cell := NewValue(10)

	got := cell.Update(func(v int) int { return v * 2 })

	assert.Equal(t, 20, got)
	assert.Equal(t, 20, cell.Get())
}

func TestToggleFlipInvertsAndReturnsNewPosition(t *testing.T) {
	flag := NewToggle(false)

	assert.True(t, flag.Flip())
	assert.True(t, flag.Get())
	assert.False(t, flag.Flip())
	assert.False(t, flag.Get())
}

func TestToggleWatchObservesForcedWrites(t *testing.T) {
	flag := NewToggle(true)

	var seen []bool
	flag.Watch(func(on bool) { seen = append(seen, on) })

	flag.Set(false)
	flag.Set(false)
	flag.Flip()

	assert.Equal(t, []bool{false, false, true}, seen)
}

func TestPreviousIsEmptyUntilTwoDistinctObservations(t *testing.T) {
	track := NewPrevious[string]()

	_, ok := track.Previous()
	assert.False(t, ok)
	_, ok = track.Current()
	assert.False(t, ok)

	track.Observe("alpha")
	_, ok = track.Previous()
	assert.False(t, ok)

	cur, ok := track.Current()
	require.True(t, ok)
	assert.Equal(t, "alpha", cur)
}

func TestPreviousShiftsOnDistinctValuesOnly(t *testing.T) {
	track := NewPrevious[int]()

	track.Observe(1)
	track.Observe(1)
	track.Observe(2)

	prev, ok := track.Previous()
	require.True(t, ok)
	assert.Equal(t, 1, prev)

	track.Observe(2)
	prev, _ = track.Previous()
	assert.Equal(t, 1, prev)

	track.Observe(3)
	prev, _ = track.Previous()
	assert.Equal(t, 2, prev)
}
