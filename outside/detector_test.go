package outside_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commons-dev-open/reactive/errs"
	"github.com/commons-dev-open/reactive/outside"
)

func press(x, y float64) outside.Event {
	return outside.Event{Kind: outside.KindPointerDown, Point: outside.Point{X: x, Y: y}}
}

func fixedRect(r outside.Rect) outside.RectRef {
	return outside.RectRef{Bounds: func() outside.Rect { return r }}
}

func TestPressOutsideEveryRegionFires(t *testing.T) {
	var fired []outside.Event
	det, err := outside.NewDetector(
		func(ev outside.Event) { fired = append(fired, ev) },
		fixedRect(outside.Rect{X: 0, Y: 0, Width: 100, Height: 50}),
		fixedRect(outside.Rect{X: 200, Y: 0, Width: 100, Height: 50}),
	)
	require.NoError(t, err)
	t.Cleanup(det.Close)

	det.Deliver(press(150, 25))
	require.Len(t, fired, 1)
	assert.Equal(t, outside.Point{X: 150, Y: 25}, fired[0].Point)

	det.Deliver(press(50, 25))
	det.Deliver(press(250, 25))
	assert.Len(t, fired, 1)
}

func TestTouchStartCountsAsPress(t *testing.T) {
	var fired int
	det, err := outside.NewDetector(func(outside.Event) { fired++ })
	require.NoError(t, err)
	t.Cleanup(det.Close)

	det.Deliver(outside.Event{Kind: outside.KindTouchStart})
	assert.Equal(t, 1, fired)
}

func TestNonPressKindsIgnored(t *testing.T) {
	var fired int
	det, err := outside.NewDetector(func(outside.Event) { fired++ })
	require.NoError(t, err)
	t.Cleanup(det.Close)

	det.Deliver(outside.Event{Kind: outside.Kind("pointermove")})
	det.Deliver(outside.Event{Kind: outside.Kind("pointerup")})
	det.Deliver(outside.Event{})
	assert.Zero(t, fired)
}

func TestRegionBoundsReadAtEventTime(t *testing.T) {
	bounds := outside.Rect{X: 0, Y: 0, Width: 10, Height: 10}
	var fired int
	det, err := outside.NewDetector(
		func(outside.Event) { fired++ },
		outside.RectRef{Bounds: func() outside.Rect { return bounds }},
	)
	require.NoError(t, err)
	t.Cleanup(det.Close)

	det.Deliver(press(5, 5))
	assert.Zero(t, fired, "point inside initial bounds")

	bounds = outside.Rect{X: 100, Y: 100, Width: 10, Height: 10}
	det.Deliver(press(5, 5))
	assert.Equal(t, 1, fired, "same point outside moved bounds")
}

func TestUnresolvedRectContainsEverything(t *testing.T) {
	var fired int
	det, err := outside.NewDetector(func(outside.Event) { fired++ }, outside.RectRef{})
	require.NoError(t, err)
	t.Cleanup(det.Close)

	det.Deliver(press(1, 1))
	det.Deliver(press(9999, 9999))
	assert.Zero(t, fired)
}

func TestTargetMembershipRegion(t *testing.T) {
	var fired int
	menu := outside.RegionFunc(func(ev outside.Event) bool { return ev.Target == "menu" })
	det, err := outside.NewDetector(func(outside.Event) { fired++ }, menu)
	require.NoError(t, err)
	t.Cleanup(det.Close)

	det.Deliver(outside.Event{Kind: outside.KindPointerDown, Target: "menu"})
	assert.Zero(t, fired)

	det.Deliver(outside.Event{Kind: outside.KindPointerDown, Target: "backdrop"})
	assert.Equal(t, 1, fired)
}

func TestNoRegionsFiresOnEveryPress(t *testing.T) {
	var fired int
	det, err := outside.NewDetector(func(outside.Event) { fired++ })
	require.NoError(t, err)
	t.Cleanup(det.Close)

	det.Deliver(press(1, 1))
	det.Deliver(press(2, 2))
	assert.Equal(t, 2, fired)
}

func TestChannelAttachment(t *testing.T) {
	fired := make(chan outside.Event, 8)
	det, err := outside.NewDetector(func(ev outside.Event) { fired <- ev })
	require.NoError(t, err)
	t.Cleanup(det.Close)

	feed := make(chan outside.Event, 8)
	require.NoError(t, det.Attach(feed))

	feed <- press(1, 2)
	select {
	case ev := <-fired:
		assert.Equal(t, outside.Point{X: 1, Y: 2}, ev.Point)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered from feed")
	}

	det.Detach()
	feed <- press(3, 4)
	select {
	case <-fired:
		t.Fatal("event delivered after detach")
	case <-time.After(100 * time.Millisecond):
	}

	second := make(chan outside.Event, 8)
	require.NoError(t, det.Attach(second))
	second <- press(5, 6)
	select {
	case ev := <-fired:
		assert.Equal(t, outside.Point{X: 5, Y: 6}, ev.Point)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered after re-attach")
	}
}

func TestAttachTwiceConflicts(t *testing.T) {
	det, err := outside.NewDetector(func(outside.Event) {})
	require.NoError(t, err)
	t.Cleanup(det.Close)

	require.NoError(t, det.Attach(make(chan outside.Event)))
	err = det.Attach(make(chan outside.Event))
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.CodeConflict))
}

func TestChannelCloseReleasesAttachment(t *testing.T) {
	det, err := outside.NewDetector(func(outside.Event) {})
	require.NoError(t, err)
	t.Cleanup(det.Close)

	feed := make(chan outside.Event)
	require.NoError(t, det.Attach(feed))
	close(feed)

	require.Eventually(t, func() bool {
		return det.Attach(make(chan outside.Event)) == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCloseDropsEvents(t *testing.T) {
	var fired int
	det, err := outside.NewDetector(func(outside.Event) { fired++ })
	require.NoError(t, err)

	det.Close()
	det.Deliver(press(1, 1))
	assert.Zero(t, fired)

	err = det.Attach(make(chan outside.Event))
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.CodeClosed))

	det.Close()
}

func TestNewDetectorRequiresCallback(t *testing.T) {
	_, err := outside.NewDetector(nil)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.CodeInvalid))
}
