package mirror_test

import (
	"context"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commons-dev-open/reactive/errs"
	"github.com/commons-dev-open/reactive/mirror"
)

func newSessionPair(t *testing.T, area string) (*mirror.SessionStore, *mirror.SessionStore) {
	t.Helper()
	hub := mirror.NewHub(mirror.HubConfig{})
	t.Cleanup(hub.Close)

	first, err := mirror.NewSessionStore(area, hub)
	require.NoError(t, err)
	t.Cleanup(func() { _ = first.Close() })

	second, err := mirror.NewSessionStore(area, hub)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	return first, second
}

func TestSessionReadBackOwnWrite(t *testing.T) {
	hub := mirror.NewHub(mirror.HubConfig{})
	t.Cleanup(hub.Close)

	store, err := mirror.NewSessionStore("settings", hub)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	require.NoError(t, store.Write(ctx, "theme", json.RawMessage(`"dark"`)))

	got, err := store.Read(ctx, "theme")
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`"dark"`), got)
}

func TestSessionReadMissingKeyIsNotFound(t *testing.T) {
	hub := mirror.NewHub(mirror.HubConfig{})
	t.Cleanup(hub.Close)

	store, err := mirror.NewSessionStore("settings", hub)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.Read(context.Background(), "absent")
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.CodeNotFound))
}

func TestSessionStoresConvergeThroughHub(t *testing.T) {
	first, second := newSessionPair(t, "settings")
	ctx := context.Background()

	require.NoError(t, first.Write(ctx, "theme", json.RawMessage(`"dark"`)))

	require.Eventually(t, func() bool {
		got, err := second.Read(ctx, "theme")
		return err == nil && string(got) == `"dark"`
	}, 2*time.Second, 10*time.Millisecond, "second store applies the first store's write")
}

func TestSessionRemoveConvergesAndNotifies(t *testing.T) {
	first, second := newSessionPair(t, "settings")
	ctx := context.Background()

	require.NoError(t, first.Write(ctx, "theme", json.RawMessage(`"dark"`)))
	require.Eventually(t, func() bool {
		_, err := second.Read(ctx, "theme")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	_, ch, err := second.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, first.Remove(ctx, "theme"))

	got := recvChange(t, ch)
	assert.Equal(t, "theme", got.Key)
	assert.True(t, got.Removed())

	require.Eventually(t, func() bool {
		_, err := second.Read(ctx, "theme")
		return errs.IsCode(err, errs.CodeNotFound)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSessionRemoveAbsentKeyIsSilent(t *testing.T) {
	first, second := newSessionPair(t, "settings")
	ctx := context.Background()

	_, ch, err := second.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, first.Remove(ctx, "absent"))
	assertNoChange(t, ch)
}

func TestSessionWatcherSkipsOwnStoreWrites(t *testing.T) {
	first, second := newSessionPair(t, "settings")
	ctx := context.Background()

	_, ch, err := first.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, first.Write(ctx, "own", json.RawMessage(`1`)))
	assertNoChange(t, ch)

	require.NoError(t, second.Write(ctx, "other", json.RawMessage(`2`)))
	got := recvChange(t, ch)
	assert.Equal(t, "other", got.Key)
	assert.Equal(t, second.Origin(), got.Origin)
}

func TestSessionSelfNotifyEchoesOwnWrites(t *testing.T) {
	hub := mirror.NewHub(mirror.HubConfig{})
	t.Cleanup(hub.Close)

	store, err := mirror.NewSessionStore("settings", hub, mirror.WithSelfNotify())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	_, ch, err := store.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, store.Write(ctx, "k", json.RawMessage(`1`)))
	got := recvChange(t, ch)
	assert.Equal(t, "k", got.Key)
}

func TestSessionWriteValidatesKeyAndValue(t *testing.T) {
	hub := mirror.NewHub(mirror.HubConfig{})
	t.Cleanup(hub.Close)

	store, err := mirror.NewSessionStore("settings", hub)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	err = store.Write(context.Background(), "", json.RawMessage(`1`))
	assert.True(t, errs.IsCode(err, errs.CodeInvalid))

	err = store.Write(context.Background(), "k", nil)
	assert.True(t, errs.IsCode(err, errs.CodeInvalid))
}

func TestSessionCloseEndsWatchesAndRejectsOperations(t *testing.T) {
	hub := mirror.NewHub(mirror.HubConfig{})
	t.Cleanup(hub.Close)

	store, err := mirror.NewSessionStore("settings", hub)
	require.NoError(t, err)

	_, ch, err := store.Watch(context.Background())
	require.NoError(t, err)

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("watch channel not closed by store close")
	}

	err = store.Write(context.Background(), "k", json.RawMessage(`1`))
	assert.True(t, errs.IsCode(err, errs.CodeClosed))
	_, err = store.Read(context.Background(), "k")
	assert.True(t, errs.IsCode(err, errs.CodeClosed))
	_, _, err = store.Watch(context.Background())
	assert.True(t, errs.IsCode(err, errs.CodeClosed))
}

func TestSessionWriteDetachesCallerBuffer(t *testing.T) {
	hub := mirror.NewHub(mirror.HubConfig{})
	t.Cleanup(hub.Close)

	store, err := mirror.NewSessionStore("settings", hub)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	buf := json.RawMessage(`"aa"`)
	require.NoError(t, store.Write(ctx, "k", buf))
	buf[1] = 'x'

	got, err := store.Read(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`"aa"`), got)
}
