package postgres_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"reflect"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/commons-dev-open/reactive/errs"
	"github.com/commons-dev-open/reactive/internal/infra/persistence/migrations"
	pgstore "github.com/commons-dev-open/reactive/internal/infra/persistence/postgres"
	"github.com/commons-dev-open/reactive/mirror"
)

var (
	testPool    *pgxpool.Pool
	testDSN     string
	pgContainer testcontainers.Container
	setupErr    error
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_PASSWORD": "secret", "POSTGRES_USER": "postgres", "POSTGRES_DB": "reactive"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		setupErr = fmt.Errorf("start postgres container: %w", err)
	} else {
		pgContainer = container
		setupErr = initialiseDatabase(ctx)
	}

	exitCode := 0
	if setupErr != nil {
		fmt.Fprintf(os.Stderr, "postgres integration tests skipped: %v\n", setupErr)
	} else {
		exitCode = m.Run()
	}

	if testPool != nil {
		testPool.Close()
	}
	if pgContainer != nil {
		_ = pgContainer.Terminate(ctx)
	}
	os.Exit(exitCode)
}

func initialiseDatabase(ctx context.Context) error {
	host, err := pgContainer.Host(ctx)
	if err != nil {
		return fmt.Errorf("container host: %w", err)
	}
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return fmt.Errorf("container port: %w", err)
	}
	testDSN = fmt.Sprintf("postgres://postgres:secret@%s:%s/reactive?sslmode=disable", host, port.Port())

	logger := log.New(os.Stderr, "migrate: ", log.LstdFlags)
	if err := migrations.ApplyEmbedded(ctx, testDSN, logger); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	pool, err := pgxpool.New(ctx, testDSN)
	if err != nil {
		return fmt.Errorf("pgx pool: %w", err)
	}
	testPool = pool
	return nil
}

// startListener attaches a change listener to the hub and blocks until its
// LISTEN connection is live, so writes made afterwards are guaranteed to be
// announced.
func startListener(t *testing.T, hub *mirror.Hub) {
	t.Helper()
	listener, err := pgstore.NewListener(testDSN, testPool, hub)
	if err != nil {
		t.Fatalf("new listener: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = listener.Run(ctx)
	}()
	select {
	case <-listener.Ready():
	case <-time.After(15 * time.Second):
		cancel()
		<-done
		t.Fatal("listener did not attach")
	}
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func uniqueArea(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

func recvChange(t *testing.T, ch <-chan mirror.Change) mirror.Change {
	t.Helper()
	select {
	case change, ok := <-ch:
		if !ok {
			t.Fatal("watch channel closed")
		}
		return change
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for change")
	}
	return mirror.Change{}
}

func assertNoChange(t *testing.T, ch <-chan mirror.Change, wait time.Duration) {
	t.Helper()
	select {
	case change := <-ch:
		t.Fatalf("unexpected change %s/%s", change.Area, change.Key)
	case <-time.After(wait):
	}
}

func jsonEqual(a, b []byte) bool {
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	return reflect.DeepEqual(av, bv)
}

func TestKVStoreWriteReadRemove(t *testing.T) {
	if setupErr != nil {
		t.Skipf("postgres setup unavailable: %v", setupErr)
	}
	ctx := context.Background()
	hub := mirror.NewHub(mirror.HubConfig{})
	t.Cleanup(hub.Close)

	store, err := pgstore.NewKVStore(testPool, uniqueArea("settings"), hub)
	if err != nil {
		t.Fatalf("new kv store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Write(ctx, "theme", json.RawMessage(`{"mode":"dark"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := store.Read(ctx, "theme")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !jsonEqual(got, []byte(`{"mode":"dark"}`)) {
		t.Fatalf("unexpected value %s", got)
	}

	if err := store.Write(ctx, "theme", json.RawMessage(`{"mode":"light"}`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err = store.Read(ctx, "theme")
	if err != nil {
		t.Fatalf("read after overwrite: %v", err)
	}
	if !jsonEqual(got, []byte(`{"mode":"light"}`)) {
		t.Fatalf("expected overwritten value, got %s", got)
	}

	if err := store.Remove(ctx, "theme"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := store.Read(ctx, "theme"); !errs.IsCode(err, errs.CodeNotFound) {
		t.Fatalf("expected not-found after remove, got %v", err)
	}

	if err := store.Remove(ctx, "theme"); err != nil {
		t.Fatalf("remove absent key should be silent, got %v", err)
	}
}

func TestKVStoreValidatesInput(t *testing.T) {
	if setupErr != nil {
		t.Skipf("postgres setup unavailable: %v", setupErr)
	}
	ctx := context.Background()
	hub := mirror.NewHub(mirror.HubConfig{})
	t.Cleanup(hub.Close)

	store, err := pgstore.NewKVStore(testPool, uniqueArea("settings"), hub)
	if err != nil {
		t.Fatalf("new kv store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Write(ctx, "", json.RawMessage(`1`)); !errs.IsCode(err, errs.CodeInvalid) {
		t.Fatalf("expected invalid for empty key, got %v", err)
	}
	if err := store.Write(ctx, "k", nil); !errs.IsCode(err, errs.CodeInvalid) {
		t.Fatalf("expected invalid for empty value, got %v", err)
	}
	if err := store.Write(ctx, "k", json.RawMessage(`{"broken":`)); !errs.IsCode(err, errs.CodeInvalid) {
		t.Fatalf("expected invalid for malformed JSON, got %v", err)
	}
	if _, err := store.Read(ctx, "never-written"); !errs.IsCode(err, errs.CodeNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := store.Write(ctx, "k", json.RawMessage(`1`)); !errs.IsCode(err, errs.CodeClosed) {
		t.Fatalf("expected closed, got %v", err)
	}
}

func TestChangesPropagateAcrossStores(t *testing.T) {
	if setupErr != nil {
		t.Skipf("postgres setup unavailable: %v", setupErr)
	}
	ctx := context.Background()
	hub := mirror.NewHub(mirror.HubConfig{})
	t.Cleanup(hub.Close)
	startListener(t, hub)

	area := uniqueArea("session")
	writer, err := pgstore.NewKVStore(testPool, area, hub)
	if err != nil {
		t.Fatalf("new writer store: %v", err)
	}
	t.Cleanup(func() { _ = writer.Close() })
	observer, err := pgstore.NewKVStore(testPool, area, hub)
	if err != nil {
		t.Fatalf("new observer store: %v", err)
	}
	t.Cleanup(func() { _ = observer.Close() })

	_, writerCh, err := writer.Watch(ctx)
	if err != nil {
		t.Fatalf("writer watch: %v", err)
	}
	_, observerCh, err := observer.Watch(ctx)
	if err != nil {
		t.Fatalf("observer watch: %v", err)
	}

	value := json.RawMessage(`{"user":"ada","ttl":300}`)
	if err := writer.Write(ctx, "login", value); err != nil {
		t.Fatalf("write: %v", err)
	}

	change := recvChange(t, observerCh)
	if change.Area != area || change.Key != "login" {
		t.Fatalf("unexpected change %s/%s", change.Area, change.Key)
	}
	if change.Origin != writer.Origin() {
		t.Fatalf("expected origin %s, got %s", writer.Origin(), change.Origin)
	}
	if change.Removed() {
		t.Fatal("expected a value change, got a removal")
	}
	if !jsonEqual(change.Value, value) {
		t.Fatalf("unexpected change value %s", change.Value)
	}

	// The writer's own watcher stays silent for its own announcements.
	assertNoChange(t, writerCh, 500*time.Millisecond)

	got, err := observer.Read(ctx, "login")
	if err != nil {
		t.Fatalf("observer read: %v", err)
	}
	if !jsonEqual(got, value) {
		t.Fatalf("unexpected stored value %s", got)
	}
}

func TestRemovalAnnouncedToWatchers(t *testing.T) {
	if setupErr != nil {
		t.Skipf("postgres setup unavailable: %v", setupErr)
	}
	ctx := context.Background()
	hub := mirror.NewHub(mirror.HubConfig{})
	t.Cleanup(hub.Close)
	startListener(t, hub)

	area := uniqueArea("session")
	writer, err := pgstore.NewKVStore(testPool, area, hub)
	if err != nil {
		t.Fatalf("new writer store: %v", err)
	}
	t.Cleanup(func() { _ = writer.Close() })
	observer, err := pgstore.NewKVStore(testPool, area, hub)
	if err != nil {
		t.Fatalf("new observer store: %v", err)
	}
	t.Cleanup(func() { _ = observer.Close() })

	_, observerCh, err := observer.Watch(ctx)
	if err != nil {
		t.Fatalf("observer watch: %v", err)
	}

	if err := writer.Write(ctx, "token", json.RawMessage(`"abc"`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	change := recvChange(t, observerCh)
	if change.Removed() {
		t.Fatal("expected the write announcement first")
	}

	if err := writer.Remove(ctx, "token"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	change = recvChange(t, observerCh)
	if !change.Removed() {
		t.Fatalf("expected a removal, got value %s", change.Value)
	}
	if change.Key != "token" {
		t.Fatalf("unexpected removal key %s", change.Key)
	}

	// Removing a key that no longer exists announces nothing.
	if err := writer.Remove(ctx, "token"); err != nil {
		t.Fatalf("second remove: %v", err)
	}
	assertNoChange(t, observerCh, 500*time.Millisecond)
}

func TestOversizeValueReloadedFromTable(t *testing.T) {
	if setupErr != nil {
		t.Skipf("postgres setup unavailable: %v", setupErr)
	}
	ctx := context.Background()
	hub := mirror.NewHub(mirror.HubConfig{})
	t.Cleanup(hub.Close)
	startListener(t, hub)

	area := uniqueArea("blobs")
	writer, err := pgstore.NewKVStore(testPool, area, hub)
	if err != nil {
		t.Fatalf("new writer store: %v", err)
	}
	t.Cleanup(func() { _ = writer.Close() })
	observer, err := pgstore.NewKVStore(testPool, area, hub)
	if err != nil {
		t.Fatalf("new observer store: %v", err)
	}
	t.Cleanup(func() { _ = observer.Close() })

	_, observerCh, err := observer.Watch(ctx)
	if err != nil {
		t.Fatalf("observer watch: %v", err)
	}

	// Far past the inline notification limit, so the announcement carries no
	// body and the listener re-reads the row.
	oversize := json.RawMessage(fmt.Sprintf(`{"blob":%q}`, strings.Repeat("x", 8192)))
	if err := writer.Write(ctx, "dump", oversize); err != nil {
		t.Fatalf("write oversize: %v", err)
	}

	change := recvChange(t, observerCh)
	if change.Removed() {
		t.Fatal("expected a value change, got a removal")
	}
	if !jsonEqual(change.Value, oversize) {
		t.Fatalf("expected reloaded oversize value, got %d bytes", len(change.Value))
	}
}

func TestSelfNotifyDeliversOwnRoundTrip(t *testing.T) {
	if setupErr != nil {
		t.Skipf("postgres setup unavailable: %v", setupErr)
	}
	ctx := context.Background()
	hub := mirror.NewHub(mirror.HubConfig{})
	t.Cleanup(hub.Close)
	startListener(t, hub)

	store, err := pgstore.NewKVStore(testPool, uniqueArea("echo"), hub, pgstore.WithSelfNotify())
	if err != nil {
		t.Fatalf("new kv store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	_, ch, err := store.Watch(ctx)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	if err := store.Write(ctx, "ping", json.RawMessage(`1`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	change := recvChange(t, ch)
	if change.Key != "ping" || change.Origin != store.Origin() {
		t.Fatalf("unexpected change %s origin %s", change.Key, change.Origin)
	}
}
