// Package postgres implements the durable key/value mirror on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/commons-dev-open/reactive/errs"
	"github.com/commons-dev-open/reactive/mirror"
)

// NotifyChannel is the Postgres notification channel carrying change payloads.
const NotifyChannel = "reactive_kv_changes"

// pg_notify payloads are capped near 8kB; larger values are announced without
// their body and re-read by the listener before republishing.
const maxInlineNotifyBytes = 4000

const (
	kvReadSQL = `SELECT value FROM kv_entries WHERE area = $1 AND key = $2;`

	kvUpsertSQL = `
INSERT INTO kv_entries (area, key, value, origin, updated_at)
VALUES ($1, $2, $3::jsonb, $4, NOW())
ON CONFLICT (area, key) DO UPDATE SET
    value = EXCLUDED.value,
    origin = EXCLUDED.origin,
    updated_at = NOW();
`

	kvDeleteSQL = `DELETE FROM kv_entries WHERE area = $1 AND key = $2;`

	kvNotifySQL = `SELECT pg_notify($1, $2);`
)

// changeNote is the wire payload carried by pg_notify.
type changeNote struct {
	Area     string          `json:"area"`
	Key      string          `json:"key"`
	Value    json.RawMessage `json:"value,omitempty"`
	Origin   string          `json:"origin,omitempty"`
	Removed  bool            `json:"removed,omitempty"`
	Oversize bool            `json:"oversize,omitempty"`
}

// KVOption configures a KVStore.
type KVOption func(*kvOptions)

type kvOptions struct {
	selfNotify bool
}

// WithSelfNotify makes the store's own writes visible to its own watchers once
// they round-trip through the notification channel.
func WithSelfNotify() KVOption {
	return func(o *kvOptions) { o.selfNotify = true }
}

// KVStore is the durable mirror backend. Writes land in kv_entries and are
// announced on NotifyChannel inside the same transaction; a Listener feeds the
// announcements into the hub, which carries them to watchers in this process
// and, through relays, in others. The store publishes nothing directly, so
// every watcher sees exactly the announcement stream.
type KVStore struct {
	pool       *pgxpool.Pool
	area       string
	origin     string
	hub        *mirror.Hub
	selfNotify bool

	mu      sync.Mutex
	watches map[mirror.WatchID]struct{}
	closed  bool
}

// NewKVStore binds a durable store to one area. The pool stays owned by the
// caller; Close does not release it.
func NewKVStore(pool *pgxpool.Pool, area string, hub *mirror.Hub, opts ...KVOption) (*KVStore, error) {
	if pool == nil {
		return nil, errs.New("kv/postgres", errs.CodeInvalid, errs.WithMessage("pool required"))
	}
	area = strings.TrimSpace(area)
	if area == "" {
		return nil, errs.New("kv/postgres", errs.CodeInvalid, errs.WithMessage("area required"))
	}
	if hub == nil {
		return nil, errs.New("kv/postgres", errs.CodeInvalid, errs.WithMessage("hub required"))
	}
	var o kvOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return &KVStore{
		pool:       pool,
		area:       area,
		origin:     uuid.NewString(),
		hub:        hub,
		selfNotify: o.selfNotify,
		watches:    make(map[mirror.WatchID]struct{}),
	}, nil
}

// Area returns the storage identity the store is bound to.
func (s *KVStore) Area() string {
	return s.area
}

// Origin returns the store's identity used for origin filtering.
func (s *KVStore) Origin() string {
	return s.origin
}

// Read returns the value stored under key.
func (s *KVStore) Read(ctx context.Context, key string) (json.RawMessage, error) {
	if err := s.guard(key); err != nil {
		return nil, err
	}
	var value []byte
	err := s.pool.QueryRow(ctx, kvReadSQL, s.area, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		recordKVOperation("read", "miss")
		return nil, errs.New("kv/postgres", errs.CodeNotFound, errs.WithKey(key))
	}
	if err != nil {
		recordKVOperation("read", "error")
		return nil, fmt.Errorf("read kv entry: %w", err)
	}
	recordKVOperation("read", "ok")
	return value, nil
}

// Write upserts the value under key and announces the change in the same
// transaction.
func (s *KVStore) Write(ctx context.Context, key string, value json.RawMessage) error {
	if err := s.guard(key); err != nil {
		return err
	}
	if len(value) == 0 {
		return errs.New("kv/postgres", errs.CodeInvalid, errs.WithKey(key),
			errs.WithMessage("value required, use Remove to delete"))
	}
	if !json.Valid(value) {
		return errs.New("kv/postgres", errs.CodeInvalid, errs.WithKey(key),
			errs.WithMessage("value must be valid JSON"))
	}

	note := changeNote{Area: s.area, Key: key, Value: value, Origin: s.origin}
	if len(value) > maxInlineNotifyBytes {
		note.Value = nil
		note.Oversize = true
	}
	payload, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("marshal change note: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		recordKVOperation("write", "error")
		return fmt.Errorf("begin kv write: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, kvUpsertSQL, s.area, key, value, s.origin); err != nil {
		recordKVOperation("write", "error")
		return fmt.Errorf("upsert kv entry: %w", err)
	}
	if _, err := tx.Exec(ctx, kvNotifySQL, NotifyChannel, string(payload)); err != nil {
		recordKVOperation("write", "error")
		return fmt.Errorf("notify kv change: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		recordKVOperation("write", "error")
		return fmt.Errorf("commit kv write: %w", err)
	}
	recordKVOperation("write", "ok")
	return nil
}

// Remove deletes the key and announces the removal. Removing an absent key is
// a no-op and announces nothing.
func (s *KVStore) Remove(ctx context.Context, key string) error {
	if err := s.guard(key); err != nil {
		return err
	}
	payload, err := json.Marshal(changeNote{Area: s.area, Key: key, Origin: s.origin, Removed: true})
	if err != nil {
		return fmt.Errorf("marshal change note: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		recordKVOperation("remove", "error")
		return fmt.Errorf("begin kv remove: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, kvDeleteSQL, s.area, key)
	if err != nil {
		recordKVOperation("remove", "error")
		return fmt.Errorf("delete kv entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		recordKVOperation("remove", "miss")
		return tx.Commit(ctx)
	}
	if _, err := tx.Exec(ctx, kvNotifySQL, NotifyChannel, string(payload)); err != nil {
		recordKVOperation("remove", "error")
		return fmt.Errorf("notify kv removal: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		recordKVOperation("remove", "error")
		return fmt.Errorf("commit kv remove: %w", err)
	}
	recordKVOperation("remove", "ok")
	return nil
}

// Watch subscribes to announced changes of the store's area. Changes become
// visible once the Listener feeding the hub has consumed them.
func (s *KVStore) Watch(ctx context.Context) (mirror.WatchID, <-chan mirror.Change, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", nil, errs.New("kv/postgres", errs.CodeClosed)
	}
	s.mu.Unlock()

	id, ch, err := s.hub.Subscribe(ctx, s.area, s.origin, s.selfNotify)
	if err != nil {
		return "", nil, fmt.Errorf("subscribe watch: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.hub.Unsubscribe(id)
		return "", nil, errs.New("kv/postgres", errs.CodeClosed)
	}
	s.watches[id] = struct{}{}
	s.mu.Unlock()
	return id, ch, nil
}

// Unwatch ends one subscription and closes its channel.
func (s *KVStore) Unwatch(id mirror.WatchID) {
	s.mu.Lock()
	delete(s.watches, id)
	s.mu.Unlock()
	s.hub.Unsubscribe(id)
}

// Close ends every watch and rejects further operations. Close is idempotent
// and leaves the pool open.
func (s *KVStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ids := make([]mirror.WatchID, 0, len(s.watches))
	for id := range s.watches {
		ids = append(ids, id)
	}
	s.watches = make(map[mirror.WatchID]struct{})
	s.mu.Unlock()

	for _, id := range ids {
		s.hub.Unsubscribe(id)
	}
	return nil
}

func (s *KVStore) guard(key string) error {
	if key == "" {
		return errs.New("kv/postgres", errs.CodeInvalid, errs.WithMessage("key required"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errs.New("kv/postgres", errs.CodeClosed, errs.WithKey(key))
	}
	return nil
}

var _ mirror.Store = (*KVStore)(nil)
