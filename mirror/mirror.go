// Package mirror provides key/value stores whose changes are broadcast to
// watchers in other goroutine contexts. Stores come in two lifetimes: the
// in-memory SessionStore, scoped to one process session, and the durable
// Postgres-backed store under internal/infra/persistence, which extends the
// broadcast across processes.
package mirror

import (
	"context"

	json "github.com/goccy/go-json"
)

// WatchID identifies one change subscription.
type WatchID string

// Change describes one mutation of a mirrored area. Value is nil when the key
// was removed. Origin identifies the writing store so its own watchers can be
// skipped.
type Change struct {
	Area   string          `json:"area"`
	Key    string          `json:"key"`
	Value  json.RawMessage `json:"value,omitempty"`
	Origin string          `json:"origin,omitempty"`
}

// Removed reports whether the change deleted the key.
func (c Change) Removed() bool {
	return len(c.Value) == 0
}

// Store is the key/value mirror contract shared by the session and durable
// backends. Watchers observe changes made through other stores of the same
// area; a store's own writes are not echoed to its own watchers unless the
// store was built with self-notification.
type Store interface {
	Read(ctx context.Context, key string) (json.RawMessage, error)
	Write(ctx context.Context, key string, value json.RawMessage) error
	Remove(ctx context.Context, key string) error
	Watch(ctx context.Context) (WatchID, <-chan Change, error)
	Unwatch(id WatchID)
	Close() error
}

func cloneValue(v json.RawMessage) json.RawMessage {
	if v == nil {
		return nil
	}
	out := make(json.RawMessage, len(v))
	copy(out, v)
	return out
}
