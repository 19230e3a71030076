package mirror

import (
	"context"
	"fmt"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/commons-dev-open/reactive/errs"
)

// SessionOption configures a SessionStore.
type SessionOption func(*sessionOptions)

type sessionOptions struct {
	selfNotify bool
}

// WithSelfNotify makes the store's own writes visible to its own watchers.
// Without it watchers only observe changes made through other stores of the
// same area.
func WithSelfNotify() SessionOption {
	return func(o *sessionOptions) { o.selfNotify = true }
}

// SessionStore is an in-memory mirror scoped to one process session. Stores
// sharing a Hub and an area converge: each applies the changes the others
// publish, so a late reader sees the newest value no matter which store wrote
// it.
type SessionStore struct {
	area       string
	origin     string
	hub        *Hub
	selfNotify bool

	mu      sync.RWMutex
	data    map[string]json.RawMessage
	watches map[WatchID]struct{}
	closed  bool

	applyID   WatchID
	applyDone chan struct{}
}

// NewSessionStore binds a fresh store to an area on the hub.
func NewSessionStore(area string, hub *Hub, opts ...SessionOption) (*SessionStore, error) {
	if area == "" {
		return nil, errs.New("mirror/session", errs.CodeInvalid, errs.WithMessage("area required"))
	}
	if hub == nil {
		return nil, errs.New("mirror/session", errs.CodeInvalid, errs.WithMessage("hub required"))
	}
	var o sessionOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	s := &SessionStore{
		area:       area,
		origin:     uuid.NewString(),
		hub:        hub,
		selfNotify: o.selfNotify,
		data:       make(map[string]json.RawMessage),
		watches:    make(map[WatchID]struct{}),
		applyDone:  make(chan struct{}),
	}
	id, ch, err := hub.Subscribe(context.Background(), area, s.origin, false)
	if err != nil {
		return nil, fmt.Errorf("subscribe apply feed: %w", err)
	}
	s.applyID = id
	go s.apply(ch)
	return s, nil
}

// Area returns the storage identity the store is bound to.
func (s *SessionStore) Area() string {
	return s.area
}

// Origin returns the store's identity used for origin filtering.
func (s *SessionStore) Origin() string {
	return s.origin
}

func (s *SessionStore) apply(ch <-chan Change) {
	defer close(s.applyDone)
	for change := range ch {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			continue
		}
		if change.Removed() {
			delete(s.data, change.Key)
		} else {
			s.data[change.Key] = change.Value
		}
		s.mu.Unlock()
	}
}

// Read returns the value stored under key.
func (s *SessionStore) Read(_ context.Context, key string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errs.New("mirror/session", errs.CodeClosed, errs.WithKey(key))
	}
	v, ok := s.data[key]
	if !ok {
		return nil, errs.New("mirror/session", errs.CodeNotFound, errs.WithKey(key))
	}
	return cloneValue(v), nil
}

// Write stores the value under key and broadcasts the change. The local write
// always lands; the returned error reports watchers that missed the broadcast.
func (s *SessionStore) Write(ctx context.Context, key string, value json.RawMessage) error {
	if key == "" {
		return errs.New("mirror/session", errs.CodeInvalid, errs.WithMessage("key required"))
	}
	if len(value) == 0 {
		return errs.New("mirror/session", errs.CodeInvalid, errs.WithKey(key),
			errs.WithMessage("value required, use Remove to delete"))
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errs.New("mirror/session", errs.CodeClosed, errs.WithKey(key))
	}
	s.data[key] = cloneValue(value)
	s.mu.Unlock()

	return s.hub.Publish(ctx, Change{Area: s.area, Key: key, Value: value, Origin: s.origin})
}

// Remove deletes the key and broadcasts a removal. Removing an absent key is a
// no-op and broadcasts nothing.
func (s *SessionStore) Remove(ctx context.Context, key string) error {
	if key == "" {
		return errs.New("mirror/session", errs.CodeInvalid, errs.WithMessage("key required"))
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errs.New("mirror/session", errs.CodeClosed, errs.WithKey(key))
	}
	if _, ok := s.data[key]; !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.data, key)
	s.mu.Unlock()

	return s.hub.Publish(ctx, Change{Area: s.area, Key: key, Origin: s.origin})
}

// Watch subscribes to changes of the store's area made through other stores.
// The subscription ends when ctx is cancelled, Unwatch is called, or the store
// closes.
func (s *SessionStore) Watch(ctx context.Context) (WatchID, <-chan Change, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return "", nil, errs.New("mirror/session", errs.CodeClosed)
	}

	id, ch, err := s.hub.Subscribe(ctx, s.area, s.origin, s.selfNotify)
	if err != nil {
		return "", nil, fmt.Errorf("subscribe watch: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.hub.Unsubscribe(id)
		return "", nil, errs.New("mirror/session", errs.CodeClosed)
	}
	s.watches[id] = struct{}{}
	s.mu.Unlock()
	return id, ch, nil
}

// Unwatch ends one subscription and closes its channel.
func (s *SessionStore) Unwatch(id WatchID) {
	s.mu.Lock()
	delete(s.watches, id)
	s.mu.Unlock()
	s.hub.Unsubscribe(id)
}

// Close detaches the store from the hub, ends every watch, and rejects further
// operations. Close is idempotent.
func (s *SessionStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ids := make([]WatchID, 0, len(s.watches))
	for id := range s.watches {
		ids = append(ids, id)
	}
	s.watches = make(map[WatchID]struct{})
	s.mu.Unlock()

	for _, id := range ids {
		s.hub.Unsubscribe(id)
	}
	s.hub.Unsubscribe(s.applyID)
	<-s.applyDone
	return nil
}

var _ Store = (*SessionStore)(nil)
