package mirror

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/commons-dev-open/reactive/errs"
	"github.com/commons-dev-open/reactive/internal/observability"
)

// DefaultBufferSize is the per-watcher delivery buffer applied when a hub is
// built without explicit sizing.
const DefaultBufferSize = 64

// HubConfig sizes the per-watcher delivery buffer.
type HubConfig struct {
	BufferSize int
}

func (c HubConfig) normalize() HubConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	return c
}

// Hub fans mirrored changes out to watchers grouped by storage area. Delivery
// is non-blocking: a watcher whose buffer is full misses the change, and
// Publish reports the loss.
type Hub struct {
	cfg HubConfig

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.RWMutex
	watchers     map[string]map[WatchID]*hubWatcher
	allWatchers  map[WatchID]*hubWatcher
	shutdownOnce sync.Once
}

type hubWatcher struct {
	ctx        context.Context
	cancel     context.CancelFunc
	ch         chan Change
	origin     string
	selfNotify bool
	once       sync.Once
}

// NewHub constructs an in-process change hub.
func NewHub(cfg HubConfig) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := new(Hub)
	h.cfg = cfg.normalize()
	h.ctx = ctx
	h.cancel = cancel
	h.watchers = make(map[string]map[WatchID]*hubWatcher)
	h.allWatchers = make(map[WatchID]*hubWatcher)
	return h
}

// Subscribe registers a watcher for one area. Changes whose origin matches the
// watcher's origin are skipped unless selfNotify is set. The subscription ends
// when ctx is cancelled, Unsubscribe is called, or the hub closes; the channel
// is closed in every case.
func (h *Hub) Subscribe(ctx context.Context, area, origin string, selfNotify bool) (WatchID, <-chan Change, error) {
	if area == "" {
		return "", nil, errs.New("mirror/hub", errs.CodeInvalid, errs.WithMessage("area required"))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)

	w := new(hubWatcher)
	w.ctx = ctx
	w.cancel = cancel
	w.ch = make(chan Change, h.cfg.BufferSize)
	w.origin = origin
	w.selfNotify = selfNotify

	id := WatchID(uuid.NewString())

	h.mu.Lock()
	if _, ok := h.watchers[area]; !ok {
		h.watchers[area] = make(map[WatchID]*hubWatcher)
	}
	h.watchers[area][id] = w
	h.mu.Unlock()

	go h.observe(area, id, w)
	return id, w.ch, nil
}

// SubscribeAll registers a watcher that receives changes from every area,
// with the same origin filtering as Subscribe. Area-crossing feeds such as the
// change relay use it; store watchers stay area-scoped.
func (h *Hub) SubscribeAll(ctx context.Context, origin string) (WatchID, <-chan Change, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)

	w := new(hubWatcher)
	w.ctx = ctx
	w.cancel = cancel
	w.ch = make(chan Change, h.cfg.BufferSize)
	w.origin = origin
	w.selfNotify = false

	id := WatchID(uuid.NewString())

	h.mu.Lock()
	h.allWatchers[id] = w
	h.mu.Unlock()

	go h.observeAll(id, w)
	return id, w.ch, nil
}

// Unsubscribe removes the watcher and closes its channel.
func (h *Hub) Unsubscribe(id WatchID) {
	if id == "" {
		return
	}
	h.mu.Lock()
	if w, ok := h.allWatchers[id]; ok {
		delete(h.allWatchers, id)
		h.mu.Unlock()
		w.close()
		return
	}
	for area, watchers := range h.watchers {
		if w, ok := watchers[id]; ok {
			delete(watchers, id)
			if len(watchers) == 0 {
				delete(h.watchers, area)
			}
			h.mu.Unlock()
			w.close()
			return
		}
	}
	h.mu.Unlock()
}

// Publish fans the change out to every watcher of its area. Watchers whose
// buffers are full are skipped; Publish delivers to the rest and returns an
// error naming the losses.
func (h *Hub) Publish(ctx context.Context, change Change) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if change.Area == "" {
		return errs.New("mirror/hub", errs.CodeInvalid, errs.WithMessage("change area required"))
	}
	if change.Key == "" {
		return errs.New("mirror/hub", errs.CodeInvalid, errs.WithMessage("change key required"))
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("publish context: %w", err)
	}

	// Detach the value from the caller's buffer once; watchers share the copy.
	change.Value = cloneValue(change.Value)

	type entry struct {
		id WatchID
		w  *hubWatcher
	}
	h.mu.RLock()
	snapshot := make([]entry, 0, len(h.watchers[change.Area])+len(h.allWatchers))
	for id, w := range h.watchers[change.Area] {
		snapshot = append(snapshot, entry{id: id, w: w})
	}
	for id, w := range h.allWatchers {
		snapshot = append(snapshot, entry{id: id, w: w})
	}
	h.mu.RUnlock()

	if len(snapshot) == 0 {
		return nil
	}

	var lost []error
	delivered := 0
	for _, e := range snapshot {
		if e.w == nil {
			continue
		}
		if !e.w.selfNotify && change.Origin != "" && e.w.origin == change.Origin {
			continue
		}
		select {
		case <-h.ctx.Done():
			return errs.New("mirror/hub", errs.CodeUnavailable, errs.WithMessage("hub closed"))
		case <-e.w.ctx.Done():
		case e.w.ch <- change:
			delivered++
		default:
			lost = append(lost, fmt.Errorf("watcher %s: buffer full", e.id))
		}
	}
	recordHubDelivery(change.Area, len(snapshot), delivered, len(lost))
	if len(lost) > 0 {
		return observability.AggregateErrors("mirror hub publish", lost,
			observability.Field{Key: "area", Value: change.Area},
			observability.Field{Key: "key", Value: change.Key})
	}
	return nil
}

// Close shuts the hub down and closes every watcher channel.
func (h *Hub) Close() {
	h.shutdownOnce.Do(func() {
		h.cancel()
		h.mu.Lock()
		for area, watchers := range h.watchers {
			for id, w := range watchers {
				if w != nil {
					w.close()
				}
				delete(watchers, id)
			}
			delete(h.watchers, area)
		}
		for id, w := range h.allWatchers {
			if w != nil {
				w.close()
			}
			delete(h.allWatchers, id)
		}
		h.mu.Unlock()
	})
}

func (h *Hub) observeAll(id WatchID, w *hubWatcher) {
	<-w.ctx.Done()
	h.mu.Lock()
	if stored, ok := h.allWatchers[id]; ok && stored == w {
		delete(h.allWatchers, id)
	}
	h.mu.Unlock()
	w.close()
}

func (h *Hub) observe(area string, id WatchID, w *hubWatcher) {
	<-w.ctx.Done()
	h.mu.Lock()
	watchers := h.watchers[area]
	if watchers != nil {
		if stored, ok := watchers[id]; ok && stored == w {
			delete(watchers, id)
			if len(watchers) == 0 {
				delete(h.watchers, area)
			}
		}
	}
	h.mu.Unlock()
	w.close()
}

func (w *hubWatcher) close() {
	w.once.Do(func() {
		w.cancel()
		close(w.ch)
	})
}
