package relay

import (
	"sync"

	"github.com/commons-dev-open/reactive/mirror"
)

type changeKey struct {
	area string
	key  string
}

// changeQueue coalesces outbound change frames per area and key. While a
// connection waits for rate-limiter tokens, later changes to a queued key
// replace the queued value instead of lengthening the queue, so a flood of
// writes to one key costs one frame per token.
type changeQueue struct {
	mu    sync.Mutex
	order []changeKey
	byKey map[changeKey]mirror.Change
	wake  chan struct{}
}

func newChangeQueue() *changeQueue {
	return &changeQueue{
		order: nil,
		byKey: make(map[changeKey]mirror.Change),
		wake:  make(chan struct{}, 1),
	}
}

// put stores change as the newest value for its key and reports whether it
// replaced an already queued one.
func (q *changeQueue) put(change mirror.Change) bool {
	k := changeKey{area: change.Area, key: change.Key}
	q.mu.Lock()
	_, replaced := q.byKey[k]
	if !replaced {
		q.order = append(q.order, k)
	}
	q.byKey[k] = change
	q.mu.Unlock()
	q.signal()
	return replaced
}

// pop removes the oldest queued key and returns its newest change.
func (q *changeQueue) pop() (mirror.Change, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.order) > 0 {
		k := q.order[0]
		q.order = q.order[1:]
		if change, ok := q.byKey[k]; ok {
			delete(q.byKey, k)
			return change, true
		}
	}
	return mirror.Change{}, false
}

func (q *changeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byKey)
}

// signal wakes the draining loop without blocking.
func (q *changeQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
