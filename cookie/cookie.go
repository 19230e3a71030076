// Package cookie mirrors JSON values into HTTP cookies. A Mirror binds one
// request/response pair: reads come from the request's Cookie header, writes
// and removals append Set-Cookie headers to the response. Values are JSON,
// URL-escaped to satisfy the cookie value grammar.
package cookie

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/commons-dev-open/reactive/errs"
)

const scope = "cookie/mirror"

// Mirror is a key/value view over one HTTP exchange. Writes reach the client
// when the response round-trips; the Mirror overlays its own writes so a
// handler reads back what it wrote within the same exchange.
type Mirror struct {
	w        http.ResponseWriter
	r        *http.Request
	defaults []WriteOption

	mu      sync.Mutex
	written map[string]json.RawMessage
	removed map[string]struct{}
}

// New binds a Mirror to a response writer and request. The defaults apply to
// every write and removal before per-call options.
func New(w http.ResponseWriter, r *http.Request, defaults ...WriteOption) (*Mirror, error) {
	if w == nil || r == nil {
		return nil, errs.New(scope, errs.CodeInvalid, errs.WithMessage("response writer and request required"))
	}
	return &Mirror{
		w:        w,
		r:        r,
		defaults: defaults,
		written:  make(map[string]json.RawMessage),
		removed:  make(map[string]struct{}),
	}, nil
}

// Read returns the JSON value stored under key. Values written through this
// Mirror shadow the request header; keys removed through it read as missing.
func (m *Mirror) Read(key string) (json.RawMessage, error) {
	if key == "" {
		return nil, errs.New(scope, errs.CodeInvalid, errs.WithMessage("key required"))
	}

	m.mu.Lock()
	if _, gone := m.removed[key]; gone {
		m.mu.Unlock()
		return nil, errs.New(scope, errs.CodeNotFound, errs.WithKey(key))
	}
	if v, ok := m.written[key]; ok {
		out := append(json.RawMessage(nil), v...)
		m.mu.Unlock()
		return out, nil
	}
	m.mu.Unlock()

	c, err := m.r.Cookie(key)
	if err != nil {
		return nil, errs.New(scope, errs.CodeNotFound, errs.WithKey(key))
	}
	raw, err := url.QueryUnescape(c.Value)
	if err != nil {
		return nil, errs.New(scope, errs.CodeInvalid, errs.WithKey(key), errs.WithCause(err))
	}
	if !json.Valid([]byte(raw)) {
		return nil, errs.New(scope, errs.CodeInvalid, errs.WithKey(key),
			errs.WithMessage("stored value is not valid JSON"))
	}
	return json.RawMessage(raw), nil
}

// Write stores the JSON value under key by appending a Set-Cookie header.
// Later writes to the same key append further headers; the client keeps the
// last one.
func (m *Mirror) Write(key string, value json.RawMessage, opts ...WriteOption) error {
	if key == "" {
		return errs.New(scope, errs.CodeInvalid, errs.WithMessage("key required"))
	}
	if len(value) == 0 {
		return errs.New(scope, errs.CodeInvalid, errs.WithKey(key),
			errs.WithMessage("value required, use Remove to delete"))
	}
	if !json.Valid(value) {
		return errs.New(scope, errs.CodeInvalid, errs.WithKey(key),
			errs.WithMessage("value must be valid JSON"))
	}

	c := m.buildCookie(key, url.QueryEscape(string(value)), opts)
	if err := c.Valid(); err != nil {
		return errs.New(scope, errs.CodeInvalid, errs.WithKey(key), errs.WithCause(err))
	}
	http.SetCookie(m.w, c)

	m.mu.Lock()
	m.written[key] = append(json.RawMessage(nil), value...)
	delete(m.removed, key)
	m.mu.Unlock()
	return nil
}

// Remove expires the key by appending a Set-Cookie header with Max-Age=0 and
// an Expires date in the past. Options let the caller match the Path and
// Domain the key was written with. Removing an absent key still appends the
// expiry header.
func (m *Mirror) Remove(key string, opts ...WriteOption) error {
	if key == "" {
		return errs.New(scope, errs.CodeInvalid, errs.WithMessage("key required"))
	}

	c := m.buildCookie(key, "", opts)
	c.MaxAge = -1
	c.Expires = time.Unix(1, 0)
	if err := c.Valid(); err != nil {
		return errs.New(scope, errs.CodeInvalid, errs.WithKey(key), errs.WithCause(err))
	}
	http.SetCookie(m.w, c)

	m.mu.Lock()
	delete(m.written, key)
	m.removed[key] = struct{}{}
	m.mu.Unlock()
	return nil
}

func (m *Mirror) buildCookie(name, value string, opts []WriteOption) *http.Cookie {
	c := &http.Cookie{Name: name, Value: value, Path: "/"}
	for _, opt := range m.defaults {
		if opt != nil {
			opt(c)
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}
