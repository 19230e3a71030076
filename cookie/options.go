package cookie

import (
	"net/http"
	"time"
)

// WriteOption adjusts the attributes of the Set-Cookie header a write or
// removal produces.
type WriteOption func(*http.Cookie)

// WithTTL sets Max-Age from a duration. Sub-second durations round up to one
// second; zero or negative durations clear Max-Age.
func WithTTL(ttl time.Duration) WriteOption {
	return func(c *http.Cookie) {
		if ttl <= 0 {
			c.MaxAge = 0
			return
		}
		c.MaxAge = int((ttl + time.Second - 1) / time.Second)
	}
}

// WithExpires sets an absolute expiry date.
func WithExpires(at time.Time) WriteOption {
	return func(c *http.Cookie) {
		c.Expires = at
	}
}

// WithPath overrides the default "/" path scope.
func WithPath(path string) WriteOption {
	return func(c *http.Cookie) {
		c.Path = path
	}
}

// WithDomain scopes the cookie to a domain.
func WithDomain(domain string) WriteOption {
	return func(c *http.Cookie) {
		c.Domain = domain
	}
}

// WithSecure restricts the cookie to HTTPS exchanges.
func WithSecure() WriteOption {
	return func(c *http.Cookie) {
		c.Secure = true
	}
}

// WithHTTPOnly hides the cookie from client-side scripts.
func WithHTTPOnly() WriteOption {
	return func(c *http.Cookie) {
		c.HttpOnly = true
	}
}

// WithSameSite sets the SameSite enforcement mode.
func WithSameSite(mode http.SameSite) WriteOption {
	return func(c *http.Cookie) {
		c.SameSite = mode
	}
}
