package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// KeyFunc extracts the caller identity from a request. An empty string means
// the request carries no usable identity.
type KeyFunc func(r *http.Request) string

// ClientIP identifies callers by address, checking proxy headers first.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// HeaderKey identifies callers by the value of a request header, such as an
// API key or a user id set by an upstream authenticator.
func HeaderKey(name string) KeyFunc {
	return func(r *http.Request) string {
		return strings.TrimSpace(r.Header.Get(name))
	}
}

// Chain returns the first non-empty identity produced by fns.
func Chain(fns ...KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		for _, fn := range fns {
			if fn == nil {
				continue
			}
			if id := fn(r); id != "" {
				return id
			}
		}
		return ""
	}
}

// Prefixed namespaces the identity returned by fn, so that e.g. an API key
// and an IP address can never share a bucket.
func Prefixed(prefix string, fn KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		id := fn(r)
		if id == "" {
			return ""
		}
		return prefix + id
	}
}
