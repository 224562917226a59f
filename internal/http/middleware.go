// Package http holds small HTTP helpers shared by the websocket and upload
// endpoints.
package http

import (
	"net"
	"net/http"
	"strings"
)

// ExtractClientIP returns the client address for a request, preferring the
// proxy-supplied headers over RemoteAddr.
func ExtractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
