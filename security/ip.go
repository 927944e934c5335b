package security

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP extracts the client IP address from the request.
// X-Forwarded-For and X-Real-IP are only consulted when trustProxy is
// set; only enable it behind a trusted reverse proxy, otherwise the
// headers are attacker-controlled.
func GetClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := leftmostValidIP(r.Header.Get("X-Forwarded-For")); ip != "" {
			return ip
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" && net.ParseIP(xri) != nil {
			return xri
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// leftmostValidIP parses an X-Forwarded-For header value, which has the
// form "client, proxy1, proxy2", and returns the client entry when it
// parses as an IP.
func leftmostValidIP(xff string) string {
	if xff == "" {
		return ""
	}
	first, _, _ := strings.Cut(xff, ",")
	first = strings.TrimSpace(first)
	if net.ParseIP(first) != nil {
		return first
	}
	return ""
}
