package security

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP extracts the client IP address from the request.
// When trustProxy is set, X-Forwarded-For and X-Real-IP are consulted first;
// only enable this behind a trusted reverse proxy, since those headers are
// otherwise attacker-controlled.
func GetClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		// X-Forwarded-For format: "client, proxy1, proxy2"; the leftmost
		// entry is the original client as seen by the first proxy.
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			ip := strings.TrimSpace(strings.Split(xff, ",")[0])
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
