package helpers

import (
	"net"
	"net/http"
	"strings"
)

// GetRealIP extracts the client IP, preferring X-Forwarded-For and X-Real-IP
// over RemoteAddr. The infrastructure in front of the process (Nginx,
// Traefik, a cloud load balancer) is trusted to strip spoofed headers.
func GetRealIP(r *http.Request) net.IP {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Format: client, proxy1, proxy2 — the first parseable entry wins.
		for _, p := range strings.Split(xff, ",") {
			if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
				return ip
			}
		}
	}

	if xr := r.Header.Get("X-Real-IP"); xr != "" {
		if ip := net.ParseIP(strings.TrimSpace(xr)); ip != nil {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return net.ParseIP(r.RemoteAddr)
}
