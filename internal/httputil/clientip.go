package httputil

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// GetClientIP returns the address of the ingest caller for logs and spans.
// Forwarding headers are only consulted when the server sits behind a proxy
// that sets them; otherwise any client could spoof its address. Header values
// that do not parse as an IP are skipped.
func GetClientIP(r *http.Request, trustProxyHeaders bool) string {
	if trustProxyHeaders {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip, ok := parseIP(first); ok {
				return ip
			}
		}
		if ip, ok := parseIP(r.Header.Get("X-Real-IP")); ok {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func parseIP(value string) (string, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(value))
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}
