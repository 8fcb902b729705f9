package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		trusted    bool
		remoteAddr string
		headers    map[string]string
		expectedIP string
	}{
		{
			name:       "remote addr IPv4",
			remoteAddr: "192.0.2.55:54321",
			expectedIP: "192.0.2.55",
		},
		{
			name:       "remote addr IPv6 bracketed",
			remoteAddr: "[2001:db8::5]:8443",
			expectedIP: "2001:db8::5",
		},
		{
			name:       "malformed remote addr returned raw",
			remoteAddr: "not_an_ip_port",
			expectedIP: "not_an_ip_port",
		},
		{
			name:       "forwarding headers ignored when untrusted",
			remoteAddr: "192.0.2.1:1000",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.5", "X-Real-IP": "203.0.113.6"},
			expectedIP: "192.0.2.1",
		},
		{
			name:       "first forwarded address when trusted",
			trusted:    true,
			remoteAddr: "192.0.2.1:1000",
			headers:    map[string]string{"X-Forwarded-For": " 198.51.100.7 , 203.0.113.9"},
			expectedIP: "198.51.100.7",
		},
		{
			name:       "forwarded IPv6",
			trusted:    true,
			remoteAddr: "192.0.2.1:1000",
			headers:    map[string]string{"X-Forwarded-For": "2001:db8::1, 203.0.113.9"},
			expectedIP: "2001:db8::1",
		},
		{
			name:       "IPv4 mapped IPv6 unmapped",
			trusted:    true,
			remoteAddr: "192.0.2.1:1000",
			headers:    map[string]string{"X-Real-IP": "::ffff:203.0.113.12"},
			expectedIP: "203.0.113.12",
		},
		{
			name:       "real ip when forwarded header is garbage",
			trusted:    true,
			remoteAddr: "192.0.2.1:1000",
			headers:    map[string]string{"X-Forwarded-For": "unknown", "X-Real-IP": "203.0.113.200"},
			expectedIP: "203.0.113.200",
		},
		{
			name:       "remote addr when every header is garbage",
			trusted:    true,
			remoteAddr: "192.0.2.1:1000",
			headers:    map[string]string{"X-Forwarded-For": "", "X-Real-IP": "proxy"},
			expectedIP: "192.0.2.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.expectedIP, GetClientIP(req, tt.trusted))
		})
	}
}
