// clientip.go — client address resolution behind proxies.
package auth

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP resolves the originating client address. The first entry of
// X-Forwarded-For wins when present (the service always runs behind a
// trusted reverse proxy); otherwise the socket peer address is used.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
		if first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
