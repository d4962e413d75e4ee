package observability

import (
	"net"
	"net/http"
	"strings"
)

const (
	headerRequestID    = "X-Request-Id"
	headerForwardedFor = "X-Forwarded-For"
	headerRealIP       = "X-Real-Ip"
)

func UserAgentFromRequest(r *http.Request) string {
	return r.UserAgent()
}

func RequestIDFromRequest(r *http.Request) string {
	return r.Header.Get(headerRequestID)
}

// IPFromRequest prefers the first X-Forwarded-For hop, then X-Real-Ip, then
// the socket address.
func IPFromRequest(r *http.Request) string {
	if forwarded := r.Header.Get(headerForwardedFor); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get(headerRealIP)); ip != "" {
		return ip
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
