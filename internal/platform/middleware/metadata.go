package middleware

import (
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"examtrack/pkg/requestcontext"
)

// ClientMetadata extracts the client IP, raw User-Agent, and a readable
// device summary ("Chrome on Linux") into the context. Availability lookups
// and audit events use these; apply it early in the chain.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua := r.Header.Get("User-Agent")
		ctx := requestcontext.WithClientMetadata(r.Context(), clientIPFromRequest(r), ua)
		ctx = requestcontext.WithDevice(ctx, deviceSummary(ua))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func deviceSummary(rawUA string) string {
	if rawUA == "" {
		return "Unknown device"
	}
	parsed := useragent.New(rawUA)
	browser, _ := parsed.Browser()
	os := parsed.OS()
	switch {
	case browser != "" && os != "":
		return browser + " on " + os
	case browser != "":
		return browser
	case os != "":
		return os
	default:
		return "Unknown device"
	}
}

// clientIPFromRequest extracts the real client IP, handling proxies and
// load balancers.
func clientIPFromRequest(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs (client, proxy1, ...);
	// the first is the original client.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// RemoteAddr is "ip:port" ("[::1]:port" for IPv6); strip the port.
	if addr := r.RemoteAddr; addr != "" {
		if idx := strings.LastIndex(addr, ":"); idx != -1 {
			return strings.Trim(addr[:idx], "[]")
		}
		return addr
	}
	return ""
}
