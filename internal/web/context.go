package web

import (
	"context"
	"net"
	"net/http"

	"github.com/JonMunkholm/sheetcheck/internal/core"
)

// WithRequestMetadata adds the client IP and User-Agent to ctx for upload history.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	return core.WithClient(ctx, clientIP(r), r.Header.Get("User-Agent"))
}

// clientIP returns the host part of RemoteAddr, which TrustedRealIP has
// already rewritten for trusted proxies.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
