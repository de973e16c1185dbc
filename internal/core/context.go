package core

import "context"

type contextKey string

const (
	ctxKeyClientIP  contextKey = "upload_client_ip"
	ctxKeyUserAgent contextKey = "upload_user_agent"
)

// WithClient records the requesting client on ctx for upload history.
func WithClient(ctx context.Context, ip, userAgent string) context.Context {
	ctx = context.WithValue(ctx, ctxKeyClientIP, ip)
	return context.WithValue(ctx, ctxKeyUserAgent, userAgent)
}

// ClientIP returns the client IP recorded by WithClient.
func ClientIP(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyClientIP).(string); ok {
		return v
	}
	return ""
}

// UserAgent returns the user agent recorded by WithClient.
func UserAgent(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyUserAgent).(string); ok {
		return v
	}
	return ""
}
