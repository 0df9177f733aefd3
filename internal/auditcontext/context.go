package auditcontext

import (
	"context"
	"strings"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	ipAddressKey
	userAgentKey
)

func WithRequestID(ctx context.Context, value string) context.Context {
	return withString(ctx, requestIDKey, value)
}

func WithIPAddress(ctx context.Context, value string) context.Context {
	return withString(ctx, ipAddressKey, value)
}

func WithUserAgent(ctx context.Context, value string) context.Context {
	return withString(ctx, userAgentKey, value)
}

func RequestIDFromContext(ctx context.Context) string { return stringFrom(ctx, requestIDKey) }
func IPAddressFromContext(ctx context.Context) string { return stringFrom(ctx, ipAddressKey) }
func UserAgentFromContext(ctx context.Context) string { return stringFrom(ctx, userAgentKey) }

func withString(ctx context.Context, key ctxKey, value string) context.Context {
	value = strings.TrimSpace(value)
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(key).(string)
	return value
}
