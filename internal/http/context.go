package http

import (
	"context"

	"salvi/app/internal/permission"
)

type contextKey string

const (
	requestIDContextKey   contextKey = "salvi/request-id"
	requestPathContextKey contextKey = "salvi/request-path"
	identityContextKey    contextKey = "salvi/identity"
)

// RequestIDFromContext extracts the request identifier from the context when available.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(requestIDContextKey).(string); ok {
		return value
	}
	return ""
}

// IdentityFromContext returns the acting identity, anonymous when none was resolved.
func IdentityFromContext(ctx context.Context) permission.Identity {
	if ctx != nil {
		if identity, ok := ctx.Value(identityContextKey).(permission.Identity); ok {
			return identity
		}
	}
	return permission.Anonymous()
}

func requestPathFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	path, _ := ctx.Value(requestPathContextKey).(string)
	return path
}
