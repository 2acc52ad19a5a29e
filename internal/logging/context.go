// internal/logging/context.go
package logging

import (
	"context"

	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 4)

	if origin := OriginFromContext(ctx); origin != "" {
		fields = append(fields, zap.String("page.origin", origin))
	}
	if id := ItemIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("item.id", id))
	}
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	return fields
}

// Context key types
type originCtxKey struct{}
type itemCtxKey struct{}
type requestCtxKey struct{}
type loggerCtxKey struct{}

// WithOrigin adds the tracked page origin to context.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originCtxKey{}, origin)
}

// OriginFromContext extracts the page origin from context.
func OriginFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(originCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithItemID adds an item id to context.
func WithItemID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, itemCtxKey{}, id)
}

// ItemIDFromContext extracts the item id from context.
func ItemIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(itemCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithRequestID adds a bridge request id to context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext extracts the request id from context.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
