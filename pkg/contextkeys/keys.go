// Package contextkeys holds the request-scoped values shared between the
// HTTP middleware, the domain services and the logger.
//
//	ctx = contextkeys.WithUserID(ctx, identity.UserID)
//	if id, ok := contextkeys.UserID(ctx); ok { ... }
package contextkeys

import "context"

type key int

const (
	// identityKey holds *auth.Identity, set by the auth middleware
	identityKey key = iota
	requestIDKey
	userIDKey
	// loggerKey holds *observability.Logger, set by httputil.LoggingMiddleware
	loggerKey
)

// WithIdentity stores the authenticated identity. The value is untyped here
// so this package stays free of domain imports; auth.CurrentIdentity reads it.
func WithIdentity(ctx context.Context, identity interface{}) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// Identity returns the raw identity value
func Identity(ctx context.Context) interface{} {
	return ctx.Value(identityKey)
}

// WithRequestID stores the request ID
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID returns the request ID, or "" outside a request
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithUserID stores the caller's user ID
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserID returns the caller's user ID; ok is false for anonymous requests
func UserID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}

// WithLogger stores a request-scoped logger
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// Logger returns the raw logger value
func Logger(ctx context.Context) interface{} {
	return ctx.Value(loggerKey)
}
