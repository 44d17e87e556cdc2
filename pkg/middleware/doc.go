// Package middleware provides the HTTP middleware that sits in front of the
// gallery API: identity resolution and upload throttling.
//
// # Authentication
//
// AuthMiddleware reads a Bearer token from the Authorization header, falling
// back to the session cookie, and resolves it through an auth.Authenticator
// (usually a chain of the session and OIDC authenticators):
//
//	authn := middleware.NewAuthMiddleware(chain, "gallery_session", logger)
//	router.Use(authn.Handler)
//
// Requests without credentials continue anonymously. Handlers that need a
// caller wrap themselves in RequireIdentity.
//
// # Upload throttling
//
// RedisRateLimiter is a fixed-window counter shared by every instance
// through Redis. Throttle applies it per user (per IP for anonymous calls)
// and fails open when Redis is unreachable:
//
//	limiter := middleware.NewRedisRateLimiter(redisClient, middleware.DefaultUploadRateLimit(), "")
//	uploads.Use(middleware.Throttle(limiter, logger, metrics))
package middleware
