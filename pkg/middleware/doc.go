// Package middleware provides the request gatekeeper and rate limiting.
//
// AuthMiddleware reads the session token from the "token" cookie, falling
// back to an "Authorization: Bearer" header, verifies it and stores the
// resulting auth.Identity on the request context:
//
//	gate := middleware.NewAuthMiddleware(codec, logger)
//	router.Handle("/api/detect", gate.Handler(detectHandler))
//	identity, ok := middleware.IdentityFromContext(r.Context())
//
// Rejections use the failure envelope: 401 "Authentication required",
// "Invalid token" or "Token expired", and 500 "Server configuration error"
// when no signing secret is configured.
//
// RateLimitMiddleware limits requests per client IP. It accepts any
// Limiter: the in-process RateLimiter or the Redis-backed
// DistributedRateLimiter when several instances share a limit. Limiter
// errors fail open.
package middleware
