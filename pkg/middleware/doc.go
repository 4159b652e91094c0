// Package middleware provides HTTP middleware for identifying callers and
// limiting request rates.
//
// # Middleware Components
//
// SessionMiddleware: HS256 session tokens from the web app
//
//	router.Use(middleware.NewSessionMiddleware(secret, issuer, logger).Handler)
//	// Puts the token's subject on the context as the user id. Never rejects;
//	// rbac.Guard.RequireUserID decides whether a user is required.
//
// APIKeyMiddleware: bearer API keys from the browser extension
//
//	keys := middleware.NewAPIKeyMiddleware(authenticator, writeError)
//	router.Handle("/capture", keys.Handler(
//	    middleware.RequireScope(auth.ScopeClipperWrite, writeError)(handler)))
//
// RateLimitMiddleware: in-process token buckets, or Redis fixed windows via
// NewDistributedRateLimitMiddleware
//
//	limiter := middleware.NewDistributedRateLimitMiddleware(redisClient, perKey, anonymous, metrics, logger)
//	router.Use(limiter.Handler)
//
// # Rate Limiting
//
// Requests carrying a well-formed API key are keyed by its display prefix,
// everything else by client IP. Redis errors fail open unless
// SetFallbackEnabled(false) is called.
//
// Default (by IP): 60 req/min
// Per API key: 600 req/min
//
// # Related Packages
//
//   - pkg/apikeys: API key authentication and scope checks
//   - pkg/rbac: Workspace permission checks for session routes
package middleware
