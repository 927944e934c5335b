// Package security provides security-related functionality shared by the
// OAuth client, callback receiver, and resource server: audit logging
// with PII hashing, per-identifier rate limiting, request ID propagation,
// secure response headers, client IP extraction, and token expiry helpers.
//
// # Rate Limiting
//
// The RateLimiter provides per-identifier rate limiting using a token
// bucket algorithm with automatic memory management through LRU eviction.
// To prevent unbounded growth under distributed attacks, the limiter
// caps the number of tracked identifiers; when the cap is reached, the
// least recently used entries are evicted first.
//
//	limiter := security.NewRateLimiter(10, 20, logger)
//	defer limiter.Stop()
//
//	if !limiter.Allow(clientIP) {
//	    // respond 429
//	}
//
// # Audit Logging
//
// The Auditor records security-relevant events (state mismatches, denied
// authorizations, token lifecycle changes) through slog. Sensitive
// identifiers are SHA-256 hashed before they reach the log.
package security
