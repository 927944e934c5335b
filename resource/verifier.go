// Package resource implements the resource-server side of the
// authorization layer: bearer token extraction and validation on
// inbound MCP requests, RFC 8707 audience binding, and the RFC 9728
// protected-resource metadata endpoint.
package resource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrInvalidToken indicates a token that failed verification. Verifier
// implementations wrap it so the middleware can map failures to 401
// invalid_token responses.
var ErrInvalidToken = errors.New("invalid token")

// TokenInfo holds the validated claims of a bearer token.
type TokenInfo struct {
	// Subject identifies the principal the token was issued to
	Subject string

	// Audience lists the resources the token is bound to (RFC 8707).
	// The middleware rejects tokens whose audience does not include
	// this server's canonical resource URI.
	Audience []string

	// Scopes are the space-delimited scope values, split
	Scopes []string

	// Expiration is when the token expires; zero means no expiry claim
	Expiration time.Time

	// Issuer, IssuedAt, NotBefore, and JWTID carry the remaining
	// standard temporal and provenance claims when present
	Issuer    string
	IssuedAt  time.Time
	NotBefore time.Time
	JWTID     string
}

// HasAudience reports whether the token is bound to the given resource.
func (t *TokenInfo) HasAudience(resource string) bool {
	for _, aud := range t.Audience {
		if aud == resource {
			return true
		}
	}
	return false
}

// HasScope reports whether the token grants the given scope.
func (t *TokenInfo) HasScope(scope string) bool {
	for _, s := range t.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Verifier checks a bearer token's authenticity and returns its
// validated claims. Implementations must return an error wrapping
// ErrInvalidToken for malformed, forged, or expired tokens.
//
// The verifier is a pluggable capability: real deployments verify JWT
// signatures against the issuer's published keys (see NewJWTVerifier);
// tests inject doubles.
type Verifier func(ctx context.Context, token string, req *http.Request) (*TokenInfo, error)

// AudienceError indicates a structurally valid token bound to a
// different resource. Audience binding is load-bearing, not advisory:
// the middleware answers 403 insufficient_scope, never 200.
type AudienceError struct {
	Audience []string
	Resource string
}

func (e *AudienceError) Error() string {
	return fmt.Sprintf("token audience %v does not include resource %q", e.Audience, e.Resource)
}

// tokenInfoContextKey is the context key for validated token info
type tokenInfoContextKey struct{}

// withTokenInfo stores validated token info in the context.
func withTokenInfo(ctx context.Context, info *TokenInfo) context.Context {
	return context.WithValue(ctx, tokenInfoContextKey{}, info)
}

// TokenInfoFromContext returns the validated token info stored by the
// RequireToken middleware, or nil when the request was not authenticated.
func TokenInfoFromContext(ctx context.Context) *TokenInfo {
	info, _ := ctx.Value(tokenInfoContextKey{}).(*TokenInfo)
	return info
}
