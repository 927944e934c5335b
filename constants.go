package oauth

import "time"

// OAuth protocol constants
const (
	// GrantTypeAuthorizationCode is the authorization code grant type
	GrantTypeAuthorizationCode = "authorization_code"
	// GrantTypeRefreshToken is the refresh token grant type
	GrantTypeRefreshToken = "refresh_token"
	// ResponseTypeCode is the authorization code response type
	ResponseTypeCode = "code"
	// TokenTypeBearer is the bearer token type
	TokenTypeBearer = "Bearer"
	// CodeChallengeMethodS256 is the SHA-256 PKCE challenge method
	CodeChallengeMethodS256 = "S256"
)

// Well-known metadata paths
const (
	// MetadataPathAuthorizationServer is the RFC 8414 discovery path
	MetadataPathAuthorizationServer = "/.well-known/oauth-authorization-server"
	// MetadataPathProtectedResource is the RFC 9728 discovery path
	MetadataPathProtectedResource = "/.well-known/oauth-protected-resource"
)

// Token lifecycle constants
const (
	// RefreshSkew is how long before expiry a token is treated as stale.
	// Token retrieval refreshes proactively inside this window.
	RefreshSkew = 30 * time.Second

	// DefaultHTTPTimeout bounds outbound requests when no custom
	// HTTP client is supplied.
	DefaultHTTPTimeout = 10 * time.Second
)
