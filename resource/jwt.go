package resource

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/agentic-ai/mcp-oauth/security"
)

// JWTVerifierConfig holds settings for the JWT token verifier.
type JWTVerifierConfig struct {
	// Keyfunc resolves the verification key for a parsed token,
	// typically backed by the issuer's JWKS (required). Key rotation
	// and persistence are the keyfunc's concern, not this package's.
	Keyfunc jwt.Keyfunc

	// Issuer, when set, must match the token's iss claim.
	Issuer string

	// ValidMethods restricts accepted signing algorithms.
	// Default: RS256, ES256.
	ValidMethods []string

	// Leeway absorbs clock skew on temporal claims.
	// Default: security.DefaultClockSkewGracePeriod.
	Leeway time.Duration
}

// NewJWTVerifier builds a Verifier that checks JWT signatures and
// standard temporal claims. It is the in-repo reference implementation
// of the Verifier capability, not a mandated trust root.
func NewJWTVerifier(cfg JWTVerifierConfig) (Verifier, error) {
	if cfg.Keyfunc == nil {
		return nil, fmt.Errorf("keyfunc is required")
	}
	if len(cfg.ValidMethods) == 0 {
		cfg.ValidMethods = []string{"RS256", "ES256"}
	}
	if cfg.Leeway <= 0 {
		cfg.Leeway = security.DefaultClockSkewGracePeriod
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(cfg.ValidMethods),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	parser := jwt.NewParser(opts...)

	return func(ctx context.Context, token string, req *http.Request) (*TokenInfo, error) {
		var claims claimSet
		parsed, err := parser.ParseWithClaims(token, &claims, cfg.Keyfunc)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		if !parsed.Valid {
			return nil, ErrInvalidToken
		}

		info := &TokenInfo{
			Subject:  claims.Subject,
			Audience: claims.Audience,
			Issuer:   claims.Issuer,
			JWTID:    claims.ID,
			Scopes:   strings.Fields(claims.Scope),
		}
		if claims.ExpiresAt != nil {
			info.Expiration = claims.ExpiresAt.Time
		}
		if claims.IssuedAt != nil {
			info.IssuedAt = claims.IssuedAt.Time
		}
		if claims.NotBefore != nil {
			info.NotBefore = claims.NotBefore.Time
		}
		return info, nil
	}, nil
}

// claimSet is the registered claims plus the OAuth scope claim.
type claimSet struct {
	jwt.RegisteredClaims
	Scope string `json:"scope,omitempty"`
}
