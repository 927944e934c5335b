// Package pkce generates the random values an authorization attempt
// needs: a PKCE verifier/challenge pair (RFC 7636) and a CSRF state
// token. All values come from a cryptographically secure source; an
// entropy failure panics, matching crypto/rand behavior.
package pkce

import (
	"crypto/rand"
	"encoding/base64"

	"golang.org/x/oauth2"
)

// Method is the only challenge transformation this package produces.
// Plain-text challenges are off the table in OAuth 2.1.
const Method = "S256"

// stateBytes is the entropy of a state token (128 bits minimum; we use 256).
const stateBytes = 32

// Pair is a PKCE verifier/challenge pair for one authorization attempt.
// The verifier is secret until token-exchange time; the challenge is
// sent in the authorization URL.
type Pair struct {
	Verifier  string
	Challenge string
	Method    string
}

// Generate produces a fresh PKCE pair. The verifier carries at least
// 256 bits of entropy and the challenge is the base64url-encoded
// SHA-256 digest of the verifier.
func Generate() Pair {
	v := oauth2.GenerateVerifier()
	return Pair{
		Verifier:  v,
		Challenge: oauth2.S256ChallengeFromVerifier(v),
		Method:    Method,
	}
}

// State produces a URL-safe CSRF token bound to one authorization
// attempt.
func State() string {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		panic("pkce: entropy source unavailable: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
