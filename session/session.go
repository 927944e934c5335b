// Package session correlates out-of-band authorization redirects with
// the in-memory OAuth client flow that initiated them. The CSRF state
// value doubles as the correlation key: a session is stored when a flow
// starts and consumed exactly once when the matching callback arrives.
package session

import (
	"context"
	"errors"
	"time"

	oauth "github.com/agentic-ai/mcp-oauth"
)

// Flow is the slice of the OAuth client a session needs: starting an
// authorization attempt and redeeming its code. *oauth.Client
// implements it.
type Flow interface {
	StartAuthorization(ctx context.Context) (*oauth.Authorization, error)
	ExchangeCode(ctx context.Context, code, codeVerifier, receivedState, expectedState string) (*oauth.TokenResponse, error)
}

// Session is one pending authorization attempt awaiting its callback.
// Lifetime is human-interaction bound (seconds to minutes); sessions
// are in-memory only and lost on process restart.
type Session struct {
	// State is the CSRF token and correlation key
	State string

	// CodeVerifier is the PKCE verifier for this attempt
	CodeVerifier string

	// Client is the flow that owns this attempt
	Client Flow

	// CreatedAt is when the flow started; the store evicts sessions
	// past their TTL from this instant
	CreatedAt time.Time

	// result delivers the exchange outcome to the goroutine waiting on
	// the flow. Buffered so callback handling never blocks.
	result chan error
}

// newSession builds a session from a started authorization.
func newSession(auth *oauth.Authorization, client Flow) *Session {
	return &Session{
		State:        auth.State,
		CodeVerifier: auth.CodeVerifier,
		Client:       client,
		CreatedAt:    time.Now(),
		result:       make(chan error, 1),
	}
}

// deliver hands the exchange outcome to a waiting flow, if any.
func (s *Session) deliver(err error) {
	if s.result == nil {
		return
	}
	select {
	case s.result <- err:
	default:
	}
}

// Store persists pending sessions keyed by state. Absence is a normal
// outcome, not an error: a missing state may be expired, foreign, or
// already consumed.
//
// Implementations must support concurrent insert/lookup/delete, and
// GetAndDelete must be atomic: when two callbacks race for the same
// state, exactly one observes the session.
type Store interface {
	// Put inserts a session keyed by its state, silently overwriting
	// on collision.
	Put(ctx context.Context, sess *Session) error

	// Get looks up a session without consuming it.
	Get(ctx context.Context, state string) (*Session, bool, error)

	// GetAndDelete atomically looks up and removes a session.
	GetAndDelete(ctx context.Context, state string) (*Session, bool, error)

	// Delete removes a session. Deleting an absent state is a no-op.
	Delete(ctx context.Context, state string) error
}

// Callback carries the query parameters of an authorization redirect
// plus the connecting client's IP for audit attribution.
type Callback struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
	ClientIP         string
}

// Errors surfaced by callback handling.
var (
	// ErrMalformedCallback indicates a redirect missing code or state
	ErrMalformedCallback = errors.New("malformed callback: missing code or state parameter")

	// ErrUnknownSession indicates a state no pending session matches.
	// Root causes: the session expired or was already consumed, or the
	// callback reached a different process than the one holding it.
	ErrUnknownSession = errors.New("unknown session: authorization state not found or already used")

	// ErrAuthorizationTimeout indicates the user did not complete the
	// browser step within the configured wait window
	ErrAuthorizationTimeout = errors.New("authorization timed out waiting for callback")
)
