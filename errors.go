package oauth

import (
	"errors"
	"fmt"
	"net/http"
)

// OAuth error codes as constants
const (
	ErrorCodeInvalidRequest    = "invalid_request"
	ErrorCodeInvalidGrant      = "invalid_grant"
	ErrorCodeInvalidClient     = "invalid_client"
	ErrorCodeInvalidScope      = "invalid_scope"
	ErrorCodeInvalidToken      = "invalid_token"
	ErrorCodeInsufficientScope = "insufficient_scope"
	ErrorCodeUnauthorized      = "unauthorized"
	ErrorCodeAccessDenied      = "access_denied"
	ErrorCodeServerError       = "server_error"
	ErrorCodeRateLimitExceeded = "rate_limit_exceeded"
)

// OAuthError represents an OAuth 2.0 error response
type OAuthError struct {
	Code        string // OAuth error code (e.g., "invalid_request", "invalid_grant")
	Description string // Human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewOAuthError creates a new OAuth error
func NewOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Common OAuth errors as reusable constructors
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrInvalidToken indicates the access token is invalid or expired
	ErrInvalidToken = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidToken, desc, http.StatusUnauthorized)
	}

	// ErrInsufficientScope indicates the token does not grant access to this resource
	ErrInsufficientScope = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInsufficientScope, desc, http.StatusForbidden)
	}

	// ErrServerError indicates an internal server error occurred
	ErrServerError = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}
)

// Sentinel errors for token-lifecycle state
var (
	// ErrNoRefreshToken indicates a refresh was requested with no refresh token held
	ErrNoRefreshToken = errors.New("no refresh token available")

	// ErrNotAuthenticated indicates no access token has ever been stored
	ErrNotAuthenticated = errors.New("not authenticated: no access token stored")
)

// StateMismatchError indicates the state returned by the authorization
// server does not match the state this client issued. This is a CSRF
// signal: the exchange is aborted before any network call is made.
type StateMismatchError struct {
	Expected string
	Got      string
}

func (e *StateMismatchError) Error() string {
	return "state parameter mismatch: possible CSRF attack"
}

// RegistrationUnsupportedError indicates the authorization server does
// not advertise a registration endpoint (RFC 7591).
type RegistrationUnsupportedError struct {
	Issuer string
}

func (e *RegistrationUnsupportedError) Error() string {
	return fmt.Sprintf("authorization server %q does not support dynamic client registration", e.Issuer)
}

// RegistrationError indicates the registration endpoint rejected the request
type RegistrationError struct {
	Status int
	Body   string
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("client registration failed with status %d: %s", e.Status, e.Body)
}

// Token operation names used in TokenError.Op
const (
	TokenOpExchange = "exchange"
	TokenOpRefresh  = "refresh"
)

// TokenError carries the upstream OAuth error from a failed token
// endpoint call. Op is one of TokenOpExchange or TokenOpRefresh.
type TokenError struct {
	Op          string
	Code        string
	Description string
}

func (e *TokenError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("token %s failed: %s: %s", e.Op, e.Code, e.Description)
	}
	return fmt.Sprintf("token %s failed: %s", e.Op, e.Code)
}

// AuthorizationDeniedError indicates the authorization server redirected
// back with an error instead of a code (user denial, invalid request).
type AuthorizationDeniedError struct {
	Code        string
	Description string
}

func (e *AuthorizationDeniedError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("authorization denied: %s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("authorization denied: %s", e.Code)
}
