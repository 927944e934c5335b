package security

// Event type constants for security audit logging.
// Using constants keeps event names consistent across the codebase.
const (
	// Authorization flow events

	// EventAuthorizationStarted is logged when an authorization flow is initiated
	EventAuthorizationStarted = "authorization_started"

	// EventStateMismatch is logged when the callback state does not match
	// the state issued for the attempt (CSRF signal)
	EventStateMismatch = "state_mismatch"

	// EventAuthorizationDenied is logged when the authorization server
	// redirects back with an error instead of a code
	EventAuthorizationDenied = "authorization_denied"

	// EventUnknownSession is logged when a callback arrives with a state
	// no pending session matches (expired, foreign, or already consumed)
	EventUnknownSession = "unknown_session"

	// Token lifecycle events

	// EventTokenIssued is logged when an access token is obtained through
	// the code exchange
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when an access token is refreshed
	EventTokenRefreshed = "token_refreshed"

	// EventTokensCleared is logged when stored tokens are cleared (logout)
	EventTokensCleared = "tokens_cleared"

	// Resource server events

	// EventAuthFailure is logged when bearer token validation fails
	EventAuthFailure = "auth_failure"

	// EventAudienceRejected is logged when a structurally valid token is
	// bound to a different resource
	EventAudienceRejected = "audience_rejected"

	// EventRateLimitExceeded is logged when a request is rejected by the
	// rate limiter
	EventRateLimitExceeded = "rate_limit_exceeded"
)
