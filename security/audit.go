package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	ClientID  string
	State     string // CSRF state correlating the attempt; hashed before logging
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"client_id", event.ClientID,
		"state_hash", hashForLogging(event.State),
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogAuthorizationStarted logs the start of an authorization flow
func (a *Auditor) LogAuthorizationStarted(clientID string) {
	a.LogEvent(Event{
		Type:     EventAuthorizationStarted,
		ClientID: clientID,
	})
}

// LogStateMismatch logs a CSRF state mismatch during code exchange
func (a *Auditor) LogStateMismatch(clientID, expectedState, gotState string) {
	a.LogEvent(Event{
		Type:     EventStateMismatch,
		ClientID: clientID,
		State:    expectedState,
		Details: map[string]any{
			"received_state_hash": hashForLogging(gotState),
		},
	})
}

// LogAuthorizationDenied logs a callback carrying a provider error
func (a *Auditor) LogAuthorizationDenied(ipAddress, errorCode string) {
	a.LogEvent(Event{
		Type:      EventAuthorizationDenied,
		IPAddress: ipAddress,
		Details: map[string]any{
			"error": errorCode,
		},
	})
}

// LogUnknownSession logs a callback whose state matched no pending session
func (a *Auditor) LogUnknownSession(ipAddress, state string) {
	a.LogEvent(Event{
		Type:      EventUnknownSession,
		State:     state,
		IPAddress: ipAddress,
	})
}

// LogTokenIssued logs a successful code exchange
func (a *Auditor) LogTokenIssued(clientID, scope string) {
	a.LogEvent(Event{
		Type:     EventTokenIssued,
		ClientID: clientID,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogTokenRefreshed logs a successful token refresh
func (a *Auditor) LogTokenRefreshed(clientID string, rotated bool) {
	a.LogEvent(Event{
		Type:     EventTokenRefreshed,
		ClientID: clientID,
		Details: map[string]any{
			"rotated": rotated,
		},
	})
}

// LogTokensCleared logs a logout
func (a *Auditor) LogTokensCleared(clientID string) {
	a.LogEvent(Event{
		Type:     EventTokensCleared,
		ClientID: clientID,
	})
}

// LogAuthFailure logs a bearer token validation failure
func (a *Auditor) LogAuthFailure(ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogAudienceRejected logs a structurally valid token bound to a
// different resource
func (a *Auditor) LogAudienceRejected(ipAddress, resource string) {
	a.LogEvent(Event{
		Type:      EventAudienceRejected,
		IPAddress: ipAddress,
		Details: map[string]any{
			"resource": resource,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
