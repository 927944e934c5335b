package resource

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	oauth "github.com/agentic-ai/mcp-oauth"
	"github.com/agentic-ai/mcp-oauth/instrumentation"
	"github.com/agentic-ai/mcp-oauth/security"
)

// HandlerConfig holds resource-server settings.
type HandlerConfig struct {
	// Resource is the canonical URI of this resource server (required).
	// Tokens whose audience does not include it are rejected.
	Resource string

	// Verifier validates bearer tokens (required)
	Verifier Verifier

	// AuthorizationServers lists the issuers trusted by this resource,
	// published through the protected-resource metadata endpoint.
	AuthorizationServers []string

	// ScopesSupported lists the scopes this resource understands.
	ScopesSupported []string

	// RequiredScopes, when set, must all be granted by the token.
	// Missing scopes answer 403 insufficient_scope.
	RequiredScopes []string

	// RateLimit is requests per second allowed per client IP.
	// Zero disables limiting.
	RateLimit int

	// RateBurst is the burst size per client IP.
	RateBurst int

	// TrustProxy enables X-Forwarded-For / X-Real-IP parsing.
	TrustProxy bool

	// Logger for structured logging (optional)
	Logger *slog.Logger

	// Auditor records security-relevant events (optional)
	Auditor *security.Auditor

	// Instrumentation provides metrics and tracing (optional)
	Instrumentation *instrumentation.Instrumentation
}

// Handler guards MCP endpoints with bearer token validation and serves
// the protected-resource metadata document.
type Handler struct {
	cfg     HandlerConfig
	limiter *security.RateLimiter
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewHandler creates a resource-server handler.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Resource == "" {
		return nil, fmt.Errorf("resource URI is required")
	}
	if cfg.Verifier == nil {
		return nil, fmt.Errorf("token verifier is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Instrumentation == nil {
		inst, err := instrumentation.New(instrumentation.Config{Enabled: false})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize instrumentation: %w", err)
		}
		cfg.Instrumentation = inst
	}

	h := &Handler{
		cfg:    cfg,
		logger: cfg.Logger,
		tracer: cfg.Instrumentation.Tracer("resource"),
	}
	if cfg.RateLimit > 0 {
		h.limiter = security.NewRateLimiter(cfg.RateLimit, cfg.RateBurst, cfg.Logger)
	}
	return h, nil
}

// Close stops the handler's rate limiter.
func (h *Handler) Close() {
	if h.limiter != nil {
		h.limiter.Stop()
	}
}

// RequireToken wraps an MCP handler with bearer token validation.
//
// Missing or malformed Authorization headers answer 401 unauthorized;
// failed verification answers 401 invalid_token; an audience or scope
// mismatch answers 403 insufficient_scope. Token faults never surface
// as 500: they are client-correctable conditions. On success the
// validated TokenInfo is stored in the request context.
func (h *Handler) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		ctx, span := h.tracer.Start(r.Context(), "resource.require_token")
		defer span.End()

		clientIP := security.GetClientIP(r, h.cfg.TrustProxy)
		if h.limiter != nil && !h.limiter.Allow(clientIP) {
			h.cfg.Auditor.LogRateLimitExceeded(clientIP)
			h.metrics().RecordRateLimitExceeded(ctx, r.URL.Path)
			h.writeError(w, oauth.ErrorCodeRateLimitExceeded, "too many requests", http.StatusTooManyRequests)
			h.recordRequest(ctx, r, http.StatusTooManyRequests, startTime)
			return
		}

		token, ok := extractBearerToken(r)
		if !ok {
			h.rejectUnauthorized(ctx, w, r, clientIP, oauth.ErrorCodeUnauthorized,
				"missing or malformed Authorization header", startTime)
			return
		}

		info, err := h.cfg.Verifier(ctx, token, r)
		if err != nil {
			h.logger.Debug("token verification failed", "error", err, "ip", clientIP)
			h.rejectUnauthorized(ctx, w, r, clientIP, oauth.ErrorCodeInvalidToken,
				"token verification failed", startTime)
			return
		}
		if !info.Expiration.IsZero() && security.IsTokenExpired(info.Expiration) {
			h.rejectUnauthorized(ctx, w, r, clientIP, oauth.ErrorCodeInvalidToken,
				"token expired", startTime)
			return
		}

		if !info.HasAudience(h.cfg.Resource) {
			audErr := &AudienceError{Audience: info.Audience, Resource: h.cfg.Resource}
			h.cfg.Auditor.LogAudienceRejected(clientIP, h.cfg.Resource)
			h.metrics().RecordValidationFailed(ctx, "audience_mismatch")
			h.logger.Warn("token bound to different resource",
				"resource", h.cfg.Resource,
				"request_id", security.GetRequestID(ctx))
			instrumentation.RecordError(span, audErr)
			h.writeError(w, oauth.ErrorCodeInsufficientScope, audErr.Error(), http.StatusForbidden)
			h.recordRequest(ctx, r, http.StatusForbidden, startTime)
			return
		}

		for _, required := range h.cfg.RequiredScopes {
			if !info.HasScope(required) {
				h.cfg.Auditor.LogAuthFailure(clientIP, "missing scope "+required)
				h.metrics().RecordValidationFailed(ctx, "missing_scope")
				h.writeError(w, oauth.ErrorCodeInsufficientScope,
					fmt.Sprintf("token missing required scope %q", required), http.StatusForbidden)
				h.recordRequest(ctx, r, http.StatusForbidden, startTime)
				return
			}
		}

		instrumentation.SetSpanSuccess(span)
		next.ServeHTTP(w, r.WithContext(withTokenInfo(ctx, info)))
	})
}

// rejectUnauthorized answers 401 with the mandated challenge header.
func (h *Handler) rejectUnauthorized(ctx context.Context, w http.ResponseWriter, r *http.Request, clientIP, code, description string, startTime time.Time) {
	h.cfg.Auditor.LogAuthFailure(clientIP, code)
	h.metrics().RecordValidationFailed(ctx, code)

	w.Header().Set("WWW-Authenticate",
		fmt.Sprintf("Bearer realm=%q, resource=%q", h.cfg.Resource, h.cfg.Resource))
	h.writeError(w, code, description, http.StatusUnauthorized)
	h.recordRequest(ctx, r, http.StatusUnauthorized, startTime)
}

// extractBearerToken pulls the token out of the Authorization header.
func extractBearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(auth, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// ServeMetadata serves the RFC 9728 protected-resource metadata
// document describing this resource server.
func (h *Handler) ServeMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	security.SetSecurityHeaders(w, h.cfg.Resource)
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(h.Metadata()); err != nil {
		h.logger.Error("failed to encode resource metadata", "error", err)
	}
}

// Metadata returns the protected-resource metadata document, built
// read-only from configuration.
func (h *Handler) Metadata() *oauth.ProtectedResourceMetadata {
	return &oauth.ProtectedResourceMetadata{
		Resource:               h.cfg.Resource,
		AuthorizationServers:   h.cfg.AuthorizationServers,
		ScopesSupported:        h.cfg.ScopesSupported,
		BearerMethodsSupported: []string{"header"},
	}
}

func (h *Handler) metrics() *instrumentation.Metrics {
	return h.cfg.Instrumentation.Metrics()
}

func (h *Handler) recordRequest(ctx context.Context, r *http.Request, status int, startTime time.Time) {
	h.metrics().RecordHTTPRequest(ctx, r.Method, r.URL.Path, status,
		float64(time.Since(startTime).Milliseconds()))
}

// writeError writes a structured OAuth error body.
func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(oauth.ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	}); err != nil {
		h.logger.Error("failed to write error response", "error", err)
	}
}
