package oauth

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/agentic-ai/mcp-oauth/discovery"
	"github.com/agentic-ai/mcp-oauth/instrumentation"
	"github.com/agentic-ai/mcp-oauth/security"
)

// Config holds the OAuth client configuration.
// Immutable per client instance; supplied at construction.
type Config struct {
	// AuthServerURL is the authorization server base URL. Endpoint
	// discovery appends the RFC 8414 well-known path to this value.
	AuthServerURL string

	// ClientID is the OAuth client identifier (required unless dynamic
	// registration is adopted before the first flow).
	ClientID string

	// ClientSecret is the OAuth client secret. Optional; public clients
	// leave it empty. When set, token requests authenticate with HTTP
	// Basic per RFC 6749 §2.3.1.
	ClientSecret string

	// RedirectURI is where the authorization server redirects after
	// authentication (required).
	RedirectURI string

	// Scope is the space-delimited scope string requested in the
	// authorization URL and registration request.
	Scope string

	// Resource is the canonical URI of the target resource server,
	// sent as the RFC 8707 resource indicator on every authorization
	// and token request (required).
	Resource string

	// ClientName and ClientURI describe the client in dynamic
	// registration requests. Optional.
	ClientName string
	ClientURI  string

	// RefreshSkew is how long before expiry a stored token is
	// proactively refreshed. Default: 30 seconds.
	RefreshSkew time.Duration

	// HTTPClient is a custom HTTP client for token and registration
	// requests. If not provided, a client with a 10s timeout is used.
	HTTPClient *http.Client

	// Discovery resolves authorization server metadata. If not
	// provided, a caching resolver with default settings is used.
	Discovery *discovery.Client

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger

	// Auditor records security-relevant events (optional)
	Auditor *security.Auditor

	// Instrumentation provides OpenTelemetry metrics and tracing
	// (optional, disabled when nil)
	Instrumentation *instrumentation.Instrumentation
}

// Validate checks that the required configuration fields are present
// and well-formed.
func (c *Config) Validate() error {
	if c.AuthServerURL == "" {
		return fmt.Errorf("auth server URL is required")
	}
	if _, err := url.Parse(c.AuthServerURL); err != nil {
		return fmt.Errorf("invalid auth server URL: %w", err)
	}
	if c.RedirectURI == "" {
		return fmt.Errorf("redirect URI is required")
	}
	if c.Resource == "" {
		return fmt.Errorf("resource URI is required")
	}
	return nil
}

// applyDefaults fills in unset optional fields with secure defaults
func (c *Config) applyDefaults() {
	if c.RefreshSkew <= 0 {
		c.RefreshSkew = RefreshSkew
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	if c.Discovery == nil {
		c.Discovery = discovery.NewClient(discovery.Config{
			HTTPClient: c.HTTPClient,
			Logger:     c.Logger,
		})
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
