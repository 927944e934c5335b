// Package discovery resolves OAuth 2.0 Authorization Server Metadata
// (RFC 8414) from an authorization server's well-known endpoint.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// WellKnownPath is the RFC 8414 discovery path appended to the
// authorization server base URL.
const WellKnownPath = "/.well-known/oauth-authorization-server"

// DefaultCacheTTL is how long discovered metadata is served from cache.
const DefaultCacheTTL = 5 * time.Minute

// Metadata represents OAuth 2.0 Authorization Server Metadata (RFC 8414)
type Metadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	JWKSUri                           string   `json:"jwks_uri,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported,omitempty"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
}

// FetchError indicates the well-known endpoint could not be retrieved
// or answered with a non-2xx status.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to fetch authorization server metadata from %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("failed to fetch authorization server metadata from %s: status %d", e.URL, e.Status)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError indicates the response body is not well-formed metadata.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid authorization server metadata from %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// cachedMetadata holds a discovered document with its fetch timestamp.
type cachedMetadata struct {
	metadata  *Metadata
	fetchedAt time.Time
}

// Config holds discovery client settings.
type Config struct {
	// HTTPClient to use for requests (nil uses default with 10s timeout)
	HTTPClient *http.Client

	// CacheTTL is the time-to-live for cached metadata. Zero uses
	// DefaultCacheTTL; negative disables caching so every call
	// refetches.
	CacheTTL time.Duration

	// Logger for debug/info messages (nil uses default logger)
	Logger *slog.Logger
}

// Client fetches and caches authorization server metadata.
//
// The client is safe for concurrent use from multiple goroutines.
// Callers must tolerate a fresh fetch per call: cache hits are an
// optimization, not part of the contract.
type Client struct {
	httpClient *http.Client
	cache      sync.Map // base URL -> *cachedMetadata
	cacheTTL   time.Duration
	logger     *slog.Logger
}

// NewClient creates a discovery client.
func NewClient(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		httpClient: cfg.HTTPClient,
		cacheTTL:   cfg.CacheTTL,
		logger:     cfg.Logger,
	}
}

// Discover fetches the authorization server metadata for a base URL,
// serving from cache while the TTL holds.
func (c *Client) Discover(ctx context.Context, authServerURL string) (*Metadata, error) {
	base := strings.TrimSuffix(authServerURL, "/")

	if c.cacheTTL > 0 {
		if cached, ok := c.cache.Load(base); ok {
			entry := cached.(*cachedMetadata)
			if time.Since(entry.fetchedAt) < c.cacheTTL {
				c.logger.Debug("metadata cache hit", "auth_server", base)
				return entry.metadata, nil
			}
			c.logger.Debug("metadata cache expired", "auth_server", base)
		}
	}

	metadataURL := base + WellKnownPath

	c.logger.Debug("fetching authorization server metadata", "url", metadataURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return nil, &FetchError{URL: metadataURL, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{URL: metadataURL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &FetchError{URL: metadataURL, Status: resp.StatusCode}
	}

	var meta Metadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, &ParseError{URL: metadataURL, Err: err}
	}

	if err := validateMetadata(&meta); err != nil {
		return nil, &ParseError{URL: metadataURL, Err: err}
	}

	if c.cacheTTL > 0 {
		c.cache.Store(base, &cachedMetadata{
			metadata:  &meta,
			fetchedAt: time.Now(),
		})
	}

	c.logger.Info("authorization server metadata resolved",
		"auth_server", base,
		"authorization_endpoint", meta.AuthorizationEndpoint,
		"token_endpoint", meta.TokenEndpoint,
		"registration_endpoint", meta.RegistrationEndpoint != "")

	return &meta, nil
}

// validateMetadata checks the fields every flow step depends on.
func validateMetadata(meta *Metadata) error {
	if meta.AuthorizationEndpoint == "" {
		return fmt.Errorf("authorization_endpoint is required but missing")
	}
	if meta.TokenEndpoint == "" {
		return fmt.Errorf("token_endpoint is required but missing")
	}
	return nil
}

// ClearCache drops all cached metadata, forcing a refetch on the next
// Discover call.
func (c *Client) ClearCache() {
	count := 0
	c.cache.Range(func(key, value any) bool {
		c.cache.Delete(key)
		count++
		return true
	})
	c.logger.Debug("metadata cache cleared", "entries_removed", count)
}
