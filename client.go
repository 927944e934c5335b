// Package oauth implements the client side of an OAuth 2.1
// authorization layer for MCP servers: authorization code flow with
// PKCE (RFC 7636), resource indicators (RFC 8707), authorization server
// metadata discovery (RFC 8414), and dynamic client registration
// (RFC 7591).
//
// A Client owns the token state for one logical client/resource pair.
// Token mutations (exchange, refresh, clear) are serialized per
// instance; the Client is safe for concurrent use.
package oauth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/agentic-ai/mcp-oauth/discovery"
	"github.com/agentic-ai/mcp-oauth/instrumentation"
	"github.com/agentic-ai/mcp-oauth/pkce"
)

// Client is the OAuth token manager. It orchestrates authorization URL
// construction, the code-for-token exchange, refresh, and token
// validity queries.
type Client struct {
	cfg    Config
	tracer trace.Tracer

	mu           sync.Mutex
	clientID     string
	clientSecret string
	accessToken  string
	refreshToken string
	expiry       time.Time

	// now is a test hook for the clock
	now func() time.Time
}

// NewClient creates a token manager from the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client config: %w", err)
	}
	cfg.applyDefaults()

	if cfg.Instrumentation == nil {
		inst, err := instrumentation.New(instrumentation.Config{Enabled: false})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize instrumentation: %w", err)
		}
		cfg.Instrumentation = inst
	}

	return &Client{
		cfg:          cfg,
		tracer:       cfg.Instrumentation.Tracer("client"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		now:          time.Now,
	}, nil
}

// ClientID returns the client identifier currently in use. It differs
// from the configured one after AdoptRegistration.
func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// AdoptRegistration replaces the client credentials with ones obtained
// through dynamic registration. The caller decides whether to adopt a
// registration result or keep pre-configured credentials.
func (c *Client) AdoptRegistration(reg *ClientRegistrationResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clientID = reg.ClientID
	c.clientSecret = reg.ClientSecret
}

// StartAuthorization resolves the authorization server metadata,
// generates a fresh PKCE pair and state token, and constructs the
// authorization URL. The returned State and CodeVerifier must be held
// by the caller until the redirect arrives.
func (c *Client) StartAuthorization(ctx context.Context) (*Authorization, error) {
	ctx, span := c.tracer.Start(ctx, "oauth.start_authorization")
	defer span.End()
	instrumentation.AddFlowAttributes(span, c.ClientID(), c.cfg.Scope, c.cfg.Resource)

	meta, err := c.cfg.Discovery.Discover(ctx, c.cfg.AuthServerURL)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	pair := pkce.Generate()
	state := pkce.State()

	authURL := c.oauth2Config(meta).AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", pair.Challenge),
		oauth2.SetAuthURLParam("code_challenge_method", pair.Method),
		oauth2.SetAuthURLParam("resource", c.cfg.Resource),
	)

	c.cfg.Auditor.LogAuthorizationStarted(c.ClientID())
	c.cfg.Logger.Debug("authorization flow started",
		"client_id", c.ClientID(),
		"authorization_endpoint", meta.AuthorizationEndpoint)
	c.cfg.Instrumentation.Metrics().RecordAuthorizationStarted(ctx, c.ClientID())
	instrumentation.SetSpanSuccess(span)

	return &Authorization{
		URL:          authURL,
		State:        state,
		CodeVerifier: pair.Verifier,
	}, nil
}

// ExchangeCode redeems an authorization code for tokens.
//
// The state comparison happens first, in constant time, before any
// network call; a mismatch aborts the attempt with StateMismatchError.
// On success the access token, refresh token (if present), and expiry
// are stored; an absent expires_in leaves the expiry zero and the token
// is treated as non-expiring.
func (c *Client) ExchangeCode(ctx context.Context, code, codeVerifier, receivedState, expectedState string) (*TokenResponse, error) {
	ctx, span := c.tracer.Start(ctx, "oauth.exchange_code")
	defer span.End()

	if subtle.ConstantTimeCompare([]byte(receivedState), []byte(expectedState)) != 1 {
		err := &StateMismatchError{Expected: expectedState, Got: receivedState}
		c.cfg.Auditor.LogStateMismatch(c.ClientID(), expectedState, receivedState)
		c.cfg.Instrumentation.Metrics().RecordStateMismatch(ctx, c.ClientID())
		c.cfg.Logger.Warn("state mismatch during code exchange", "client_id", c.ClientID())
		instrumentation.RecordError(span, err)
		return nil, err
	}

	meta, err := c.cfg.Discovery.Discover(ctx, c.cfg.AuthServerURL)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.cfg.HTTPClient)
	tok, err := c.oauth2Config(meta).Exchange(ctx, code,
		oauth2.VerifierOption(codeVerifier),
		oauth2.SetAuthURLParam("resource", c.cfg.Resource),
	)
	if err != nil {
		tokenErr := wrapTokenError(TokenOpExchange, err)
		c.cfg.Instrumentation.Metrics().RecordCodeExchange(ctx, c.ClientID(), false)
		instrumentation.RecordError(span, tokenErr)
		return nil, tokenErr
	}

	c.mu.Lock()
	c.accessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		c.refreshToken = tok.RefreshToken
	}
	if tok.ExpiresIn > 0 {
		c.expiry = c.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	} else {
		c.expiry = time.Time{}
	}
	c.mu.Unlock()

	c.cfg.Auditor.LogTokenIssued(c.ClientID(), c.cfg.Scope)
	c.cfg.Instrumentation.Metrics().RecordCodeExchange(ctx, c.ClientID(), true)
	c.cfg.Logger.Info("authorization code exchanged",
		"client_id", c.ClientID(),
		"expires_in", tok.ExpiresIn,
		"refresh_token_present", tok.RefreshToken != "")
	instrumentation.SetSpanSuccess(span)

	return &TokenResponse{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		ExpiresIn:    tok.ExpiresIn,
		RefreshToken: tok.RefreshToken,
	}, nil
}

// Refresh exchanges the stored refresh token for a new access token.
// The stored refresh token is replaced only when the server rotates it.
// On failure the previously stored tokens are left untouched.
func (c *Client) Refresh(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "oauth.refresh")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.refreshLocked(ctx); err != nil {
		instrumentation.RecordError(span, err)
		return err
	}
	instrumentation.SetSpanSuccess(span)
	return nil
}

// refreshLocked performs the refresh POST. Caller holds c.mu, which
// serializes concurrent refresh attempts so a rotated refresh token is
// never lost.
func (c *Client) refreshLocked(ctx context.Context) error {
	if c.refreshToken == "" {
		return ErrNoRefreshToken
	}

	meta, err := c.cfg.Discovery.Discover(ctx, c.cfg.AuthServerURL)
	if err != nil {
		return err
	}

	form := url.Values{
		"grant_type":    {GrantTypeRefreshToken},
		"refresh_token": {c.refreshToken},
		"client_id":     {c.clientID},
		"resource":      {c.cfg.Resource},
	}

	resp, err := c.postTokenForm(ctx, meta.TokenEndpoint, form)
	if err != nil {
		return err
	}

	rotated := resp.RefreshToken != "" && resp.RefreshToken != c.refreshToken

	c.accessToken = resp.AccessToken
	if resp.RefreshToken != "" {
		c.refreshToken = resp.RefreshToken
	}
	if resp.ExpiresIn > 0 {
		c.expiry = c.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	} else {
		c.expiry = time.Time{}
	}

	c.cfg.Auditor.LogTokenRefreshed(c.clientID, rotated)
	c.cfg.Instrumentation.Metrics().RecordTokenRefresh(ctx, c.clientID, rotated)
	c.cfg.Logger.Debug("access token refreshed",
		"client_id", c.clientID,
		"rotated", rotated)

	return nil
}

// postTokenForm sends a form-encoded request to the token endpoint and
// decodes the response, mapping OAuth error bodies to TokenError.
func (c *Client) postTokenForm(ctx context.Context, tokenEndpoint string, form url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if c.clientSecret != "" {
		req.SetBasicAuth(url.QueryEscape(c.clientID), url.QueryEscape(c.clientSecret))
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var oauthErr ErrorResponse
		if json.Unmarshal(body, &oauthErr) == nil && oauthErr.Error != "" {
			return nil, &TokenError{Op: TokenOpRefresh, Code: oauthErr.Error, Description: oauthErr.ErrorDescription}
		}
		return nil, &TokenError{Op: TokenOpRefresh, Code: fmt.Sprintf("http_%d", resp.StatusCode)}
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, &TokenError{Op: TokenOpRefresh, Code: ErrorCodeServerError, Description: "token response missing access_token"}
	}
	return &tokenResp, nil
}

// Token returns a valid access token, transparently refreshing when the
// stored one is within RefreshSkew of expiry. It fails with
// ErrNotAuthenticated when no token has ever been stored.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken == "" {
		return "", ErrNotAuthenticated
	}

	if !c.expiry.IsZero() && c.now().Add(c.cfg.RefreshSkew).After(c.expiry) {
		if err := c.refreshLocked(ctx); err != nil {
			// A token that is stale but not yet expired still works;
			// hand it out and let the caller hit a 401 if not.
			if c.now().Before(c.expiry) {
				c.cfg.Logger.Warn("proactive refresh failed, using remaining token lifetime", "error", err)
				return c.accessToken, nil
			}
			if errors.Is(err, ErrNoRefreshToken) {
				return "", ErrNotAuthenticated
			}
			return "", err
		}
	}

	return c.accessToken, nil
}

// HasValidToken reports whether an access token is stored and not
// expired. A zero expiry means the token does not expire.
func (c *Client) HasValidToken() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken == "" {
		return false
	}
	return c.expiry.IsZero() || c.expiry.After(c.now())
}

// ClearTokens resets all token state. Used for logout.
func (c *Client) ClearTokens() {
	c.mu.Lock()
	c.accessToken = ""
	c.refreshToken = ""
	c.expiry = time.Time{}
	c.mu.Unlock()

	c.cfg.Auditor.LogTokensCleared(c.ClientID())
	c.cfg.Logger.Info("stored tokens cleared", "client_id", c.ClientID())
}

// Resource returns the canonical resource URI this client binds its
// tokens to.
func (c *Client) Resource() string {
	return c.cfg.Resource
}

// oauth2Config builds the x/oauth2 endpoint configuration for the
// discovered metadata. Confidential clients authenticate with HTTP
// Basic; public clients send client_id in the form body (RFC 6749
// §3.2.1).
func (c *Client) oauth2Config(meta *discovery.Metadata) *oauth2.Config {
	c.mu.Lock()
	defer c.mu.Unlock()

	authStyle := oauth2.AuthStyleInHeader
	if c.clientSecret == "" {
		authStyle = oauth2.AuthStyleInParams
	}

	return &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		RedirectURL:  c.cfg.RedirectURI,
		Scopes:       strings.Fields(c.cfg.Scope),
		Endpoint: oauth2.Endpoint{
			AuthURL:   meta.AuthorizationEndpoint,
			TokenURL:  meta.TokenEndpoint,
			AuthStyle: authStyle,
		},
	}
}

// wrapTokenError maps x/oauth2 retrieve errors onto the TokenError
// taxonomy, preserving the upstream OAuth error code and description.
func wrapTokenError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		code := re.ErrorCode
		if code == "" && re.Response != nil {
			code = fmt.Sprintf("http_%d", re.Response.StatusCode)
		}
		return &TokenError{Op: op, Code: code, Description: re.ErrorDescription}
	}
	return fmt.Errorf("token %s request failed: %w", op, err)
}
