package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/agentic-ai/mcp-oauth/instrumentation"
)

// Register performs dynamic client registration (RFC 7591) against the
// authorization server's registration endpoint. It fails with
// RegistrationUnsupportedError when the discovered metadata advertises
// no registration endpoint, and RegistrationError when the endpoint
// rejects the request.
//
// The returned credentials are not adopted automatically; call
// AdoptRegistration to use them, or keep the pre-configured ones.
func (c *Client) Register(ctx context.Context) (*ClientRegistrationResponse, error) {
	ctx, span := c.tracer.Start(ctx, "oauth.register_client")
	defer span.End()

	meta, err := c.cfg.Discovery.Discover(ctx, c.cfg.AuthServerURL)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	if meta.RegistrationEndpoint == "" {
		err := &RegistrationUnsupportedError{Issuer: c.cfg.AuthServerURL}
		instrumentation.RecordError(span, err)
		return nil, err
	}

	authMethod := "none"
	if c.cfg.ClientSecret != "" {
		authMethod = "client_secret_basic"
	}

	regReq := ClientRegistrationRequest{
		RedirectURIs:            []string{c.cfg.RedirectURI},
		TokenEndpointAuthMethod: authMethod,
		GrantTypes:              []string{GrantTypeAuthorizationCode},
		ResponseTypes:           []string{ResponseTypeCode},
		ClientName:              c.cfg.ClientName,
		ClientURI:               c.cfg.ClientURI,
		Scope:                   c.cfg.Scope,
	}

	payload, err := json.Marshal(regReq)
	if err != nil {
		return nil, fmt.Errorf("failed to encode registration request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, meta.RegistrationEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registration request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read registration response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		regErr := &RegistrationError{Status: resp.StatusCode, Body: string(body)}
		instrumentation.RecordError(span, regErr)
		return nil, regErr
	}

	var regResp ClientRegistrationResponse
	if err := json.Unmarshal(body, &regResp); err != nil {
		return nil, fmt.Errorf("failed to decode registration response: %w", err)
	}
	if regResp.ClientID == "" {
		return nil, &RegistrationError{Status: resp.StatusCode, Body: "registration response missing client_id"}
	}

	c.cfg.Logger.Info("dynamic client registration succeeded",
		"client_id", regResp.ClientID,
		"auth_server", c.cfg.AuthServerURL)
	c.cfg.Instrumentation.Metrics().RecordClientRegistration(ctx, c.cfg.AuthServerURL)
	instrumentation.SetSpanSuccess(span)

	return &regResp, nil
}
