package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRegisterUnsupported(t *testing.T) {
	as := newTestAuthServer(t)
	as.registration = false
	c := newTestClient(t, as, nil)

	_, err := c.Register(context.Background())
	var unsupported *RegistrationUnsupportedError
	if !errors.As(err, &unsupported) {
		t.Fatalf("error = %T (%v), want *RegistrationUnsupportedError", err, err)
	}
	if unsupported.Issuer != as.URL {
		t.Errorf("issuer = %q, want %q", unsupported.Issuer, as.URL)
	}
}

func TestRegisterPublicClient(t *testing.T) {
	as := newTestAuthServer(t)
	as.registration = true
	as.registerHandler = func(w http.ResponseWriter, r *http.Request) {
		var req ClientRegistrationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode registration request: %v", err)
		}
		want := ClientRegistrationRequest{
			RedirectURIs:            []string{"http://localhost:3001/callback"},
			TokenEndpointAuthMethod: "none",
			GrantTypes:              []string{GrantTypeAuthorizationCode},
			ResponseTypes:           []string{ResponseTypeCode},
			ClientName:              "agentic-cli",
			Scope:                   "read write",
		}
		if diff := cmp.Diff(want, req); diff != "" {
			t.Errorf("registration request mismatch (-want +got):\n%s", diff)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(ClientRegistrationResponse{
			ClientID:         "dyn-123",
			ClientIDIssuedAt: 1700000000,
		})
	}

	c := newTestClient(t, as, func(cfg *Config) {
		cfg.ClientName = "agentic-cli"
	})

	reg, err := c.Register(context.Background())
	if err != nil {
		t.Fatalf("registration failed: %v", err)
	}
	if reg.ClientID != "dyn-123" {
		t.Errorf("client_id = %q, want %q", reg.ClientID, "dyn-123")
	}

	// Registration is not adopted implicitly.
	if got := c.ClientID(); got != "agentic_ai" {
		t.Errorf("ClientID = %q, want configured %q before adoption", got, "agentic_ai")
	}
	c.AdoptRegistration(reg)
	if got := c.ClientID(); got != "dyn-123" {
		t.Errorf("ClientID = %q, want adopted %q", got, "dyn-123")
	}
}

func TestRegisterConfidentialClientAuthMethod(t *testing.T) {
	as := newTestAuthServer(t)
	as.registration = true
	as.registerHandler = func(w http.ResponseWriter, r *http.Request) {
		var req ClientRegistrationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode registration request: %v", err)
		}
		if req.TokenEndpointAuthMethod != "client_secret_basic" {
			t.Errorf("auth method = %q, want client_secret_basic", req.TokenEndpointAuthMethod)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ClientRegistrationResponse{ClientID: "dyn-456", ClientSecret: "s3cret"})
	}

	c := newTestClient(t, as, func(cfg *Config) {
		cfg.ClientSecret = "configured-secret"
	})
	if _, err := c.Register(context.Background()); err != nil {
		t.Fatalf("registration failed: %v", err)
	}
}

func TestRegisterRejected(t *testing.T) {
	as := newTestAuthServer(t)
	as.registration = true
	as.registerHandler = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "invalid_redirect_uri"})
	}

	c := newTestClient(t, as, nil)
	_, err := c.Register(context.Background())
	var regErr *RegistrationError
	if !errors.As(err, &regErr) {
		t.Fatalf("error = %T (%v), want *RegistrationError", err, err)
	}
	if regErr.Status != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", regErr.Status, http.StatusBadRequest)
	}
}

func TestRegisterMissingClientID(t *testing.T) {
	as := newTestAuthServer(t)
	as.registration = true
	as.registerHandler = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ClientRegistrationResponse{})
	}

	c := newTestClient(t, as, nil)
	var regErr *RegistrationError
	if _, err := c.Register(context.Background()); !errors.As(err, &regErr) {
		t.Fatalf("error = %T (%v), want *RegistrationError", err, err)
	}
}
