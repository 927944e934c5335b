package discovery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const metadataBody = `{
	"issuer": "https://as.example.com",
	"authorization_endpoint": "https://as.example.com/authorize",
	"token_endpoint": "https://as.example.com/token",
	"registration_endpoint": "https://as.example.com/register",
	"response_types_supported": ["code"],
	"grant_types_supported": ["authorization_code", "refresh_token"],
	"code_challenge_methods_supported": ["S256"]
}`

func TestDiscover(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != WellKnownPath {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(metadataBody))
	}))
	defer srv.Close()

	c := NewClient(Config{})
	meta, err := c.Discover(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	want := &Metadata{
		Issuer:                        "https://as.example.com",
		AuthorizationEndpoint:         "https://as.example.com/authorize",
		TokenEndpoint:                 "https://as.example.com/token",
		RegistrationEndpoint:          "https://as.example.com/register",
		ResponseTypesSupported:        []string{"code"},
		GrantTypesSupported:           []string{"authorization_code", "refresh_token"},
		CodeChallengeMethodsSupported: []string{"S256"},
	}
	if diff := cmp.Diff(want, meta); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}
}

func TestDiscoverTrailingSlash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != WellKnownPath {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(metadataBody))
	}))
	defer srv.Close()

	c := NewClient(Config{})
	if _, err := c.Discover(context.Background(), srv.URL+"/"); err != nil {
		t.Fatalf("Discover() with trailing slash error = %v", err)
	}
}

func TestDiscoverFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Config{})
	_, err := c.Discover(context.Background(), srv.URL)

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Discover() error = %v, want *FetchError", err)
	}
	if fetchErr.Status != http.StatusInternalServerError {
		t.Errorf("Status = %d, want %d", fetchErr.Status, http.StatusInternalServerError)
	}
}

func TestDiscoverParseError(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not JSON", "<html>not metadata</html>"},
		{"missing authorization_endpoint", `{"issuer":"x","token_endpoint":"https://x/token"}`},
		{"missing token_endpoint", `{"issuer":"x","authorization_endpoint":"https://x/authorize"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient(Config{})
			_, err := c.Discover(context.Background(), srv.URL)

			var parseErr *ParseError
			if !errors.As(err, &parseErr) {
				t.Fatalf("Discover() error = %v, want *ParseError", err)
			}
		})
	}
}

func TestDiscoverCaching(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(metadataBody))
	}))
	defer srv.Close()

	c := NewClient(Config{CacheTTL: time.Hour})
	for i := 0; i < 3; i++ {
		if _, err := c.Discover(context.Background(), srv.URL); err != nil {
			t.Fatalf("Discover() #%d error = %v", i, err)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("upstream calls = %d, want 1 (cache hit expected)", got)
	}

	c.ClearCache()
	if _, err := c.Discover(context.Background(), srv.URL); err != nil {
		t.Fatalf("Discover() after ClearCache error = %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("upstream calls = %d, want 2 after cache clear", got)
	}
}

func TestDiscoverCachingDisabled(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(metadataBody))
	}))
	defer srv.Close()

	c := NewClient(Config{CacheTTL: -1})
	for i := 0; i < 2; i++ {
		if _, err := c.Discover(context.Background(), srv.URL); err != nil {
			t.Fatalf("Discover() #%d error = %v", i, err)
		}
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("upstream calls = %d, want 2 with caching disabled", got)
	}
}
