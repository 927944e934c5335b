package session

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	oauth "github.com/agentic-ai/mcp-oauth"
	"github.com/agentic-ai/mcp-oauth/security"
)

// fakeFlow is a Flow double recording exchange invocations.
type fakeFlow struct {
	mu          sync.Mutex
	auth        *oauth.Authorization
	exchangeErr error
	exchanges   []string // codes seen
}

func (f *fakeFlow) StartAuthorization(ctx context.Context) (*oauth.Authorization, error) {
	return f.auth, nil
}

func (f *fakeFlow) ExchangeCode(ctx context.Context, code, codeVerifier, receivedState, expectedState string) (*oauth.TokenResponse, error) {
	f.mu.Lock()
	f.exchanges = append(f.exchanges, code)
	f.mu.Unlock()
	if receivedState != expectedState {
		return nil, &oauth.StateMismatchError{Expected: expectedState, Got: receivedState}
	}
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return &oauth.TokenResponse{AccessToken: "tok"}, nil
}

func (f *fakeFlow) exchangeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.exchanges)
}

func newTestCorrelator(t *testing.T) (*Correlator, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	t.Cleanup(store.Stop)

	c, err := NewCorrelator(store)
	if err != nil {
		t.Fatalf("NewCorrelator() error = %v", err)
	}
	return c, store
}

func TestBeginStoresSession(t *testing.T) {
	c, store := newTestCorrelator(t)
	flow := &fakeFlow{auth: &oauth.Authorization{URL: "u", State: "s1", CodeVerifier: "v1"}}

	auth, sess, err := c.Begin(context.Background(), flow)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if auth.State != "s1" {
		t.Errorf("State = %q, want s1", auth.State)
	}
	if sess.CodeVerifier != "v1" {
		t.Errorf("session CodeVerifier = %q, want v1", sess.CodeVerifier)
	}

	stored, ok, _ := store.Get(context.Background(), "s1")
	if !ok || stored != sess {
		t.Error("session not stored under its state")
	}
}

func TestHandleCallbackSuccess(t *testing.T) {
	c, store := newTestCorrelator(t)
	flow := &fakeFlow{auth: &oauth.Authorization{State: "s1", CodeVerifier: "v1"}}

	_, _, err := c.Begin(context.Background(), flow)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	err = c.HandleCallback(context.Background(), Callback{Code: "abc123", State: "s1"})
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
	if flow.exchangeCount() != 1 {
		t.Errorf("exchanges = %d, want 1", flow.exchangeCount())
	}

	// Session is single-use
	if _, ok, _ := store.Get(context.Background(), "s1"); ok {
		t.Error("session survived a successful callback")
	}
}

func TestHandleCallbackSingleUse(t *testing.T) {
	c, _ := newTestCorrelator(t)
	flow := &fakeFlow{auth: &oauth.Authorization{State: "s1", CodeVerifier: "v1"}}
	c.Begin(context.Background(), flow)

	if err := c.HandleCallback(context.Background(), Callback{Code: "abc123", State: "s1"}); err != nil {
		t.Fatalf("first HandleCallback() error = %v", err)
	}

	err := c.HandleCallback(context.Background(), Callback{Code: "abc123", State: "s1"})
	if !errors.Is(err, ErrUnknownSession) {
		t.Errorf("second HandleCallback() error = %v, want ErrUnknownSession", err)
	}
	if flow.exchangeCount() != 1 {
		t.Errorf("exchanges = %d, want 1 (replay must not reach the client)", flow.exchangeCount())
	}
}

func TestHandleCallbackDeletesSessionOnFailedExchange(t *testing.T) {
	c, store := newTestCorrelator(t)
	flow := &fakeFlow{
		auth:        &oauth.Authorization{State: "s1", CodeVerifier: "v1"},
		exchangeErr: errors.New("upstream rejected the code"),
	}
	c.Begin(context.Background(), flow)

	if err := c.HandleCallback(context.Background(), Callback{Code: "bad", State: "s1"}); err == nil {
		t.Fatal("HandleCallback() succeeded with failing exchange")
	}

	// Deleted regardless of outcome
	if _, ok, _ := store.Get(context.Background(), "s1"); ok {
		t.Error("session survived a failed exchange")
	}
}

func TestHandleCallbackProviderError(t *testing.T) {
	c, store := newTestCorrelator(t)
	flow := &fakeFlow{auth: &oauth.Authorization{State: "s1", CodeVerifier: "v1"}}
	c.Begin(context.Background(), flow)

	err := c.HandleCallback(context.Background(), Callback{
		Error:            "access_denied",
		ErrorDescription: "user said no",
		State:            "s1",
	})

	var denied *oauth.AuthorizationDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("error = %v, want *AuthorizationDeniedError", err)
	}
	if denied.Code != "access_denied" {
		t.Errorf("Code = %q, want access_denied", denied.Code)
	}

	// No session lookup on provider error: session stays pending
	if _, ok, _ := store.Get(context.Background(), "s1"); !ok {
		t.Error("provider error consumed the session")
	}
	if flow.exchangeCount() != 0 {
		t.Error("provider error reached the exchange")
	}
}

func TestHandleCallbackMalformed(t *testing.T) {
	c, _ := newTestCorrelator(t)

	tests := []struct {
		name string
		cb   Callback
	}{
		{"missing code", Callback{State: "s1"}},
		{"missing state", Callback{Code: "abc"}},
		{"missing both", Callback{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.HandleCallback(context.Background(), tt.cb); !errors.Is(err, ErrMalformedCallback) {
				t.Errorf("error = %v, want ErrMalformedCallback", err)
			}
		})
	}
}

func TestHandleCallbackUnknownState(t *testing.T) {
	c, _ := newTestCorrelator(t)

	err := c.HandleCallback(context.Background(), Callback{Code: "abc", State: "never-stored"})
	if !errors.Is(err, ErrUnknownSession) {
		t.Errorf("error = %v, want ErrUnknownSession", err)
	}
}

func TestHandleCallbackAuditsClientIP(t *testing.T) {
	var buf bytes.Buffer
	auditor := security.NewAuditor(slog.New(slog.NewTextHandler(&buf, nil)), true)

	store := NewMemoryStore()
	t.Cleanup(store.Stop)
	c, err := NewCorrelator(store, WithAuditor(auditor))
	if err != nil {
		t.Fatalf("NewCorrelator() error = %v", err)
	}

	_ = c.HandleCallback(context.Background(), Callback{
		Error:    "access_denied",
		ClientIP: "203.0.113.9",
	})
	if out := buf.String(); !strings.Contains(out, "203.0.113.9") {
		t.Errorf("denied-callback audit event missing client IP: %s", out)
	}

	buf.Reset()
	_ = c.HandleCallback(context.Background(), Callback{
		Code:     "code",
		State:    "no-such-state",
		ClientIP: "203.0.113.9",
	})
	if out := buf.String(); !strings.Contains(out, "203.0.113.9") {
		t.Errorf("unknown-session audit event missing client IP: %s", out)
	}
}

func TestWaitDeliversOutcome(t *testing.T) {
	c, _ := newTestCorrelator(t)
	flow := &fakeFlow{auth: &oauth.Authorization{State: "s1", CodeVerifier: "v1"}}

	_, sess, err := c.Begin(context.Background(), flow)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.HandleCallback(context.Background(), Callback{Code: "abc", State: "s1"})
	}()

	if err := c.Wait(context.Background(), sess, time.Second); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
}

func TestWaitTimeout(t *testing.T) {
	c, store := newTestCorrelator(t)
	flow := &fakeFlow{auth: &oauth.Authorization{State: "s1", CodeVerifier: "v1"}}

	_, sess, _ := c.Begin(context.Background(), flow)

	err := c.Wait(context.Background(), sess, 20*time.Millisecond)
	if !errors.Is(err, ErrAuthorizationTimeout) {
		t.Fatalf("Wait() error = %v, want ErrAuthorizationTimeout", err)
	}

	// Timeout removes the pending session so a late callback cannot land
	if _, ok, _ := store.Get(context.Background(), "s1"); ok {
		t.Error("session survived a wait timeout")
	}
}
