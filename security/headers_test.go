package security

import (
	"net/http/httptest"
	"testing"
)

func TestSetSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSecurityHeaders(rec, "http://localhost:3001")

	want := map[string]string{
		"X-Frame-Options":        "DENY",
		"X-Content-Type-Options": "nosniff",
		"Referrer-Policy":        "no-referrer",
		"Cache-Control":          "no-store, no-cache, must-revalidate, private",
	}
	for header, value := range want {
		if got := rec.Header().Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}

	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS set for non-HTTPS server URL")
	}
}

func TestSetSecurityHeadersHSTS(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSecurityHeaders(rec, "https://example.com")

	if rec.Header().Get("Strict-Transport-Security") == "" {
		t.Error("HSTS missing for HTTPS server URL")
	}
}
