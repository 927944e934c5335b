package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGenerateRequestID(t *testing.T) {
	id := GenerateRequestID()
	if !isValidRequestID(id) {
		t.Errorf("generated request ID %q fails validation", id)
	}
	if id == GenerateRequestID() {
		t.Error("consecutive request IDs collide")
	}
}

func TestIsValidRequestID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"uuid", "550e8400-e29b-41d4-a716-446655440000", true},
		{"alphanumeric", "req_123-abc", true},
		{"empty", "", false},
		{"crlf injection", "abc\r\nX-Evil: 1", false},
		{"too long", string(make([]byte, 200)), false},
		{"spaces", "abc def", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isValidRequestID(tt.id); got != tt.want {
				t.Errorf("isValidRequestID(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	t.Run("generates when missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

		if seen == "" {
			t.Error("no request ID in context")
		}
		if got := rec.Header().Get(RequestIDHeader); got != seen {
			t.Errorf("response header %q != context ID %q", got, seen)
		}
	})

	t.Run("preserves valid upstream ID", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set(RequestIDHeader, "upstream-id-42")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if seen != "upstream-id-42" {
			t.Errorf("context ID = %q, want upstream-id-42", seen)
		}
	})

	t.Run("replaces invalid upstream ID", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set(RequestIDHeader, "bad\r\nid")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if seen == "bad\r\nid" || seen == "" {
			t.Errorf("invalid upstream ID not replaced, got %q", seen)
		}
	})
}
