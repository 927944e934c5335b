package pkce

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"
)

func TestGenerate(t *testing.T) {
	p := Generate()

	if p.Method != "S256" {
		t.Errorf("Method = %q, want S256", p.Method)
	}
	if len(p.Verifier) < 43 {
		t.Errorf("verifier length %d below RFC 7636 minimum of 43", len(p.Verifier))
	}

	sum := sha256.Sum256([]byte(p.Verifier))
	want := base64.RawURLEncoding.EncodeToString(sum[:])
	if p.Challenge != want {
		t.Errorf("Challenge = %q, want base64url(SHA256(verifier)) = %q", p.Challenge, want)
	}
}

func TestGenerateUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		p := Generate()
		if seen[p.Verifier] {
			t.Fatalf("duplicate verifier after %d iterations", i)
		}
		seen[p.Verifier] = true
	}
}

func TestStateUniqueness(t *testing.T) {
	const trials = 10000
	seen := make(map[string]bool, trials)
	for i := 0; i < trials; i++ {
		s := State()
		if s == "" {
			t.Fatal("empty state token")
		}
		if seen[s] {
			t.Fatalf("state collision after %d trials", i)
		}
		seen[s] = true
	}
}

func TestStateURLSafe(t *testing.T) {
	s := State()
	if _, err := base64.RawURLEncoding.DecodeString(s); err != nil {
		t.Errorf("state %q is not base64url: %v", s, err)
	}
	if len(s) < 22 {
		t.Errorf("state length %d carries fewer than 128 bits of entropy", len(s))
	}
}
