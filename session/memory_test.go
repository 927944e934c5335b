package session

import (
	"context"
	"sync"
	"testing"
	"time"

	oauth "github.com/agentic-ai/mcp-oauth"
)

func testSession(state string) *Session {
	return newSession(&oauth.Authorization{
		URL:          "https://as.example.com/authorize",
		State:        state,
		CodeVerifier: "verifier-" + state,
	}, nil)
}

func TestMemoryStorePutGet(t *testing.T) {
	s := NewMemoryStore()
	defer s.Stop()
	ctx := context.Background()

	sess := testSession("state-1")
	if err := s.Put(ctx, sess); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, ok, err := s.Get(ctx, "state-1")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v, %v", got, ok, err)
	}
	if got.CodeVerifier != "verifier-state-1" {
		t.Errorf("CodeVerifier = %q", got.CodeVerifier)
	}

	// Absence is a normal outcome
	_, ok, err = s.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("Get(missing) error = %v", err)
	}
	if ok {
		t.Error("Get(missing) found a session")
	}
}

func TestMemoryStoreGetAndDelete(t *testing.T) {
	s := NewMemoryStore()
	defer s.Stop()
	ctx := context.Background()

	s.Put(ctx, testSession("once"))

	_, ok, _ := s.GetAndDelete(ctx, "once")
	if !ok {
		t.Fatal("first GetAndDelete did not find the session")
	}
	_, ok, _ = s.GetAndDelete(ctx, "once")
	if ok {
		t.Error("second GetAndDelete found an already-consumed session")
	}
}

func TestMemoryStoreGetAndDeleteRace(t *testing.T) {
	s := NewMemoryStore()
	defer s.Stop()
	ctx := context.Background()

	const rounds = 100
	for i := 0; i < rounds; i++ {
		s.Put(ctx, testSession("contested"))

		var wg sync.WaitGroup
		winners := make(chan struct{}, 2)
		for g := 0; g < 2; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, ok, _ := s.GetAndDelete(ctx, "contested"); ok {
					winners <- struct{}{}
				}
			}()
		}
		wg.Wait()
		close(winners)

		if got := len(winners); got != 1 {
			t.Fatalf("round %d: %d goroutines observed the session, want exactly 1", i, got)
		}
	}
}

func TestMemoryStoreOverwrite(t *testing.T) {
	s := NewMemoryStore()
	defer s.Stop()
	ctx := context.Background()

	first := testSession("dup")
	second := testSession("dup")
	second.CodeVerifier = "replacement"

	s.Put(ctx, first)
	s.Put(ctx, second)

	got, ok, _ := s.Get(ctx, "dup")
	if !ok || got.CodeVerifier != "replacement" {
		t.Errorf("collision did not overwrite silently: %+v", got)
	}
}

func TestMemoryStoreTTLEviction(t *testing.T) {
	s := NewMemoryStore(WithTTL(50 * time.Millisecond))
	defer s.Stop()
	ctx := context.Background()

	stale := testSession("stale")
	stale.CreatedAt = time.Now().Add(-time.Minute)
	fresh := testSession("fresh")

	s.Put(ctx, stale)
	s.Put(ctx, fresh)

	s.evictExpired()

	if _, ok, _ := s.Get(ctx, "stale"); ok {
		t.Error("expired session survived eviction")
	}
	if _, ok, _ := s.Get(ctx, "fresh"); !ok {
		t.Error("fresh session was evicted")
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	s := NewMemoryStore()
	defer s.Stop()
	ctx := context.Background()

	s.Put(ctx, testSession("gone"))
	if err := s.Delete(ctx, "gone"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok, _ := s.Get(ctx, "gone"); ok {
		t.Error("deleted session still present")
	}

	// Deleting an absent state is a no-op
	if err := s.Delete(ctx, "never-existed"); err != nil {
		t.Errorf("Delete(absent) error = %v", err)
	}
}
