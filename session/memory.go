package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agentic-ai/mcp-oauth/instrumentation"
)

const (
	// DefaultTTL is how long an unredeemed session survives before the
	// janitor evicts it. Authorization is human-interaction bound, so
	// anything older than this is abandoned.
	DefaultTTL = 10 * time.Minute

	// defaultCleanupInterval is how often the janitor scans for expired
	// sessions.
	defaultCleanupInterval = time.Minute
)

// MemoryStore is an in-memory Store suitable for single-process
// deployments, which is the only arrangement in-memory correlation
// supports: the callback receiver and the OAuth client must share one
// address space.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	ttl             time.Duration
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once

	logger          *slog.Logger
	instrumentation *instrumentation.Instrumentation
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithTTL sets the eviction age for unredeemed sessions.
func WithTTL(ttl time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithCleanupInterval sets how often the janitor runs.
func WithCleanupInterval(interval time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		if interval > 0 {
			s.cleanupInterval = interval
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) MemoryStoreOption {
	return func(s *MemoryStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithInstrumentation attaches metrics to the store.
func WithInstrumentation(inst *instrumentation.Instrumentation) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.instrumentation = inst
	}
}

// NewMemoryStore creates an in-memory session store and starts its
// eviction janitor. Call Stop when done.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		sessions:        make(map[string]*Session),
		ttl:             DefaultTTL,
		cleanupInterval: defaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.instrumentation != nil {
		if err := s.instrumentation.RegisterSessionCountCallback(s.count); err != nil {
			s.logger.Warn("failed to register session count gauge", "error", err)
		}
	}

	go s.cleanupLoop()

	return s
}

var _ Store = (*MemoryStore)(nil)

// Put inserts a session keyed by its state.
func (s *MemoryStore) Put(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.State] = sess
	return nil
}

// Get looks up a session without consuming it.
func (s *MemoryStore) Get(ctx context.Context, state string) (*Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[state]
	return sess, ok, nil
}

// GetAndDelete atomically looks up and removes a session. When two
// callbacks race for the same state, exactly one gets the session.
func (s *MemoryStore) GetAndDelete(ctx context.Context, state string) (*Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[state]
	if ok {
		delete(s.sessions, state)
	}
	return sess, ok, nil
}

// Delete removes a session.
func (s *MemoryStore) Delete(ctx context.Context, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, state)
	return nil
}

// count reports the number of pending sessions for the metrics gauge.
func (s *MemoryStore) count() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.sessions))
}

// cleanupLoop evicts sessions past their TTL until Stop is called.
func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.stopCleanup:
			return
		}
	}
}

// evictExpired removes all sessions older than the TTL.
func (s *MemoryStore) evictExpired() {
	cutoff := time.Now().Add(-s.ttl)

	s.mu.Lock()
	var evicted int64
	for state, sess := range s.sessions {
		if sess.CreatedAt.Before(cutoff) {
			delete(s.sessions, state)
			evicted++
		}
	}
	remaining := len(s.sessions)
	s.mu.Unlock()

	if evicted > 0 {
		s.logger.Debug("evicted abandoned authorization sessions",
			"evicted", evicted,
			"remaining", remaining)
		if s.instrumentation != nil {
			s.instrumentation.Metrics().RecordSessionEvicted(context.Background(), evicted)
		}
	}
}

// Stop terminates the eviction janitor. Safe to call more than once.
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}
