package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vinodismyname/xlsxctx/config"
)

// Store is the in-memory session registry. Sessions idle longer than the TTL
// are evicted by the cleanup loop.
type Store struct {
	mu           sync.RWMutex
	sessions     map[string]*Session
	ttl          time.Duration
	cleanupEvery time.Duration
	clock        func() time.Time
	logger       zerolog.Logger
	stopCh       chan struct{}
	stopOnce     sync.Once
	cleanupWG    sync.WaitGroup
}

// Option customizes a Store.
type Option func(*Store)

// WithClock injects the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore builds a Store. Non-positive durations use config defaults.
func NewStore(ttl, cleanupEvery time.Duration, opts ...Option) *Store {
	if ttl <= 0 {
		ttl = config.DefaultSessionIdleTTL
	}
	if cleanupEvery <= 0 {
		cleanupEvery = config.DefaultSessionCleanupPeriod
	}
	s := &Store{
		sessions:     make(map[string]*Session),
		ttl:          ttl,
		cleanupEvery: cleanupEvery,
		clock:        time.Now,
		logger:       zerolog.Nop(),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the eviction loop.
func (s *Store) Start() {
	s.cleanupWG.Add(1)
	ticker := time.NewTicker(s.cleanupEvery)
	go func() {
		defer s.cleanupWG.Done()
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				if n := s.EvictIdle(); n > 0 {
					s.logger.Info().Int("evicted", n).Msg("idle sessions evicted")
				}
			}
		}
	}()
}

// Close stops the eviction loop.
func (s *Store) Close(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	done := make(chan struct{})
	go func() { s.cleanupWG.Wait(); close(done) }()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Create starts a new session with a random ID.
func (s *Store) Create() *Session {
	sess := newSession(uuid.NewString(), s.clock)
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	s.logger.Info().Str("session_id", sess.ID).Msg("session created")
	return sess
}

// Get returns the session and marks it active.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess.touch()
	return sess, nil
}

// GetOrCreate returns the session for id, creating a new one when id is
// empty. Unknown non-empty IDs are an error.
func (s *Store) GetOrCreate(id string) (*Session, bool, error) {
	if id == "" {
		return s.Create(), true, nil
	}
	sess, err := s.Get(id)
	return sess, false, err
}

// End removes a session.
func (s *Store) End(id string) error {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.logger.Info().Str("session_id", id).Msg("session ended")
	return nil
}

// List returns the status of every session, oldest first.
func (s *Store) List() []Status {
	s.mu.RLock()
	all := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.mu.RUnlock()

	out := make([]Status, len(all))
	for i, sess := range all {
		out[i] = sess.Status()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// EvictIdle removes sessions whose last activity is older than the TTL and
// returns how many were removed.
func (s *Store) EvictIdle() int {
	cutoff := s.clock().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if sess.LastActivity().Before(cutoff) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}
