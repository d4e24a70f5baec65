package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"modelo130/internal/logger"
)

// Store keeps sessions in memory, keyed by a random id. Idle sessions are
// dropped the next time the store is accessed.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	idle     time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

// NewStore returns a store that forgets sessions idle for longer than idle.
func NewStore(idle time.Duration) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		idle:     idle,
		now:      time.Now,
		log:      logger.WithComponent("session"),
	}
}

// Get returns a live session and marks it as used.
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.pruneLocked(now)

	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	sess.touch(now)
	return sess, true
}

// GetOrCreate returns the session for id, creating a new one under a fresh
// id when id is unknown or expired. The bool reports creation.
func (s *Store) GetOrCreate(id string) (*Session, bool) {
	if sess, ok := s.Get(id); ok {
		return sess, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess := newSession(uuid.NewString(), s.now())
	s.sessions[sess.ID] = sess
	s.log.Debug().Str("session_id", sess.ID).Int("active", len(s.sessions)).Msg("Session started")
	return sess, true
}

// End discards a session and everything in it.
func (s *Store) End(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	s.log.Debug().Str("session_id", id).Msg("Session ended")
	return true
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(s.now())
	return len(s.sessions)
}

func (s *Store) pruneLocked(now time.Time) {
	if s.idle <= 0 {
		return
	}
	for id, sess := range s.sessions {
		if sess.idleSince(now) > s.idle {
			delete(s.sessions, id)
			s.log.Debug().Str("session_id", id).Msg("Session expired")
		}
	}
}
