// Package auth provides admin session management and token handling.
package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionTTL is how long an admin session stays valid without
// re-authentication.
const DefaultSessionTTL = 8 * time.Hour

// session is a single live admin login.
type session struct {
	username  string
	expiresAt time.Time
}

// SessionStore tracks live admin sessions in memory. Sessions do not survive
// a restart; admins simply log in again. Thread-safe via RWMutex.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]session
	ttl      time.Duration
	timeNow  func() time.Time
}

// NewSessionStore creates a session store. ttl <= 0 selects the default.
func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{
		sessions: make(map[string]session),
		ttl:      ttl,
		timeNow:  time.Now,
	}
}

// Create registers a new session and returns its ID.
func (s *SessionStore) Create(username string) string {
	id := uuid.New().String()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = session{
		username:  username,
		expiresAt: s.timeNow().Add(s.ttl),
	}
	return id
}

// IsValid reports whether the session exists and has not expired. Expired
// sessions are pruned on sight.
func (s *SessionStore) IsValid(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	if s.timeNow().After(sess.expiresAt) {
		delete(s.sessions, id)
		return false
	}
	return true
}

// Invalidate removes a session. Removing an unknown ID is a no-op, so logout
// is idempotent.
func (s *SessionStore) Invalidate(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Count returns the number of tracked sessions, including any expired ones
// not yet pruned.
func (s *SessionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
