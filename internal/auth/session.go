package auth

import (
	"sync"
	"time"
)

// SessionStore tracks live admin sessions by token ID. It lives in memory,
// so a restart logs every admin out.
type SessionStore struct {
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]time.Time // session ID → expiry
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{now: time.Now, sessions: make(map[string]time.Time)}
}

// WithClock replaces the time source.
func (s *SessionStore) WithClock(now func() time.Time) *SessionStore {
	s.now = now
	return s
}

// Add records a session valid until expires.
func (s *SessionStore) Add(id string, expires time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.sessions[id] = expires
}

// Active reports whether id is a known, unexpired session.
func (s *SessionStore) Active(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.sessions[id]
	if !ok {
		return false
	}
	if !s.now().Before(exp) {
		delete(s.sessions, id)
		return false
	}
	return true
}

// Revoke ends a session. Unknown IDs are ignored.
func (s *SessionStore) Revoke(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Len returns the number of unexpired sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	return len(s.sessions)
}

func (s *SessionStore) sweepLocked() {
	now := s.now()
	for id, exp := range s.sessions {
		if !now.Before(exp) {
			delete(s.sessions, id)
		}
	}
}
