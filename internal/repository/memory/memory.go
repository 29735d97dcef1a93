// Package memory is an in-process repository.SignupRepository for tests.
// The server always stores signups in SQLite or Postgres.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/sakif/waitlist/internal/apperror"
	"github.com/sakif/waitlist/internal/model"
	"github.com/sakif/waitlist/internal/repository"
)

var _ repository.SignupRepository = (*Store)(nil)

// Store keeps signups in insertion order with a hash index for dedup.
type Store struct {
	now func() time.Time

	mu      sync.RWMutex
	signups []model.Signup
	byHash  map[string]struct{}
}

// New creates an empty Store.
func New() *Store {
	return &Store{now: time.Now, byHash: make(map[string]struct{})}
}

// WithClock replaces the time source used for CreatedAt.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Exists(_ context.Context, emailHash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byHash[emailHash]
	return ok, nil
}

func (s *Store) Append(_ context.Context, signup *model.Signup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byHash[signup.EmailHash]; ok {
		return apperror.Conflict("signup", signup.EmailHash)
	}
	signup.Position = len(s.signups) + 1
	signup.CreatedAt = s.now()
	s.signups = append(s.signups, *signup)
	s.byHash[signup.EmailHash] = struct{}{}
	return nil
}

func (s *Store) All(_ context.Context) ([]model.Signup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Signup, len(s.signups))
	copy(out, s.signups)
	return out, nil
}

func (s *Store) Recent(_ context.Context, n int) ([]model.Signup, error) {
	n = repository.ClampRecent(n)

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Signup, 0, n)
	for i := len(s.signups) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.signups[i])
	}
	return out, nil
}

func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.signups), nil
}

func (s *Store) CountSince(_ context.Context, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, su := range s.signups {
		if !su.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}
