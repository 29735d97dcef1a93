package auth

import (
	"testing"
	"time"
)

func TestSessionStore_Lifecycle(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewSessionStore().WithClock(func() time.Time { return now })

	s.Add("sess-1", now.Add(24*time.Hour))
	if !s.Active("sess-1") {
		t.Fatal("Active() = false for fresh session")
	}
	if s.Active("unknown") {
		t.Error("Active() = true for unknown session")
	}

	s.Revoke("sess-1")
	if s.Active("sess-1") {
		t.Error("Active() = true after Revoke")
	}
}

func TestSessionStore_Expiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewSessionStore().WithClock(func() time.Time { return now })

	s.Add("old", now.Add(time.Hour))
	now = now.Add(time.Hour)
	if s.Active("old") {
		t.Error("Active() = true at expiry")
	}

	s.Add("a", now.Add(time.Minute))
	now = now.Add(2 * time.Minute)
	s.Add("b", now.Add(time.Hour))
	if got := s.Len(); got != 1 {
		t.Errorf("Len() after sweep = %d, want 1", got)
	}
}
