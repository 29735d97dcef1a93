package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sakif/waitlist/internal/apperror"
	"github.com/sakif/waitlist/internal/model"
)

func signup(email string) *model.Signup {
	return &model.Signup{SignupID: "DM-" + email, Email: email, EmailHash: model.HashEmail(email)}
}

func TestStore_AppendAndDedup(t *testing.T) {
	ctx := context.Background()
	s := New()

	a := signup("a@example.com")
	if err := s.Append(ctx, a); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if a.Position != 1 {
		t.Errorf("Position = %d, want 1", a.Position)
	}

	if err := s.Append(ctx, signup("a@example.com")); !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("duplicate Append() error = %v, want ErrConflict", err)
	}

	ok, _ := s.Exists(ctx, model.HashEmail("a@example.com"))
	if !ok {
		t.Error("Exists() = false after Append")
	}
}

func TestStore_RecentAndCountSince(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	s := New().WithClock(func() time.Time { return clock })

	for i, email := range []string{"old@example.com", "mid@example.com", "new@example.com"} {
		clock = now.Add(time.Duration(i) * time.Hour)
		if err := s.Append(ctx, signup(email)); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	recent, _ := s.Recent(ctx, 2)
	if len(recent) != 2 || recent[0].Email != "new@example.com" || recent[1].Email != "mid@example.com" {
		t.Errorf("Recent(2) = %+v, want new, mid", recent)
	}

	got, _ := s.CountSince(ctx, now.Add(time.Hour))
	if got != 2 {
		t.Errorf("CountSince() = %d, want 2", got)
	}
}
