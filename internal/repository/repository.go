// Package repository defines the storage contracts the services depend on.
//
// Implementations live in subpackages (sqlite, postgres, memory). Services only
// ever see these interfaces.
package repository

import (
	"context"
	"time"

	"github.com/sakif/waitlist/internal/model"
)

// SignupRepository is the append-only, deduplicated signup collection.
//
// Append is a compare-and-swap on EmailHash: if another signup with the same
// hash already exists (including one that won a concurrent race), it returns
// an error wrapping apperror.ErrConflict and stores nothing. On success it
// fills in Position (count of prior signups + 1) and CreatedAt.
type SignupRepository interface {
	Exists(ctx context.Context, emailHash string) (bool, error)
	Append(ctx context.Context, signup *model.Signup) error
	All(ctx context.Context) ([]model.Signup, error)
	Recent(ctx context.Context, n int) ([]model.Signup, error)
	Count(ctx context.Context) (int, error)
	CountSince(ctx context.Context, since time.Time) (int, error)
}

// Recent limits.
const (
	DefaultRecentLimit = 20
	MaxRecentLimit     = 100
)

// ClampRecent applies the default and maximum page size for Recent.
func ClampRecent(n int) int {
	if n <= 0 {
		return DefaultRecentLimit
	}
	if n > MaxRecentLimit {
		return MaxRecentLimit
	}
	return n
}
