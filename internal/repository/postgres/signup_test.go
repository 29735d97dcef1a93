package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/sakif/waitlist/internal/apperror"
	"github.com/sakif/waitlist/internal/model"
)

// newTestDB connects to WAITLIST_TEST_DATABASE_URL and truncates signups.
// Tests are skipped when the variable is unset.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("WAITLIST_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("WAITLIST_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := Connect(ctx, url)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if _, err := db.Pool.Exec(ctx, `TRUNCATE signups`); err != nil {
		t.Fatalf("truncating signups: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAppend_PositionsAndConflict(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i, email := range []string{"one@example.com", "two@example.com"} {
		s := &model.Signup{SignupID: "DM-PG" + email, Email: email, EmailHash: model.HashEmail(email)}
		if err := db.Append(ctx, s); err != nil {
			t.Fatalf("Append(%q) error = %v", email, err)
		}
		if s.Position != i+1 {
			t.Errorf("Append(%q) position = %d, want %d", email, s.Position, i+1)
		}
	}

	dup := &model.Signup{SignupID: "DM-PGDUP", Email: "one@example.com", EmailHash: model.HashEmail("one@example.com")}
	if err := db.Append(ctx, dup); !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("Append() duplicate error = %v, want ErrConflict", err)
	}

	count, err := db.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 2 {
		t.Errorf("Count() = %d, want 2", count)
	}

	exists, err := db.Exists(ctx, model.HashEmail("two@example.com"))
	if err != nil || !exists {
		t.Errorf("Exists() = %v, %v; want true, nil", exists, err)
	}
}
