package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/sakif/waitlist/internal/ratelimit"
)

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(t *testing.T) (*RateLimiter, *testClock) {
	t.Helper()
	clock := &testClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	return NewRateLimiter(newTestDB(t), ratelimit.DefaultConfig()).WithClock(clock.Now), clock
}

func mustCheck(t *testing.T, rl *RateLimiter, client string) ratelimit.Decision {
	t.Helper()
	d, err := rl.Check(context.Background(), client)
	if err != nil {
		t.Fatalf("Check(%q) error = %v", client, err)
	}
	return d
}

func TestRateLimiter_WindowAndRetryAfter(t *testing.T) {
	rl, clock := newTestLimiter(t)

	for i := 0; i < 5; i++ {
		d := mustCheck(t, rl, "10.0.0.1")
		if !d.Allowed {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
		if d.Remaining != 4-i {
			t.Errorf("request %d Remaining = %d, want %d", i+1, d.Remaining, 4-i)
		}
		clock.Advance(10 * time.Minute)
	}

	d := mustCheck(t, rl, "10.0.0.1")
	if d.Allowed {
		t.Fatal("6th request allowed, want denied")
	}
	if d.RetryAfter != 10*time.Minute {
		t.Errorf("RetryAfter = %v, want 10m", d.RetryAfter)
	}

	// The denied attempt is recorded as well, so the client is only let back
	// in once every attempt, including that one, has left the window.
	clock.Advance(10 * time.Minute)
	if d := mustCheck(t, rl, "10.0.0.1"); d.Allowed {
		t.Error("request with 5 attempts still in window was allowed")
	}

	clock.Advance(time.Hour)
	if d := mustCheck(t, rl, "10.0.0.1"); !d.Allowed {
		t.Error("request after a quiet window was denied")
	}
}

func TestRateLimiter_BlockPersistsAndExpires(t *testing.T) {
	rl, clock := newTestLimiter(t)

	var last ratelimit.Decision
	for i := 0; i < 10; i++ {
		last = mustCheck(t, rl, "10.0.0.2")
	}
	if !last.Blocked {
		t.Fatal("10th attempt did not block")
	}

	clock.Advance(3 * time.Hour)
	d := mustCheck(t, rl, "10.0.0.2")
	if d.Allowed || d.Reason != ratelimit.ReasonBlocked {
		t.Fatalf("after 3h got %+v, want blocked", d)
	}
	if d.RetryAfter != 21*time.Hour {
		t.Errorf("RetryAfter = %v, want 21h", d.RetryAfter)
	}

	stats, err := rl.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Blocked != 1 {
		t.Errorf("Stats().Blocked = %d, want 1", stats.Blocked)
	}

	clock.Advance(21 * time.Hour)
	d = mustCheck(t, rl, "10.0.0.2")
	if !d.Allowed || d.Remaining != 4 {
		t.Errorf("after block expiry got %+v, want allowed with 4 remaining", d)
	}
}

func TestRateLimiter_StateSurvivesNewLimiter(t *testing.T) {
	db := newTestDB(t)
	clock := &testClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}

	first := NewRateLimiter(db, ratelimit.DefaultConfig()).WithClock(clock.Now)
	for i := 0; i < 5; i++ {
		mustCheck(t, first, "10.0.0.3")
	}

	second := NewRateLimiter(db, ratelimit.DefaultConfig()).WithClock(clock.Now)
	if d := mustCheck(t, second, "10.0.0.3"); d.Allowed {
		t.Error("fresh limiter on same db allowed a 6th request")
	}
}

func countRows(t *testing.T, rl *RateLimiter, table string) int {
	t.Helper()
	var n int
	if err := rl.db.conn.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
		t.Fatalf("counting %s: %v", table, err)
	}
	return n
}

func TestRateLimiter_StatsSweepIdleClients(t *testing.T) {
	rl, clock := newTestLimiter(t)

	for _, ip := range []string{"10.0.1.1", "10.0.1.2", "10.0.1.3"} {
		mustCheck(t, rl, ip)
	}
	stats, err := rl.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Tracked != 3 {
		t.Errorf("Stats().Tracked = %d, want 3", stats.Tracked)
	}

	clock.Advance(time.Hour)
	if _, err := rl.Stats(context.Background()); err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if n := countRows(t, rl, "rate_limit_attempts"); n != 0 {
		t.Errorf("attempt rows after window = %d, want 0", n)
	}
}

func TestRateLimiter_SweepDropsLapsedBlocks(t *testing.T) {
	rl, clock := newTestLimiter(t)

	for i := 0; i < 10; i++ {
		mustCheck(t, rl, "10.0.0.9")
	}
	if n := countRows(t, rl, "rate_limit_blocks"); n != 1 {
		t.Fatalf("block rows = %d, want 1", n)
	}

	clock.Advance(24 * time.Hour)
	if err := rl.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if n := countRows(t, rl, "rate_limit_blocks"); n != 0 {
		t.Errorf("block rows after expiry = %d, want 0", n)
	}
	if n := countRows(t, rl, "rate_limit_attempts"); n != 0 {
		t.Errorf("attempt rows after expiry = %d, want 0", n)
	}
}
