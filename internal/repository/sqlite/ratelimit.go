package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sakif/waitlist/internal/ratelimit"
)

var (
	_ ratelimit.Limiter       = (*RateLimiter)(nil)
	_ ratelimit.StatsReporter = (*RateLimiter)(nil)
)

// RateLimiter is a ratelimit.Limiter whose attempts and blocks survive
// restarts. It shares the signups database.
type RateLimiter struct {
	db     *DB
	cfg    ratelimit.Config
	now    func() time.Time
	checks atomic.Int64
}

// NewRateLimiter creates a durable limiter backed by db.
func NewRateLimiter(db *DB, cfg ratelimit.Config) *RateLimiter {
	return &RateLimiter{db: db, cfg: cfg, now: time.Now}
}

// WithClock replaces the time source.
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	rl.now = now
	return rl
}

// Check implements ratelimit.Limiter. Timestamps are stored as Unix
// nanoseconds.
func (rl *RateLimiter) Check(ctx context.Context, clientID string) (ratelimit.Decision, error) {
	now := rl.now()

	tx, err := rl.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("sqlite: beginning rate check: %w", err)
	}
	defer tx.Rollback()

	var untilNano int64
	err = tx.QueryRowContext(ctx,
		`SELECT blocked_until FROM rate_limit_blocks WHERE client_id = ?`, clientID,
	).Scan(&untilNano)
	switch {
	case err == nil:
		until := time.Unix(0, untilNano)
		if now.Before(until) {
			return ratelimit.BlockedDecision(until, now), nil
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM rate_limit_blocks WHERE client_id = ?`, clientID); err != nil {
			return ratelimit.Decision{}, fmt.Errorf("sqlite: lifting block: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM rate_limit_attempts WHERE client_id = ?`, clientID); err != nil {
			return ratelimit.Decision{}, fmt.Errorf("sqlite: clearing attempts: %w", err)
		}
	case !errors.Is(err, sql.ErrNoRows):
		return ratelimit.Decision{}, fmt.Errorf("sqlite: reading block: %w", err)
	}

	cutoff := now.Add(-rl.cfg.Window).UnixNano()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM rate_limit_attempts WHERE client_id = ? AND attempted_at <= ?`,
		clientID, cutoff,
	); err != nil {
		return ratelimit.Decision{}, fmt.Errorf("sqlite: pruning attempts: %w", err)
	}

	attempts, err := loadAttempts(ctx, tx, clientID)
	if err != nil {
		return ratelimit.Decision{}, err
	}

	d, block := ratelimit.Evaluate(rl.cfg, attempts, now)

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO rate_limit_attempts (client_id, attempted_at) VALUES (?, ?)`,
		clientID, now.UnixNano(),
	); err != nil {
		return ratelimit.Decision{}, fmt.Errorf("sqlite: recording attempt: %w", err)
	}

	if block {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rate_limit_blocks (client_id, blocked_until) VALUES (?, ?)
			 ON CONFLICT(client_id) DO UPDATE SET blocked_until = excluded.blocked_until`,
			clientID, now.Add(rl.cfg.BlockDuration).UnixNano(),
		); err != nil {
			return ratelimit.Decision{}, fmt.Errorf("sqlite: recording block: %w", err)
		}
		d.Blocked = true
	}

	if rl.checks.Add(1)%ratelimit.SweepEvery == 0 {
		if err := rl.sweepTx(ctx, tx, now); err != nil {
			return ratelimit.Decision{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return ratelimit.Decision{}, fmt.Errorf("sqlite: committing rate check: %w", err)
	}
	return d, nil
}

// Sweep deletes lapsed blocks, the attempts of their clients, and every
// attempt that has left the window.
func (rl *RateLimiter) Sweep(ctx context.Context) error {
	tx, err := rl.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning sweep: %w", err)
	}
	defer tx.Rollback()

	if err := rl.sweepTx(ctx, tx, rl.now()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing sweep: %w", err)
	}
	return nil
}

func (rl *RateLimiter) sweepTx(ctx context.Context, tx *sql.Tx, now time.Time) error {
	nowNano := now.UnixNano()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM rate_limit_attempts WHERE client_id IN
		 (SELECT client_id FROM rate_limit_blocks WHERE blocked_until <= ?)`, nowNano,
	); err != nil {
		return fmt.Errorf("sqlite: sweeping unblocked attempts: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM rate_limit_blocks WHERE blocked_until <= ?`, nowNano,
	); err != nil {
		return fmt.Errorf("sqlite: sweeping blocks: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM rate_limit_attempts WHERE attempted_at <= ?`,
		now.Add(-rl.cfg.Window).UnixNano(),
	); err != nil {
		return fmt.Errorf("sqlite: sweeping attempts: %w", err)
	}
	return nil
}

// Stats implements ratelimit.StatsReporter. Blocks count only while active.
func (rl *RateLimiter) Stats(ctx context.Context) (ratelimit.Stats, error) {
	now := rl.now()
	var s ratelimit.Stats

	if err := rl.Sweep(ctx); err != nil {
		return s, err
	}

	err := rl.db.conn.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT client_id) FROM rate_limit_attempts WHERE attempted_at > ?`,
		now.Add(-rl.cfg.Window).UnixNano(),
	).Scan(&s.Tracked)
	if err != nil {
		return s, fmt.Errorf("sqlite: counting tracked clients: %w", err)
	}

	err = rl.db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rate_limit_blocks WHERE blocked_until > ?`, now.UnixNano(),
	).Scan(&s.Blocked)
	if err != nil {
		return s, fmt.Errorf("sqlite: counting blocked clients: %w", err)
	}
	return s, nil
}

func loadAttempts(ctx context.Context, tx *sql.Tx, clientID string) ([]time.Time, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT attempted_at FROM rate_limit_attempts WHERE client_id = ? ORDER BY attempted_at ASC`,
		clientID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: loading attempts: %w", err)
	}
	defer rows.Close()

	var attempts []time.Time
	for rows.Next() {
		var nano int64
		if err := rows.Scan(&nano); err != nil {
			return nil, fmt.Errorf("sqlite: scanning attempt: %w", err)
		}
		attempts = append(attempts, time.Unix(0, nano))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating attempts: %w", err)
	}
	return attempts, nil
}
