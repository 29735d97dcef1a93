// Package ratelimit bounds how many waitlist submissions one client may make.
//
// The algorithm is a sliding window over attempt timestamps, pruned lazily on
// every check. A client that keeps hammering after being denied (reaching
// twice the allowance inside one window) is blocked outright for
// Config.BlockDuration.
//
// Memory keeps state in the process and suits tests and single-instance runs.
// The SQLite limiter in internal/repository/sqlite implements the same Limiter
// interface against a shared database file.
package ratelimit

import (
	"context"
	"math"
	"time"
)

// SweepEvery is how many checks pass between sweeps of idle clients.
const SweepEvery = 256

// Reasons reported in Decision.Reason.
const (
	ReasonTooMany = "Too many requests. Please try again later."
	ReasonBlocked = "IP temporarily blocked due to abuse"
)

// Config holds the limiter policy.
type Config struct {
	Window        time.Duration
	MaxRequests   int
	BlockDuration time.Duration
}

// DefaultConfig: 5 submissions per hour, 24h block for abusers.
func DefaultConfig() Config {
	return Config{
		Window:        time.Hour,
		MaxRequests:   5,
		BlockDuration: 24 * time.Hour,
	}
}

// BlockThreshold is the attempt count inside one window that triggers a block.
func (c Config) BlockThreshold() int {
	return 2 * c.MaxRequests
}

// Decision is the outcome of one Check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration // zero when Allowed
	Reason     string
	Blocked    bool
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, as the
// Retry-After header expects.
func (d Decision) RetryAfterSeconds() int {
	return int(math.Ceil(d.RetryAfter.Seconds()))
}

// Limiter decides whether a client may submit now.
type Limiter interface {
	Check(ctx context.Context, clientID string) (Decision, error)
}

// Stats is a point-in-time view of limiter state.
type Stats struct {
	Tracked int `json:"tracked"`
	Blocked int `json:"blocked"`
}

// StatsReporter is implemented by limiters that can report their state.
// Stats sweeps idle clients first, so Tracked counts only live ones.
type StatsReporter interface {
	Stats(ctx context.Context) (Stats, error)
}

// Evaluate applies the sliding-window rules to one client's retained
// attempts. It is shared by every Limiter implementation so they cannot drift.
//
// attempts must already be pruned to the window and sorted oldest first.
// The caller records now as a new attempt in either case; block reports
// whether the client must move to the blocked set.
func Evaluate(cfg Config, attempts []time.Time, now time.Time) (d Decision, block bool) {
	if len(attempts) >= cfg.MaxRequests {
		retry := attempts[0].Add(cfg.Window).Sub(now)
		if retry < 0 {
			retry = 0
		}
		// The denied attempt counts too, otherwise the block threshold
		// could never be reached.
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: retry,
			Reason:     ReasonTooMany,
		}, len(attempts)+1 >= cfg.BlockThreshold()
	}

	return Decision{
		Allowed:   true,
		Remaining: cfg.MaxRequests - len(attempts) - 1,
	}, false
}

// BlockedDecision is returned while a client sits in the blocked set.
func BlockedDecision(until, now time.Time) Decision {
	return Decision{
		Allowed:    false,
		RetryAfter: until.Sub(now),
		Reason:     ReasonBlocked,
		Blocked:    true,
	}
}

// Prune drops attempts that have left the window, in place.
func Prune(attempts []time.Time, window time.Duration, now time.Time) []time.Time {
	kept := attempts[:0]
	for _, t := range attempts {
		if now.Sub(t) < window {
			kept = append(kept, t)
		}
	}
	return kept
}
