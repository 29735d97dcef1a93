package ratelimit

import (
	"context"
	"sync"
	"time"
)

var (
	_ Limiter       = (*Memory)(nil)
	_ StatsReporter = (*Memory)(nil)
)

// Memory is an in-process Limiter. State is lost on restart.
type Memory struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	attempts map[string][]time.Time
	blocked  map[string]time.Time // client → block expiry
	checks   int
}

// NewMemory creates a Memory limiter.
func NewMemory(cfg Config) *Memory {
	return &Memory{
		cfg:      cfg,
		now:      time.Now,
		attempts: make(map[string][]time.Time),
		blocked:  make(map[string]time.Time),
	}
}

// WithClock replaces the time source.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

// Check implements Limiter. It never returns an error.
func (m *Memory) Check(_ context.Context, clientID string) (Decision, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.checks++
	if m.checks%SweepEvery == 0 {
		m.sweepLocked(now)
	}

	if until, ok := m.blocked[clientID]; ok {
		if now.Before(until) {
			return BlockedDecision(until, now), nil
		}
		// Block expired: the client starts over with a clean window.
		delete(m.blocked, clientID)
		delete(m.attempts, clientID)
	}

	attempts := Prune(m.attempts[clientID], m.cfg.Window, now)
	d, block := Evaluate(m.cfg, attempts, now)
	attempts = append(attempts, now)

	if block {
		m.blocked[clientID] = now.Add(m.cfg.BlockDuration)
		d.Blocked = true
	}
	m.attempts[clientID] = attempts

	return d, nil
}

// Stats implements StatsReporter. It never returns an error.
func (m *Memory) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked(m.now())
	return Stats{Tracked: len(m.attempts), Blocked: len(m.blocked)}, nil
}

// Sweep forgets clients whose block has lapsed, and unblocked clients whose
// attempts have all left the window. Check and Stats call it on their own.
func (m *Memory) Sweep(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked(m.now())
	return nil
}

func (m *Memory) sweepLocked(now time.Time) {
	for client, until := range m.blocked {
		if !now.Before(until) {
			delete(m.blocked, client)
			delete(m.attempts, client)
		}
	}
	for client, attempts := range m.attempts {
		if _, ok := m.blocked[client]; ok {
			continue
		}
		if kept := Prune(attempts, m.cfg.Window, now); len(kept) > 0 {
			m.attempts[client] = kept
		} else {
			delete(m.attempts, client)
		}
	}
}
