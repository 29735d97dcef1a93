// Package abuse scores how likely a waitlist submission is to be automated.
//
// Each Rule contributes points independently and the Detector adds them up,
// so no single heuristic decides the verdict alone. Rules are additive only:
// a rule firing can never lower the score.
package abuse

import (
	"time"
)

// Signals are the request facts the rules look at.
type Signals struct {
	Honeypot          string
	FormLoadedAtMs    int64 // client-reported form load time, ms since epoch; 0 = not supplied
	UserAgent         string
	HasAcceptLanguage bool
	HasAccept         bool
	BodyFingerprint   string
	HeaderFingerprint string
}

// elapsed returns how long the form was open, if the client told us.
func (s Signals) elapsed(now time.Time) (time.Duration, bool) {
	if s.FormLoadedAtMs == 0 {
		return 0, false
	}
	return time.Duration(now.UnixMilli()-s.FormLoadedAtMs) * time.Millisecond, true
}

// Result is the detector's verdict.
type Result struct {
	Score int      // clamped to [0, 100]
	IsBot bool     // Score >= threshold
	Flags []string // names of the rules that fired, in rule order
}

// Config holds the scoring policy.
type Config struct {
	Threshold   int
	MinFillTime time.Duration
	MaxFillTime time.Duration
	BotPatterns []string
}

// DefaultConfig returns the standard policy: bot at 50 points, a form must be
// open between 2 seconds and 10 minutes.
func DefaultConfig() Config {
	return Config{
		Threshold:   50,
		MinFillTime: 2 * time.Second,
		MaxFillTime: 10 * time.Minute,
		BotPatterns: DefaultBotPatterns,
	}
}

// Point values per rule.
const (
	ScoreHoneypot            = 100
	ScoreTooFast             = 50
	ScoreTooSlow             = 20
	ScoreSuspiciousUA        = 30
	ScoreNoAcceptLanguage    = 15
	ScoreNoAccept            = 10
	ScoreFingerprintMismatch = 20
)

// Detector evaluates a fixed rule set. It is safe for concurrent use.
type Detector struct {
	rules     []Rule
	threshold int
	now       func() time.Time
}

// New builds a Detector with the standard rule set.
func New(cfg Config) (*Detector, error) {
	ua, err := NewUserAgentRule(cfg.BotPatterns, ScoreSuspiciousUA)
	if err != nil {
		return nil, err
	}

	d := NewWithRules(cfg.Threshold,
		HoneypotRule{Score: ScoreHoneypot},
		TooFastRule{Min: cfg.MinFillTime, Score: ScoreTooFast},
		TooSlowRule{Max: cfg.MaxFillTime, Score: ScoreTooSlow},
		ua,
		MissingAcceptLanguageRule{Score: ScoreNoAcceptLanguage},
		MissingAcceptRule{Score: ScoreNoAccept},
		FingerprintRule{Score: ScoreFingerprintMismatch},
	)
	return d, nil
}

// NewWithRules builds a Detector from an explicit rule list, evaluated in order.
func NewWithRules(threshold int, rules ...Rule) *Detector {
	return &Detector{
		rules:     rules,
		threshold: threshold,
		now:       time.Now,
	}
}

// WithClock replaces the time source; tests use it to pin "now".
func (d *Detector) WithClock(now func() time.Time) *Detector {
	d.now = now
	return d
}

// Detect runs every rule and sums the points.
func (d *Detector) Detect(s Signals) Result {
	now := d.now()
	var res Result

	for _, r := range d.rules {
		pts := r.Evaluate(s, now)
		if pts <= 0 {
			continue
		}
		res.Score += pts
		res.Flags = append(res.Flags, r.Name())
	}

	res.IsBot = res.Score >= d.threshold
	res.Score = clamp(res.Score, 0, 100)
	return res
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
