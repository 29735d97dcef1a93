package abuse

import (
	"fmt"
	"regexp"
	"time"
)

// Flag names reported in Result.Flags.
const (
	FlagHoneypot            = "honeypot_filled"
	FlagTooFast             = "too_fast"
	FlagTooSlow             = "too_slow"
	FlagSuspiciousUA        = "suspicious_ua"
	FlagNoAcceptLanguage    = "no_accept_language"
	FlagNoAccept            = "no_accept"
	FlagFingerprintMismatch = "fingerprint_mismatch"
)

// Rule is one independent heuristic. Evaluate returns the points it adds,
// 0 when it does not fire. Rules never see each other's results.
type Rule interface {
	Name() string
	Evaluate(s Signals, now time.Time) int
}

// HoneypotRule fires when the hidden form field carries any value.
type HoneypotRule struct{ Score int }

func (HoneypotRule) Name() string { return FlagHoneypot }

func (r HoneypotRule) Evaluate(s Signals, _ time.Time) int {
	if s.Honeypot != "" {
		return r.Score
	}
	return 0
}

// TooFastRule fires when the form was submitted sooner after load than a
// human could plausibly type an address.
type TooFastRule struct {
	Min   time.Duration
	Score int
}

func (TooFastRule) Name() string { return FlagTooFast }

func (r TooFastRule) Evaluate(s Signals, now time.Time) int {
	elapsed, ok := s.elapsed(now)
	if ok && elapsed < r.Min {
		return r.Score
	}
	return 0
}

// TooSlowRule fires for stale form tokens, which usually means a replayed
// request rather than a slow human.
type TooSlowRule struct {
	Max   time.Duration
	Score int
}

func (TooSlowRule) Name() string { return FlagTooSlow }

func (r TooSlowRule) Evaluate(s Signals, now time.Time) int {
	elapsed, ok := s.elapsed(now)
	if ok && elapsed > r.Max {
		return r.Score
	}
	return 0
}

// DefaultBotPatterns match common crawlers, HTTP libraries and the empty
// user agent.
var DefaultBotPatterns = []string{
	`(?i)bot`, `(?i)crawler`, `(?i)spider`, `(?i)scraper`, `(?i)curl`, `(?i)wget`,
	`(?i)python`, `(?i)java/`, `(?i)php/`, `^$`,
}

// UserAgentRule fires when the user agent matches any known automation pattern.
type UserAgentRule struct {
	patterns []*regexp.Regexp
	Score    int
}

// NewUserAgentRule compiles patterns once; a bad pattern is a configuration error.
func NewUserAgentRule(patterns []string, score int) (*UserAgentRule, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("abuse: compiling user-agent pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return &UserAgentRule{patterns: compiled, Score: score}, nil
}

func (*UserAgentRule) Name() string { return FlagSuspiciousUA }

func (r *UserAgentRule) Evaluate(s Signals, _ time.Time) int {
	for _, re := range r.patterns {
		if re.MatchString(s.UserAgent) {
			return r.Score
		}
	}
	return 0
}

// MissingAcceptLanguageRule fires when the request has no Accept-Language
// header, which every mainstream browser sends.
type MissingAcceptLanguageRule struct{ Score int }

func (MissingAcceptLanguageRule) Name() string { return FlagNoAcceptLanguage }

func (r MissingAcceptLanguageRule) Evaluate(s Signals, _ time.Time) int {
	if !s.HasAcceptLanguage {
		return r.Score
	}
	return 0
}

// MissingAcceptRule fires when the request has no Accept header.
type MissingAcceptRule struct{ Score int }

func (MissingAcceptRule) Name() string { return FlagNoAccept }

func (r MissingAcceptRule) Evaluate(s Signals, _ time.Time) int {
	if !s.HasAccept {
		return r.Score
	}
	return 0
}

// FingerprintRule fires when the body carries a fingerprint but the
// X-Fingerprint header does not. The widget always sends both, so a
// body-only fingerprint points at a replayed or hand-built request.
type FingerprintRule struct{ Score int }

func (FingerprintRule) Name() string { return FlagFingerprintMismatch }

func (r FingerprintRule) Evaluate(s Signals, _ time.Time) int {
	if s.BodyFingerprint != "" && s.HeaderFingerprint == "" {
		return r.Score
	}
	return 0
}
