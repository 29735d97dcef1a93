package abuse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestDetector(t *testing.T) *Detector {
	t.Helper()
	d, err := New(DefaultConfig())
	require.NoError(t, err)
	return d.WithClock(func() time.Time { return fixedNow })
}

// browserSignals looks like a human on a real browser: nothing fires.
func browserSignals() Signals {
	return Signals{
		FormLoadedAtMs:    fixedNow.Add(-3 * time.Second).UnixMilli(),
		UserAgent:         "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0) AppleWebKit/605.1.15 Safari/605.1.15",
		HasAcceptLanguage: true,
		HasAccept:         true,
		BodyFingerprint:   "fp-123",
		HeaderFingerprint: "fp-123",
	}
}

func TestDetect_CleanBrowser(t *testing.T) {
	d := newTestDetector(t)

	res := d.Detect(browserSignals())

	assert.Equal(t, 0, res.Score)
	assert.False(t, res.IsBot)
	assert.Empty(t, res.Flags)
}

func TestDetect_SingleRules(t *testing.T) {
	d := newTestDetector(t)

	tests := []struct {
		name      string
		mutate    func(*Signals)
		wantFlag  string
		wantScore int
		wantBot   bool
	}{
		{"honeypot", func(s *Signals) { s.Honeypot = "http://spam.example" }, FlagHoneypot, 100, true},
		{"whitespace honeypot", func(s *Signals) { s.Honeypot = " " }, FlagHoneypot, 100, true},
		{"too fast", func(s *Signals) { s.FormLoadedAtMs = fixedNow.Add(-500 * time.Millisecond).UnixMilli() }, FlagTooFast, 50, true},
		{"too slow", func(s *Signals) { s.FormLoadedAtMs = fixedNow.Add(-11 * time.Minute).UnixMilli() }, FlagTooSlow, 20, false},
		{"curl user agent", func(s *Signals) { s.UserAgent = "curl/8.4.0" }, FlagSuspiciousUA, 30, false},
		{"empty user agent", func(s *Signals) { s.UserAgent = "" }, FlagSuspiciousUA, 30, false},
		{"Googlebot", func(s *Signals) { s.UserAgent = "Mozilla/5.0 (compatible; Googlebot/2.1)" }, FlagSuspiciousUA, 30, false},
		{"no accept-language", func(s *Signals) { s.HasAcceptLanguage = false }, FlagNoAcceptLanguage, 15, false},
		{"no accept", func(s *Signals) { s.HasAccept = false }, FlagNoAccept, 10, false},
		{"fingerprint only in body", func(s *Signals) { s.HeaderFingerprint = "" }, FlagFingerprintMismatch, 20, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := browserSignals()
			tt.mutate(&s)

			res := d.Detect(s)

			assert.Equal(t, []string{tt.wantFlag}, res.Flags)
			assert.Equal(t, tt.wantScore, res.Score)
			assert.Equal(t, tt.wantBot, res.IsBot)
		})
	}
}

func TestDetect_NoTimestampSkipsTimingRules(t *testing.T) {
	d := newTestDetector(t)

	s := browserSignals()
	s.FormLoadedAtMs = 0

	res := d.Detect(s)
	assert.NotContains(t, res.Flags, FlagTooFast)
	assert.NotContains(t, res.Flags, FlagTooSlow)
}

func TestDetect_ScoreIsClamped(t *testing.T) {
	d := newTestDetector(t)

	s := Signals{
		Honeypot:        "filled",
		FormLoadedAtMs:  fixedNow.UnixMilli(),
		UserAgent:       "python-requests/2.31",
		BodyFingerprint: "fp",
	}

	res := d.Detect(s)
	assert.Equal(t, 100, res.Score)
	assert.True(t, res.IsBot)
	assert.Len(t, res.Flags, 6)
}

// Adding any further triggering condition must never lower the score.
func TestDetect_Monotonic(t *testing.T) {
	d := newTestDetector(t)

	mutations := []func(*Signals){
		func(s *Signals) { s.HasAccept = false },
		func(s *Signals) { s.HasAcceptLanguage = false },
		func(s *Signals) { s.HeaderFingerprint = "" },
		func(s *Signals) { s.UserAgent = "wget/1.21" },
		func(s *Signals) { s.FormLoadedAtMs = fixedNow.Add(-100 * time.Millisecond).UnixMilli() },
		func(s *Signals) { s.Honeypot = "x" },
	}

	s := browserSignals()
	prev := d.Detect(s).Score
	for i, m := range mutations {
		m(&s)
		got := d.Detect(s).Score
		if got < prev {
			t.Fatalf("step %d: score dropped from %d to %d", i, prev, got)
		}
		prev = got
	}
}

func TestNew_BadPattern(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BotPatterns = []string{"(unclosed"}

	_, err := New(cfg)
	assert.Error(t, err)
}
