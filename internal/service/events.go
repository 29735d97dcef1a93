package service

import (
	"sync"
	"time"
)

// Event types recorded for every terminal intake state.
const (
	EventRateLimited      = "rate_limited"
	EventBotBlocked       = "bot_blocked"
	EventValidationFailed = "validation_failed"
	EventDuplicate        = "duplicate_signup"
	EventSignup           = "signup_success"
	EventError            = "error"
)

// Event is one intake outcome as shown on the admin dashboard. Emails never
// appear here; EmailHash identifies duplicates.
type Event struct {
	Type      string    `json:"event"`
	At        time.Time `json:"timestamp"`
	IP        string    `json:"ip,omitempty"`
	SignupID  string    `json:"signupId,omitempty"`
	EmailHash string    `json:"emailHash,omitempty"`
	Domain    string    `json:"domain,omitempty"`
	Country   string    `json:"country,omitempty"`
	BotScore  int       `json:"botScore,omitempty"`
	Flags     []string  `json:"flags,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// EventLog is a fixed-size ring of the most recent events.
type EventLog struct {
	mu    sync.Mutex
	buf   []Event
	next  int
	full  bool
	total int
}

// NewEventLog keeps the last size events. A size of 0 records nothing.
func NewEventLog(size int) *EventLog {
	return &EventLog{buf: make([]Event, size)}
}

// Record appends e, evicting the oldest event when full.
func (l *EventLog) Record(e Event) {
	if l == nil || len(l.buf) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf[l.next] = e
	l.next = (l.next + 1) % len(l.buf)
	if l.next == 0 {
		l.full = true
	}
	l.total++
}

// Recent returns up to n events, oldest first.
func (l *EventLog) Recent(n int) []Event {
	if l == nil || len(l.buf) == 0 {
		return []Event{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	size := l.next
	if l.full {
		size = len(l.buf)
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]Event, 0, n)
	start := l.next - n
	if start < 0 {
		start += len(l.buf)
	}
	for i := 0; i < n; i++ {
		out = append(out, l.buf[(start+i)%len(l.buf)])
	}
	return out
}

// Total is the number of events ever recorded, evicted ones included.
func (l *EventLog) Total() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}
