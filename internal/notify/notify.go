// Package notify sends the two emails that follow an accepted signup: a notice
// to the site admin and a welcome message to the applicant.
//
// Delivery is best effort. Senders report an Outcome instead of an error so
// the caller can log it and move on; nothing here is retried.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/sakif/waitlist/internal/model"
)

// AdminNotice is the data behind the "new signup" email.
type AdminNotice struct {
	SignupID  string
	Email     string
	Position  int
	IP        string
	UserAgent string
	Country   string
	Referrer  string
	BotScore  int
	At        time.Time
}

// Welcome is the data behind the applicant's confirmation email.
type Welcome struct {
	SignupID string
	Email    string
	Position int
}

// NoticeFor builds the admin notice for an accepted signup.
func NoticeFor(s model.Signup) AdminNotice {
	return AdminNotice{
		SignupID:  s.SignupID,
		Email:     s.Email,
		Position:  s.Position,
		IP:        s.IP,
		UserAgent: s.UserAgent,
		Country:   s.Country,
		Referrer:  s.Referrer,
		BotScore:  s.BotScore,
		At:        s.CreatedAt,
	}
}

// WelcomeFor builds the applicant email for an accepted signup.
func WelcomeFor(s model.Signup) Welcome {
	return Welcome{SignupID: s.SignupID, Email: s.Email, Position: s.Position}
}

// Outcome reports what happened to one send.
type Outcome struct {
	Sent      bool
	MessageID string
	Err       error
}

// Notifier delivers the two signup emails.
type Notifier interface {
	NotifyAdmin(ctx context.Context, n AdminNotice) Outcome
	NotifyApplicant(ctx context.Context, w Welcome) Outcome
}

// Log is a Notifier that only writes the notifications to the logger.
// The server falls back to it when SMTP is not configured.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a Log notifier.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) NotifyAdmin(_ context.Context, n AdminNotice) Outcome {
	l.logger.Info("admin notification (smtp disabled)",
		slog.String("signupId", n.SignupID),
		slog.String("email", model.MaskEmail(n.Email)),
		slog.Int("position", n.Position),
		slog.Int("botScore", n.BotScore),
	)
	return Outcome{Sent: true}
}

func (l *Log) NotifyApplicant(_ context.Context, w Welcome) Outcome {
	l.logger.Info("welcome notification (smtp disabled)",
		slog.String("signupId", w.SignupID),
		slog.String("email", model.MaskEmail(w.Email)),
	)
	return Outcome{Sent: true}
}
