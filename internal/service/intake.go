package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/waitlist/internal/abuse"
	"github.com/sakif/waitlist/internal/apperror"
	"github.com/sakif/waitlist/internal/model"
	"github.com/sakif/waitlist/internal/ratelimit"
	"github.com/sakif/waitlist/internal/repository"
	"github.com/sakif/waitlist/internal/validator"
)

// State is where a submission ended up.
type State string

const (
	StateRateLimited      State = "rate_limited"
	StateBotSuppressed    State = "bot_suppressed"
	StateValidationFailed State = "validation_failed"
	StateDuplicate        State = "duplicate"
	StateAccepted         State = "accepted"
	StateError            State = "error"
)

// Submission is one waitlist request as the HTTP layer saw it.
type Submission struct {
	// Email is the raw JSON value of the "email" field; nil when absent.
	Email any

	IP        string
	UserAgent string
	Referrer  string
	Country   string

	FormLoadedAtMs    int64
	BodyFingerprint   string
	HeaderFingerprint string
	Honeypot          string
	HasAccept         bool
	HasAcceptLanguage bool

	RequestID string
}

// Outcome is the terminal state of a submission plus what the caller needs
// to answer it.
type Outcome struct {
	State State

	// SignupID is set for StateAccepted and, as a decoy, StateBotSuppressed.
	SignupID string
	Position int

	// Remaining is the rate-limit allowance left after this request.
	Remaining int
	// RetryAfter is in whole seconds, set for StateRateLimited.
	RetryAfter int

	// Rule and Message describe the first violation for StateValidationFailed,
	// or the limiter reason for StateRateLimited.
	Rule    string
	Message string
}

// NotificationQueue accepts signups for background notification.
// *notify.Dispatcher implements it.
type NotificationQueue interface {
	Notify(s model.Signup)
}

// IntakeService runs the submission pipeline:
//
//	rate limit → bot check → validation → dedup → append → notify
//
// Gates run in that order and the first one to fail decides the outcome.
type IntakeService struct {
	limiter   ratelimit.Limiter
	detector  *abuse.Detector
	validator *validator.Validator
	repo      repository.SignupRepository
	notifier  NotificationQueue
	events    *EventLog
	logger    *slog.Logger
	now       func() time.Time
}

// NewIntakeService wires the pipeline. events may be nil.
func NewIntakeService(
	limiter ratelimit.Limiter,
	detector *abuse.Detector,
	v *validator.Validator,
	repo repository.SignupRepository,
	notifier NotificationQueue,
	events *EventLog,
	logger *slog.Logger,
) *IntakeService {
	return &IntakeService{
		limiter:   limiter,
		detector:  detector,
		validator: v,
		repo:      repo,
		notifier:  notifier,
		events:    events,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the time source used for event timestamps.
func (s *IntakeService) WithClock(now func() time.Time) *IntakeService {
	s.now = now
	return s
}

// Submit runs sub through the pipeline. The returned Outcome is never nil.
// A non-nil error comes with StateError and is for logging only; it must not
// reach the client.
func (s *IntakeService) Submit(ctx context.Context, sub Submission) (*Outcome, error) {
	decision, err := s.limiter.Check(ctx, sub.IP)
	if err != nil {
		return s.fail(sub, fmt.Errorf("checking rate limit: %w", err))
	}
	if !decision.Allowed {
		s.record(Event{Type: EventRateLimited, IP: sub.IP, Detail: decision.Reason})
		if decision.Blocked {
			s.logger.Warn("client blocked for abuse", slog.String("ip", sub.IP))
		}
		return &Outcome{
			State:      StateRateLimited,
			RetryAfter: decision.RetryAfterSeconds(),
			Message:    decision.Reason,
		}, nil
	}

	bot := s.detector.Detect(abuse.Signals{
		Honeypot:          sub.Honeypot,
		FormLoadedAtMs:    sub.FormLoadedAtMs,
		UserAgent:         sub.UserAgent,
		HasAcceptLanguage: sub.HasAcceptLanguage,
		HasAccept:         sub.HasAccept,
		BodyFingerprint:   sub.BodyFingerprint,
		HeaderFingerprint: sub.HeaderFingerprint,
	})
	if bot.IsBot {
		s.record(Event{Type: EventBotBlocked, IP: sub.IP, BotScore: bot.Score, Flags: bot.Flags})
		// Looks exactly like a success so the bot learns nothing.
		return &Outcome{
			State:     StateBotSuppressed,
			SignupID:  NewSignupID(),
			Remaining: decision.Remaining,
		}, nil
	}

	result := s.validator.ValidateValue(sub.Email)
	if !result.Valid {
		first := result.First()
		s.record(Event{Type: EventValidationFailed, IP: sub.IP, Detail: first.Rule})
		return &Outcome{
			State:     StateValidationFailed,
			Rule:      first.Rule,
			Message:   first.Message,
			Remaining: decision.Remaining,
		}, nil
	}

	emailHash := model.HashEmail(result.Email)

	exists, err := s.repo.Exists(ctx, emailHash)
	if err != nil {
		// Fail open: Append's uniqueness check still catches a real duplicate.
		s.logger.Warn("duplicate check failed, continuing",
			slog.String("ip", sub.IP),
			slog.String("error", err.Error()),
		)
	}
	if exists {
		return s.duplicate(sub, emailHash, decision.Remaining), nil
	}

	signup := &model.Signup{
		SignupID:  NewSignupID(),
		Email:     result.Email,
		EmailHash: emailHash,
		IP:        sub.IP,
		UserAgent: cleanMetadata(sub.UserAgent, MaxUserAgentLength),
		Country:   sub.Country,
		Referrer:  cleanMetadata(sub.Referrer, MaxReferrerLength),
		BotScore:  bot.Score,
	}
	if err := s.repo.Append(ctx, signup); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return s.duplicate(sub, emailHash, decision.Remaining), nil
		}
		return s.fail(sub, fmt.Errorf("storing signup: %w", err))
	}

	s.record(Event{
		Type:     EventSignup,
		IP:       sub.IP,
		SignupID: signup.SignupID,
		Domain:   result.Domain,
		Country:  signup.Country,
		BotScore: bot.Score,
		Detail:   signup.Referrer,
	})
	s.logger.Info("new signup",
		slog.String("signupId", signup.SignupID),
		slog.Int("position", signup.Position),
		slog.String("email", model.MaskEmail(signup.Email)),
		slog.String("ip", sub.IP),
		slog.Int("botScore", bot.Score),
	)

	if s.notifier != nil {
		s.notifier.Notify(*signup)
	}

	return &Outcome{
		State:     StateAccepted,
		SignupID:  signup.SignupID,
		Position:  signup.Position,
		Remaining: decision.Remaining,
	}, nil
}

func (s *IntakeService) duplicate(sub Submission, emailHash string, remaining int) *Outcome {
	s.record(Event{Type: EventDuplicate, IP: sub.IP, EmailHash: emailHash})
	return &Outcome{State: StateDuplicate, Remaining: remaining}
}

func (s *IntakeService) fail(sub Submission, err error) (*Outcome, error) {
	s.record(Event{Type: EventError, IP: sub.IP, Detail: sub.RequestID})
	s.logger.Error("submission failed",
		slog.String("ip", sub.IP),
		slog.String("requestId", sub.RequestID),
		slog.String("error", err.Error()),
	)
	return &Outcome{State: StateError}, err
}

func (s *IntakeService) record(e Event) {
	e.At = s.now()
	s.events.Record(e)
	s.logger.Debug("intake event", slog.String("event", e.Type), slog.String("ip", e.IP))
}

// NewSignupID returns "DM-" followed by an upper-cased xid: 20 characters
// that sort by creation time.
func NewSignupID() string {
	return "DM-" + strings.ToUpper(xid.New().String())
}
