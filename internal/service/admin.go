package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/waitlist/internal/apperror"
	"github.com/sakif/waitlist/internal/auth"
	"github.com/sakif/waitlist/internal/model"
	"github.com/sakif/waitlist/internal/ratelimit"
	"github.com/sakif/waitlist/internal/repository"
)

const (
	adminSubject        = "admin"
	dashboardSignups    = 20
	dashboardEvents     = 50
	defaultAdminSession = 24 * time.Hour
)

// AdminConfig configures the admin API.
type AdminConfig struct {
	// Password is the shared admin password. Empty disables login.
	Password   string
	SessionTTL time.Duration
}

// AdminService backs the password-gated dashboard.
type AdminService struct {
	repo      repository.SignupRepository
	limiter   ratelimit.StatsReporter // may be nil
	events    *EventLog
	tokens    *auth.TokenService
	sessions  *auth.SessionStore
	passwords *auth.PasswordService
	logger    *slog.Logger

	hash    string
	ttl     time.Duration
	started time.Time
	now     func() time.Time
}

// NewAdminService hashes cfg.Password once so the plaintext is not kept.
func NewAdminService(
	cfg AdminConfig,
	repo repository.SignupRepository,
	limiter ratelimit.StatsReporter,
	events *EventLog,
	tokens *auth.TokenService,
	sessions *auth.SessionStore,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) (*AdminService, error) {
	s := &AdminService{
		repo:      repo,
		limiter:   limiter,
		events:    events,
		tokens:    tokens,
		sessions:  sessions,
		passwords: passwords,
		logger:    logger,
		ttl:       cfg.SessionTTL,
		started:   time.Now(),
		now:       time.Now,
	}
	if s.ttl <= 0 {
		s.ttl = defaultAdminSession
	}
	if cfg.Password != "" {
		hash, err := passwords.Hash(cfg.Password)
		if err != nil {
			return nil, fmt.Errorf("hashing admin password: %w", err)
		}
		s.hash = hash
	}
	return s, nil
}

// WithClock replaces the time source used for stats windows.
func (s *AdminService) WithClock(now func() time.Time) *AdminService {
	s.now = now
	s.started = now()
	return s
}

// Enabled reports whether an admin password is configured.
func (s *AdminService) Enabled() bool {
	return s.hash != ""
}

// Login checks password and opens a session.
func (s *AdminService) Login(ctx context.Context, password string) (string, time.Time, error) {
	if !s.Enabled() {
		return "", time.Time{}, apperror.Forbidden("admin access is disabled")
	}
	if password == "" {
		return "", time.Time{}, apperror.ValidationFailed("password", "required", "Password is required")
	}
	if err := s.passwords.Verify(s.hash, password); err != nil {
		if errors.Is(err, auth.ErrWrongPassword) {
			s.logger.Warn("admin login failed")
			return "", time.Time{}, apperror.Unauthorized("Invalid password")
		}
		return "", time.Time{}, fmt.Errorf("verifying admin password: %w", err)
	}

	token, claims, err := s.tokens.Issue(adminSubject, s.ttl)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("issuing admin token: %w", err)
	}
	s.sessions.Add(claims.SessionID, claims.ExpiresAt)

	s.logger.Info("admin login", slog.String("session", claims.SessionID))
	return token, claims.ExpiresAt, nil
}

// Authenticate implements auth.Authenticator: the token must be valid and its
// session still open.
func (s *AdminService) Authenticate(_ context.Context, token string) (auth.Claims, error) {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return auth.Claims{}, err
	}
	if !s.sessions.Active(claims.SessionID) {
		return auth.Claims{}, apperror.Unauthorized("session ended")
	}
	return claims, nil
}

// Logout closes the session behind token. Unknown or invalid tokens are
// ignored.
func (s *AdminService) Logout(_ context.Context, token string) {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return
	}
	s.sessions.Revoke(claims.SessionID)
	s.logger.Info("admin logout", slog.String("session", claims.SessionID))
}

// Stats are the dashboard counters.
type Stats struct {
	TotalSignups   int     `json:"totalSignups"`
	TodaySignups   int     `json:"todaySignups"`
	WeekSignups    int     `json:"weekSignups"`
	TrackedClients int     `json:"trackedClients"`
	BlockedClients int     `json:"blockedClients"`
	EventsRecorded int     `json:"eventsRecorded"`
	ActiveSessions int     `json:"activeSessions"`
	UptimeSeconds  float64 `json:"uptimeSeconds"`
}

// SignupView is a signup as listed on the dashboard.
type SignupView struct {
	SignupID  string    `json:"signupId"`
	Email     string    `json:"email"`
	Position  int       `json:"position"`
	Country   string    `json:"country,omitempty"`
	Referrer  string    `json:"referrer,omitempty"`
	BotScore  int       `json:"botScore"`
	CreatedAt time.Time `json:"date"`
}

// Dashboard is everything GET /admin/data returns.
type Dashboard struct {
	Stats         Stats        `json:"stats"`
	RecentSignups []SignupView `json:"recentSignups"`
	RecentEvents  []Event      `json:"recentEvents"`
	GeneratedAt   time.Time    `json:"generatedAt"`
}

// Dashboard collects store and limiter statistics, the newest signups
// (masked) and the newest intake events.
func (s *AdminService) Dashboard(ctx context.Context) (*Dashboard, error) {
	now := s.now().UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var st Stats
	var err error
	if st.TotalSignups, err = s.repo.Count(ctx); err != nil {
		return nil, fmt.Errorf("counting signups: %w", err)
	}
	if st.TodaySignups, err = s.repo.CountSince(ctx, startOfDay); err != nil {
		return nil, fmt.Errorf("counting today's signups: %w", err)
	}
	if st.WeekSignups, err = s.repo.CountSince(ctx, now.Add(-7*24*time.Hour)); err != nil {
		return nil, fmt.Errorf("counting this week's signups: %w", err)
	}
	if s.limiter != nil {
		rl, err := s.limiter.Stats(ctx)
		if err != nil {
			// Stats are informational; the dashboard still renders.
			s.logger.Warn("rate limiter stats unavailable", slog.String("error", err.Error()))
		}
		st.TrackedClients, st.BlockedClients = rl.Tracked, rl.Blocked
	}
	st.EventsRecorded = s.events.Total()
	st.ActiveSessions = s.sessions.Len()
	st.UptimeSeconds = now.Sub(s.started).Seconds()

	recent, err := s.RecentSignups(ctx, dashboardSignups, true)
	if err != nil {
		return nil, err
	}

	return &Dashboard{
		Stats:         st,
		RecentSignups: recent,
		RecentEvents:  s.events.Recent(dashboardEvents),
		GeneratedAt:   now,
	}, nil
}

// RecentSignups returns up to n signups, newest first. masked hides most of
// each address.
func (s *AdminService) RecentSignups(ctx context.Context, n int, masked bool) ([]SignupView, error) {
	signups, err := s.repo.Recent(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("listing recent signups: %w", err)
	}

	views := make([]SignupView, 0, len(signups))
	for _, su := range signups {
		email := su.Email
		if masked {
			email = model.MaskEmail(email)
		}
		views = append(views, SignupView{
			SignupID:  su.SignupID,
			Email:     email,
			Position:  su.Position,
			Country:   su.Country,
			Referrer:  su.Referrer,
			BotScore:  su.BotScore,
			CreatedAt: su.CreatedAt,
		})
	}
	return views, nil
}
