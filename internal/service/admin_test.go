package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/waitlist/internal/apperror"
	"github.com/sakif/waitlist/internal/auth"
	"github.com/sakif/waitlist/internal/model"
	"github.com/sakif/waitlist/internal/ratelimit"
	"github.com/sakif/waitlist/internal/repository/memory"
)

type fakeStats struct {
	stats ratelimit.Stats
	err   error
}

func (f fakeStats) Stats(context.Context) (ratelimit.Stats, error) { return f.stats, f.err }

type adminHarness struct {
	svc    *AdminService
	repo   *memory.Store
	events *EventLog
	now    *time.Time
}

func newAdminHarness(t *testing.T, password string) *adminHarness {
	t.Helper()
	now := testNow
	clock := func() time.Time { return now }

	tokens, err := auth.NewTokenService("admin-test-secret-0123456789")
	require.NoError(t, err)
	tokens.WithClock(clock)

	h := &adminHarness{
		repo:   memory.New().WithClock(clock),
		events: NewEventLog(100),
		now:    &now,
	}
	svc, err := NewAdminService(
		AdminConfig{Password: password, SessionTTL: 24 * time.Hour},
		h.repo,
		fakeStats{stats: ratelimit.Stats{Tracked: 7, Blocked: 2}},
		h.events,
		tokens,
		auth.NewSessionStore().WithClock(clock),
		auth.NewPasswordServiceWithCost(bcrypt.MinCost),
		discardLogger(),
	)
	require.NoError(t, err)
	h.svc = svc.WithClock(clock)
	return h
}

func TestAdmin_LoginWrongPassword(t *testing.T) {
	h := newAdminHarness(t, "open-sesame")

	_, _, err := h.svc.Login(context.Background(), "guess")
	assert.True(t, errors.Is(err, apperror.ErrUnauthorized), "err = %v", err)
}

func TestAdmin_LoginEmptyPassword(t *testing.T) {
	h := newAdminHarness(t, "open-sesame")

	_, _, err := h.svc.Login(context.Background(), "")
	require.True(t, errors.Is(err, apperror.ErrValidation), "err = %v", err)

	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "password", appErr.Field)
	assert.Equal(t, "required", appErr.Rule)
}

func TestAdmin_LoginDisabledWithoutPassword(t *testing.T) {
	h := newAdminHarness(t, "")

	assert.False(t, h.svc.Enabled())
	_, _, err := h.svc.Login(context.Background(), "")
	assert.True(t, errors.Is(err, apperror.ErrForbidden), "err = %v", err)
}

func TestAdmin_SessionLifecycle(t *testing.T) {
	h := newAdminHarness(t, "open-sesame")
	ctx := context.Background()

	token, expires, err := h.svc.Login(ctx, "open-sesame")
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(24*time.Hour), expires)

	claims, err := h.svc.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Subject)

	h.svc.Logout(ctx, token)
	_, err = h.svc.Authenticate(ctx, token)
	assert.True(t, errors.Is(err, apperror.ErrUnauthorized), "token must be dead after logout")

	// Logging out twice, or with garbage, is harmless.
	h.svc.Logout(ctx, token)
	h.svc.Logout(ctx, "garbage")
}

func TestAdmin_SessionExpires(t *testing.T) {
	h := newAdminHarness(t, "open-sesame")
	ctx := context.Background()

	token, _, err := h.svc.Login(ctx, "open-sesame")
	require.NoError(t, err)

	*h.now = h.now.Add(25 * time.Hour)

	_, err = h.svc.Authenticate(ctx, token)
	assert.True(t, errors.Is(err, apperror.ErrUnauthorized), "err = %v", err)
}

func TestAdmin_Dashboard(t *testing.T) {
	h := newAdminHarness(t, "open-sesame")
	ctx := context.Background()

	// Two signups eight days ago, three today.
	*h.now = testNow.Add(-8 * 24 * time.Hour)
	for i := 0; i < 2; i++ {
		require.NoError(t, h.repo.Append(ctx, signupFor(fmt.Sprintf("old%d@example.com", i))))
	}
	*h.now = testNow
	for i := 0; i < 3; i++ {
		require.NoError(t, h.repo.Append(ctx, signupFor(fmt.Sprintf("new%d@example.com", i))))
	}
	h.events.Record(Event{Type: EventSignup, SignupID: "DM-X"})
	_, _, err := h.svc.Login(ctx, "open-sesame")
	require.NoError(t, err)

	d, err := h.svc.Dashboard(ctx)
	require.NoError(t, err)

	assert.Equal(t, 5, d.Stats.TotalSignups)
	assert.Equal(t, 3, d.Stats.TodaySignups)
	assert.Equal(t, 3, d.Stats.WeekSignups)
	assert.Equal(t, 7, d.Stats.TrackedClients)
	assert.Equal(t, 2, d.Stats.BlockedClients)
	assert.Equal(t, 1, d.Stats.EventsRecorded)
	assert.Equal(t, 1, d.Stats.ActiveSessions)

	require.Len(t, d.RecentSignups, 5)
	assert.Equal(t, "ne***@example.com", d.RecentSignups[0].Email, "emails are masked")
	assert.Equal(t, 5, d.RecentSignups[0].Position, "newest first")
	require.Len(t, d.RecentEvents, 1)
}

func TestAdmin_DashboardSurvivesLimiterStatsError(t *testing.T) {
	h := newAdminHarness(t, "pw")
	h.svc.limiter = fakeStats{err: errors.New("db locked")}

	d, err := h.svc.Dashboard(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, d.Stats.BlockedClients)
}

func TestAdmin_RecentSignupsUnmasked(t *testing.T) {
	h := newAdminHarness(t, "pw")
	ctx := context.Background()
	require.NoError(t, h.repo.Append(ctx, signupFor("visible@example.com")))

	views, err := h.svc.RecentSignups(ctx, 10, false)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "visible@example.com", views[0].Email)
}

func signupFor(email string) *model.Signup {
	return &model.Signup{SignupID: NewSignupID(), Email: email, EmailHash: model.HashEmail(email)}
}
