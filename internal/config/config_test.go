package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapEnv(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(mapEnv(nil))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "data/waitlist.db", cfg.DBPath)
	assert.Equal(t, "*", cfg.AllowedOrigin)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, 5, cfg.Policy.RateLimit.MaxRequests)
	assert.Equal(t, time.Hour, cfg.Policy.RateLimit.Window)
	assert.Equal(t, 24*time.Hour, cfg.Policy.RateLimit.BlockDuration)
	assert.Equal(t, "website", cfg.Policy.Abuse.HoneypotField)
	assert.Equal(t, 1000, cfg.Policy.Events)
	assert.False(t, cfg.SMTP.Enabled())
}

func TestLoad_EnvOverrides(t *testing.T) {
	cfg, err := load(mapEnv(map[string]string{
		"PORT":              "9000",
		"LOG_LEVEL":         "debug",
		"SMTP_HOST":         "mail.example.com",
		"SMTP_USER":         "bot@example.com",
		"SMTP_PASS":         "secret",
		"ADMIN_PASSWORD":    "hunter2",
		"RATE_LIMIT_MAX":    "3",
		"RATE_LIMIT_WINDOW": "30m",
	}))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.True(t, cfg.SMTP.Enabled())
	assert.Equal(t, "bot@example.com", cfg.SMTP.From, "From defaults to SMTP_USER")
	assert.Equal(t, "bot@example.com", cfg.SMTP.AdminEmail, "ADMIN_EMAIL defaults to SMTP_USER")
	assert.Equal(t, "hunter2", cfg.Admin.Password)
	assert.Equal(t, 3, cfg.Policy.RateLimit.MaxRequests)
	assert.Equal(t, 30*time.Minute, cfg.Policy.RateLimit.Window)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"non-numeric port", map[string]string{"PORT": "eighty"}},
		{"port out of range", map[string]string{"PORT": "70000"}},
		{"bad duration", map[string]string{"RATE_LIMIT_WINDOW": "soon"}},
		{"bad log level", map[string]string{"LOG_LEVEL": "loud"}},
		{"zero max", map[string]string{"RATE_LIMIT_MAX": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(mapEnv(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestLoad_PolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
email:
  blocked_domains: [spam.example]
abuse:
  threshold: 70
  min_fill_time: 3s
  honeypot_field: company
rate_limit:
  max_requests: 10
  block_duration: 1h
event_buffer: 50
`), 0o600))

	cfg, err := load(mapEnv(map[string]string{
		"WAITLIST_CONFIG": path,
		"RATE_LIMIT_MAX":  "8",
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"spam.example"}, cfg.Policy.Email.BlockedDomains)
	assert.Equal(t, 254, cfg.Policy.Email.MaxLength, "unset keys keep defaults")
	assert.Equal(t, 70, cfg.Policy.Abuse.Threshold)
	assert.Equal(t, 3*time.Second, cfg.Policy.Abuse.MinFillTime)
	assert.Equal(t, "company", cfg.Policy.Abuse.HoneypotField)
	assert.Equal(t, time.Hour, cfg.Policy.RateLimit.BlockDuration)
	assert.Equal(t, 8, cfg.Policy.RateLimit.MaxRequests, "environment beats the file")
	assert.Equal(t, 50, cfg.Policy.Events)

	assert.Equal(t, 70, cfg.Policy.AbuseConfig().Threshold)
	assert.Equal(t, 8, cfg.Policy.RateLimitConfig().MaxRequests)
	assert.Equal(t, []string{"spam.example"}, cfg.Policy.ValidatorConfig().BlockedDomains)
}

func TestLoad_MissingPolicyFile(t *testing.T) {
	_, err := load(mapEnv(map[string]string{"WAITLIST_CONFIG": "/nonexistent/policy.yaml"}))
	assert.Error(t, err)
}
