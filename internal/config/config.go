// Package config loads the service configuration.
//
// Sources, later ones winning:
//  1. built-in defaults (DefaultConfig)
//  2. an optional YAML policy file named by WAITLIST_CONFIG
//  3. environment variables
//
// Secrets (SMTP password, admin password, token secret) are only read from
// the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sakif/waitlist/internal/abuse"
	"github.com/sakif/waitlist/internal/ratelimit"
	"github.com/sakif/waitlist/internal/validator"
)

// Config is the complete service configuration.
type Config struct {
	Port          int
	DBPath        string
	DatabaseURL   string
	LogLevel      slog.Level
	AllowedOrigin string
	GeoIPDBPath   string

	SMTP   SMTPConfig
	Admin  AdminConfig
	Notify NotifyConfig
	Policy Policy
}

// SMTPConfig holds mail relay settings. Host empty means "log only".
type SMTPConfig struct {
	Host       string
	Port       int
	User       string
	Pass       string
	From       string
	FromName   string
	AdminEmail string
}

// Enabled reports whether enough is set to send real mail.
func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.User != "" && c.Pass != ""
}

// AdminConfig holds the admin API settings. An empty Password disables it.
type AdminConfig struct {
	Password    string
	TokenSecret string
	SessionTTL  time.Duration
}

// NotifyConfig sizes the notification dispatcher.
type NotifyConfig struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
}

// Policy is the tunable intake policy. It is the part a YAML file may set.
type Policy struct {
	Email     EmailPolicy     `yaml:"email"`
	Abuse     AbusePolicy     `yaml:"abuse"`
	RateLimit RateLimitPolicy `yaml:"rate_limit"`
	Events    int             `yaml:"event_buffer"`
}

// EmailPolicy configures the validator.
type EmailPolicy struct {
	MinLength      int      `yaml:"min_length"`
	MaxLength      int      `yaml:"max_length"`
	BlockedDomains []string `yaml:"blocked_domains"`
}

// AbusePolicy configures the bot detector.
type AbusePolicy struct {
	Threshold     int           `yaml:"threshold"`
	MinFillTime   time.Duration `yaml:"min_fill_time"`
	MaxFillTime   time.Duration `yaml:"max_fill_time"`
	BotPatterns   []string      `yaml:"bot_patterns"`
	HoneypotField string        `yaml:"honeypot_field"`
}

// RateLimitPolicy configures the limiter.
type RateLimitPolicy struct {
	Window        time.Duration `yaml:"window"`
	MaxRequests   int           `yaml:"max_requests"`
	BlockDuration time.Duration `yaml:"block_duration"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	v := validator.DefaultConfig()
	a := abuse.DefaultConfig()
	rl := ratelimit.DefaultConfig()

	return &Config{
		Port:          8080,
		DBPath:        "data/waitlist.db",
		LogLevel:      slog.LevelInfo,
		AllowedOrigin: "*",
		SMTP: SMTPConfig{
			Host:     "smtp.gmail.com",
			Port:     587,
			FromName: "Waitlist",
		},
		Admin: AdminConfig{SessionTTL: 24 * time.Hour},
		Notify: NotifyConfig{
			Workers:     2,
			QueueSize:   100,
			SendTimeout: 10 * time.Second,
		},
		Policy: Policy{
			Email: EmailPolicy{
				MinLength:      v.MinLength,
				MaxLength:      v.MaxLength,
				BlockedDomains: v.BlockedDomains,
			},
			Abuse: AbusePolicy{
				Threshold:     a.Threshold,
				MinFillTime:   a.MinFillTime,
				MaxFillTime:   a.MaxFillTime,
				BotPatterns:   a.BotPatterns,
				HoneypotField: "website",
			},
			RateLimit: RateLimitPolicy{
				Window:        rl.Window,
				MaxRequests:   rl.MaxRequests,
				BlockDuration: rl.BlockDuration,
			},
			Events: 1000,
		},
	}
}

// Load builds the configuration from defaults, the policy file and the
// process environment.
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	cfg := DefaultConfig()

	if path := getenv("WAITLIST_CONFIG"); path != "" {
		if err := cfg.loadPolicyFile(path); err != nil {
			return nil, err
		}
	}

	e := env{get: getenv}
	cfg.Port = e.int("PORT", cfg.Port)
	cfg.DBPath = e.str("DB_PATH", cfg.DBPath)
	cfg.DatabaseURL = e.str("DATABASE_URL", cfg.DatabaseURL)
	cfg.LogLevel = e.level("LOG_LEVEL", cfg.LogLevel)
	cfg.AllowedOrigin = e.str("ALLOWED_ORIGIN", cfg.AllowedOrigin)
	cfg.GeoIPDBPath = e.str("GEOIP_DB_PATH", cfg.GeoIPDBPath)

	cfg.SMTP.Host = e.str("SMTP_HOST", cfg.SMTP.Host)
	cfg.SMTP.Port = e.int("SMTP_PORT", cfg.SMTP.Port)
	cfg.SMTP.User = e.str("SMTP_USER", cfg.SMTP.User)
	cfg.SMTP.Pass = e.str("SMTP_PASS", cfg.SMTP.Pass)
	cfg.SMTP.From = e.str("SMTP_FROM", cfg.SMTP.User)
	cfg.SMTP.FromName = e.str("SMTP_FROM_NAME", cfg.SMTP.FromName)
	cfg.SMTP.AdminEmail = e.str("ADMIN_EMAIL", cfg.SMTP.User)

	cfg.Admin.Password = e.str("ADMIN_PASSWORD", cfg.Admin.Password)
	cfg.Admin.TokenSecret = e.str("ADMIN_TOKEN_SECRET", cfg.Admin.TokenSecret)
	cfg.Admin.SessionTTL = e.duration("ADMIN_SESSION_TTL", cfg.Admin.SessionTTL)

	cfg.Notify.Workers = e.int("NOTIFY_WORKERS", cfg.Notify.Workers)
	cfg.Notify.QueueSize = e.int("NOTIFY_QUEUE_SIZE", cfg.Notify.QueueSize)
	cfg.Notify.SendTimeout = e.duration("NOTIFY_SEND_TIMEOUT", cfg.Notify.SendTimeout)

	rl := &cfg.Policy.RateLimit
	rl.Window = e.duration("RATE_LIMIT_WINDOW", rl.Window)
	rl.MaxRequests = e.int("RATE_LIMIT_MAX", rl.MaxRequests)
	rl.BlockDuration = e.duration("RATE_LIMIT_BLOCK", rl.BlockDuration)

	if e.err != nil {
		return nil, e.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadPolicyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c.Policy); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.DBPath == "" && c.DatabaseURL == "" {
		errs = append(errs, errors.New("one of DB_PATH or DATABASE_URL is required"))
	}
	if c.Admin.Password != "" && c.Admin.SessionTTL <= 0 {
		errs = append(errs, errors.New("admin session ttl must be > 0"))
	}
	if c.Notify.Workers <= 0 {
		errs = append(errs, errors.New("notify workers must be > 0"))
	}
	if c.Notify.SendTimeout <= 0 {
		errs = append(errs, errors.New("notify send timeout must be > 0"))
	}

	p := c.Policy
	if p.Email.MinLength <= 0 || p.Email.MaxLength < p.Email.MinLength {
		errs = append(errs, fmt.Errorf("email length bounds %d..%d invalid", p.Email.MinLength, p.Email.MaxLength))
	}
	if p.Abuse.Threshold <= 0 || p.Abuse.Threshold > 100 {
		errs = append(errs, fmt.Errorf("abuse threshold %d not in 1..100", p.Abuse.Threshold))
	}
	if p.Abuse.MinFillTime < 0 || p.Abuse.MaxFillTime <= p.Abuse.MinFillTime {
		errs = append(errs, errors.New("abuse fill time bounds invalid"))
	}
	if p.Abuse.HoneypotField == "" {
		errs = append(errs, errors.New("honeypot field is required"))
	}
	if p.RateLimit.Window <= 0 || p.RateLimit.MaxRequests <= 0 || p.RateLimit.BlockDuration <= 0 {
		errs = append(errs, errors.New("rate limit window, max and block duration must be > 0"))
	}
	if p.Events < 0 {
		errs = append(errs, errors.New("event buffer must be >= 0"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ValidatorConfig converts the email policy.
func (p Policy) ValidatorConfig() validator.Config {
	return validator.Config{
		MinLength:      p.Email.MinLength,
		MaxLength:      p.Email.MaxLength,
		BlockedDomains: p.Email.BlockedDomains,
	}
}

// AbuseConfig converts the abuse policy.
func (p Policy) AbuseConfig() abuse.Config {
	return abuse.Config{
		Threshold:   p.Abuse.Threshold,
		MinFillTime: p.Abuse.MinFillTime,
		MaxFillTime: p.Abuse.MaxFillTime,
		BotPatterns: p.Abuse.BotPatterns,
	}
}

// RateLimitConfig converts the limiter policy.
func (p Policy) RateLimitConfig() ratelimit.Config {
	return ratelimit.Config{
		Window:        p.RateLimit.Window,
		MaxRequests:   p.RateLimit.MaxRequests,
		BlockDuration: p.RateLimit.BlockDuration,
	}
}

// env reads typed values and remembers the first parse error.
type env struct {
	get func(string) string
	err error
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(e.get(key)); v != "" {
		return v
	}
	return def
}

func (e *env) int(key string, def int) int {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return n
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return d
}

func (e *env) level(key string, def slog.Level) slog.Level {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		e.fail(key, v, err)
		return def
	}
	return l
}

func (e *env) fail(key, value string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("config: invalid %s=%q: %w", key, value, err)
	}
}
