// Package server is the composition root: it builds every dependency from
// the configuration, mounts the routes and owns graceful shutdown.
//
// DEPENDENCY FLOW:
//
//	config.Config
//	  → storage (postgres when DATABASE_URL is set, otherwise sqlite)
//	  → rate limiter (sqlite-backed, or in-memory next to postgres)
//	  → notifier (SMTP when credentials are set, otherwise log-only) → Dispatcher
//	  → IntakeService / AdminService
//	  → handlers → chi router
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/waitlist/internal/abuse"
	"github.com/sakif/waitlist/internal/auth"
	"github.com/sakif/waitlist/internal/config"
	"github.com/sakif/waitlist/internal/geo"
	"github.com/sakif/waitlist/internal/handler"
	"github.com/sakif/waitlist/internal/middleware"
	"github.com/sakif/waitlist/internal/notify"
	"github.com/sakif/waitlist/internal/ratelimit"
	"github.com/sakif/waitlist/internal/repository"
	"github.com/sakif/waitlist/internal/repository/postgres"
	sqliteRepo "github.com/sakif/waitlist/internal/repository/sqlite"
	"github.com/sakif/waitlist/internal/service"
	"github.com/sakif/waitlist/internal/validator"
)

// Server is the HTTP server and everything it owns.
type Server struct {
	router     *chi.Mux
	cfg        *config.Config
	logger     *slog.Logger
	dispatcher *notify.Dispatcher

	// closers run in reverse order on Close.
	closers []func() error
}

// New wires the whole service from cfg. On error every resource opened so
// far is released.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	s := &Server{
		router: chi.NewRouter(),
		cfg:    cfg,
		logger: logger,
	}
	if err := s.build(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) build() error {
	cfg, logger := s.cfg, s.logger

	// === STORAGE + LIMITER ===
	repo, limiter, err := s.openStorage()
	if err != nil {
		return err
	}

	// === GEO ===
	resolver, err := geo.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		return err
	}
	s.closers = append(s.closers, resolver.Close)

	// === NOTIFICATIONS ===
	notifier, err := s.newNotifier()
	if err != nil {
		return err
	}
	s.dispatcher = notify.NewDispatcher(notifier, notify.DispatcherConfig{
		Workers:     cfg.Notify.Workers,
		QueueSize:   cfg.Notify.QueueSize,
		SendTimeout: cfg.Notify.SendTimeout,
	}, logger)
	s.dispatcher.Start()

	// === SERVICES ===
	detector, err := abuse.New(cfg.Policy.AbuseConfig())
	if err != nil {
		return fmt.Errorf("building bot detector: %w", err)
	}
	events := service.NewEventLog(cfg.Policy.Events)
	intake := service.NewIntakeService(
		limiter,
		detector,
		validator.New(cfg.Policy.ValidatorConfig()),
		repo,
		s.dispatcher,
		events,
		logger,
	)

	admin, err := s.newAdminService(repo, limiter, events)
	if err != nil {
		return err
	}

	s.routes(
		handler.NewSubmitHandler(intake, resolver, cfg.Policy.Abuse.HoneypotField, logger),
		handler.NewAdminHandler(admin, logger),
		admin,
	)
	return nil
}

// openStorage picks the signup store and the limiter that goes with it.
func (s *Server) openStorage() (repository.SignupRepository, ratelimit.Limiter, error) {
	rlCfg := s.cfg.Policy.RateLimitConfig()

	if s.cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		db, err := postgres.Connect(ctx, s.cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		s.closers = append(s.closers, db.Close)
		s.logger.Info("using postgres signup store; rate limits are in-memory")
		return db, ratelimit.NewMemory(rlCfg), nil
	}

	db, err := sqliteRepo.New(s.cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	s.closers = append(s.closers, db.Close)
	s.logger.Info("using sqlite signup store", slog.String("path", s.cfg.DBPath))
	return db, sqliteRepo.NewRateLimiter(db, rlCfg), nil
}

func (s *Server) newNotifier() (notify.Notifier, error) {
	if !s.cfg.SMTP.Enabled() {
		s.logger.Warn("SMTP not configured, notifications are logged only")
		return notify.NewLog(s.logger), nil
	}
	n, err := notify.NewSMTP(notify.SMTPConfig{
		Host:       s.cfg.SMTP.Host,
		Port:       s.cfg.SMTP.Port,
		Username:   s.cfg.SMTP.User,
		Password:   s.cfg.SMTP.Pass,
		From:       s.cfg.SMTP.From,
		FromName:   s.cfg.SMTP.FromName,
		AdminEmail: s.cfg.SMTP.AdminEmail,
		Timeout:    s.cfg.Notify.SendTimeout,
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (s *Server) newAdminService(repo repository.SignupRepository, limiter ratelimit.Limiter, events *service.EventLog) (*service.AdminService, error) {
	secret := s.cfg.Admin.TokenSecret
	if secret == "" {
		// Tokens die with the process, which only costs the admin a login.
		var err error
		if secret, err = randomSecret(); err != nil {
			return nil, err
		}
		if s.cfg.Admin.Password != "" {
			s.logger.Warn("ADMIN_TOKEN_SECRET not set, using a per-process secret")
		}
	}
	tokens, err := auth.NewTokenService(secret)
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	stats, _ := limiter.(ratelimit.StatsReporter)
	admin, err := service.NewAdminService(
		service.AdminConfig{Password: s.cfg.Admin.Password, SessionTTL: s.cfg.Admin.SessionTTL},
		repo,
		stats,
		events,
		tokens,
		auth.NewSessionStore(),
		auth.NewPasswordService(),
		s.logger,
	)
	if err != nil {
		return nil, fmt.Errorf("creating admin service: %w", err)
	}
	if !admin.Enabled() {
		s.logger.Warn("ADMIN_PASSWORD not set, admin API is disabled")
	}
	return admin, nil
}

// routes mounts middleware and endpoints.
//
// ROUTES:
//
//	GET     /submit        health probe
//	POST    /submit        waitlist signup
//	OPTIONS *              CORS preflight (answered by middleware)
//	POST    /admin/login   password → bearer token
//	POST    /admin/verify  is this token still good?
//	POST    /admin/logout  end the session
//	GET     /admin/data    dashboard (bearer token required)
//
// Middleware order: request id first so every later layer can log it,
// RealIP before anything that looks at the client address, Recoverer
// around the handlers, CORS before routing so preflights never 405.
func (s *Server) routes(submit *handler.SubmitHandler, admin *handler.AdminHandler, authn auth.Authenticator) {
	cors := middleware.DefaultCORS()
	cors.AllowedOrigin = s.cfg.AllowedOrigin

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Recoverer(s.logger))
	s.router.Use(middleware.CORS(cors))
	s.router.Use(middleware.SecurityHeaders(middleware.DefaultHeaders()))

	s.router.Get("/submit", submit.HandleHealth)
	s.router.Post("/submit", submit.HandleSubmit)

	s.router.Route("/admin", func(r chi.Router) {
		r.Post("/login", admin.HandleLogin)
		r.Post("/verify", admin.HandleVerify)
		r.Post("/logout", admin.HandleLogout)
		r.With(auth.RequireAdmin(authn)).Get("/data", admin.HandleData)
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close stops the dispatcher, letting queued notifications go out, then
// releases storage and the geo database.
func (s *Server) Close() error {
	if s.dispatcher != nil {
		s.dispatcher.Stop()
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Start serves until SIGINT or SIGTERM, then shuts down in order:
//  1. stop accepting connections and let in-flight requests finish (30s)
//  2. drain the notification queue
//  3. close the database
func (s *Server) Start() error {
	defer func() {
		if err := s.Close(); err != nil {
			s.logger.Error("closing resources", slog.String("error", err.Error()))
		}
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.cfg.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.cfg.Port)),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
