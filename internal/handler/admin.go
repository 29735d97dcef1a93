package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/waitlist/internal/apperror"
	"github.com/sakif/waitlist/internal/auth"
	"github.com/sakif/waitlist/internal/service"
)

// AdminAPI is what the dashboard endpoints need. *service.AdminService
// implements it.
type AdminAPI interface {
	auth.Authenticator
	Login(ctx context.Context, password string) (string, time.Time, error)
	Logout(ctx context.Context, token string)
	Dashboard(ctx context.Context) (*service.Dashboard, error)
}

// AdminHandler serves /admin.
type AdminHandler struct {
	admin  AdminAPI
	logger *slog.Logger
}

func NewAdminHandler(admin AdminAPI, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{admin: admin, logger: logger}
}

type loginRequest struct {
	Password string `json:"password"`
}

type loginResponse struct {
	Success   bool      `json:"success"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Message   string    `json:"message"`
}

// HandleLogin exchanges the admin password for a bearer token.
//
// HTTP: POST /admin/login
func (h *AdminHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Envelope{Code: CodeInvalidJSON, Message: "Invalid request"})
		return
	}

	token, expires, err := h.admin.Login(r.Context(), req.Password)
	if err != nil {
		if !errors.Is(err, apperror.ErrUnauthorized) && !errors.Is(err, apperror.ErrForbidden) {
			h.logger.Error("admin login failed", slog.String("error", err.Error()))
		}
		writeError(w, err, chimiddleware.GetReqID(r.Context()))
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Success:   true,
		Token:     token,
		ExpiresAt: expires,
		Message:   "Login successful",
	})
}

// HandleVerify reports whether the bearer token still opens a session.
//
// HTTP: POST /admin/verify
func (h *AdminHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	token := auth.BearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]bool{"valid": false})
		return
	}
	if _, err := h.admin.Authenticate(r.Context(), token); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]bool{"valid": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

// HandleLogout ends the session. It always succeeds so a stale client can
// clear its state.
//
// HTTP: POST /admin/logout
func (h *AdminHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if token := auth.BearerToken(r); token != "" {
		h.admin.Logout(r.Context(), token)
	}
	writeJSON(w, http.StatusOK, Envelope{Success: true, Message: "Logged out"})
}

// HandleData returns the dashboard payload.
//
// HTTP: GET /admin/data
// Auth: Required (auth.RequireAdmin)
func (h *AdminHandler) HandleData(w http.ResponseWriter, r *http.Request) {
	d, err := h.admin.Dashboard(r.Context())
	if err != nil {
		h.logger.Error("building dashboard", slog.String("error", err.Error()))
		writeError(w, err, chimiddleware.GetReqID(r.Context()))
		return
	}
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		h.logger.Debug("dashboard served", slog.String("session", claims.SessionID))
	}
	writeJSON(w, http.StatusOK, d)
}
