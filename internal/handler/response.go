package handler

// RESPONSE HELPERS:
// Every endpoint answers with the same envelope:
//
//	{"success": false, "code": "INVALID_EMAIL", "message": "..."}
//
// so the widget can branch on "code" without looking at the status.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/waitlist/internal/apperror"
)

// Response codes.
const (
	CodeSuccess           = "SUCCESS"
	CodeAlreadyRegistered = "ALREADY_REGISTERED"
	CodeRateLimited       = "RATE_LIMITED"
	CodeInvalidEmail      = "INVALID_EMAIL"
	CodeEmailRequired     = "EMAIL_REQUIRED"
	CodeInvalidJSON       = "INVALID_JSON"
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeInternalError     = "INTERNAL_ERROR"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
)

// Envelope is the JSON body of every submit and admin response.
type Envelope struct {
	Success    bool   `json:"success"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
	SignupID   string `json:"signupId,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
	RequestID  string `json:"requestId,omitempty"`
}

// writeJSON sets headers, then the status, then the body. Headers set after
// the first Write are silently dropped.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are gone already; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a domain error to a status and code. Messages from
// AppError are safe to show; anything else becomes a generic 500.
func writeError(w http.ResponseWriter, err error, requestID string) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		code := CodeInternalError

		switch {
		case errors.Is(err, apperror.ErrValidation):
			status, code = http.StatusBadRequest, CodeInvalidRequest
		case errors.Is(err, apperror.ErrUnauthorized):
			status, code = http.StatusUnauthorized, CodeUnauthorized
		case errors.Is(err, apperror.ErrForbidden):
			status, code = http.StatusForbidden, CodeForbidden
		}

		if status != http.StatusInternalServerError {
			writeJSON(w, status, Envelope{Code: code, Message: appErr.Message})
			return
		}
	}

	// Never echo internal error text: it can carry SQL or file paths.
	writeJSON(w, http.StatusInternalServerError, Envelope{
		Code:      CodeInternalError,
		Message:   "Something went wrong. Please try again.",
		RequestID: requestID,
	})
}
