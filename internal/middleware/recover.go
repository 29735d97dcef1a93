package middleware

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// panicBody mirrors the handler package's error envelope.
type panicBody struct {
	Success   bool   `json:"success"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// Recoverer turns a handler panic into the same 500 envelope the handlers
// write for internal errors, with the request id the client can quote.
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rvr := recover()
				if rvr == nil {
					return
				}
				// net/http uses this to abort a response; it must keep unwinding.
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}

				requestID := chimiddleware.GetReqID(r.Context())
				logger.LogAttrs(r.Context(), slog.LevelError, "panic recovered",
					slog.String("panic", fmt.Sprint(rvr)),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("ip", r.RemoteAddr),
					slog.String("requestId", requestID),
					slog.String("stack", string(debug.Stack())),
				)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				json.NewEncoder(w).Encode(panicBody{
					Code:      "INTERNAL_ERROR",
					Message:   "Something went wrong. Please try again.",
					RequestID: requestID,
				})
			}()

			next.ServeHTTP(w, r)
		})
	}
}
