package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/waitlist/internal/service"
	"github.com/sakif/waitlist/internal/validator"
)

const maxSubmitBody = 1 << 20

// Submitter runs a submission through the intake pipeline.
// *service.IntakeService implements it.
type Submitter interface {
	Submit(ctx context.Context, sub service.Submission) (*service.Outcome, error)
}

// CountryResolver finds the client's country. *geo.Resolver implements it.
type CountryResolver interface {
	Country(h http.Header, ip string) string
}

// SubmitHandler serves the waitlist widget endpoint.
type SubmitHandler struct {
	intake        Submitter
	geo           CountryResolver
	honeypotField string
	logger        *slog.Logger
	now           func() time.Time
}

// NewSubmitHandler creates a SubmitHandler. geo may be nil.
func NewSubmitHandler(intake Submitter, geo CountryResolver, honeypotField string, logger *slog.Logger) *SubmitHandler {
	if honeypotField == "" {
		honeypotField = "website"
	}
	return &SubmitHandler{
		intake:        intake,
		geo:           geo,
		honeypotField: honeypotField,
		logger:        logger,
		now:           time.Now,
	}
}

// HandleHealth answers the widget's liveness probe.
//
// HTTP: GET /submit
func (h *SubmitHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": h.now().UTC().Format(time.RFC3339Nano),
	})
}

// HandleSubmit accepts a waitlist signup.
//
// HTTP: POST /submit
// Body: {"email": "...", "_timestamp": 1700000000000, "_fingerprint": "...", "website": ""}
//
// The body is decoded into a map rather than a struct: the honeypot field
// name is configurable and "email" may arrive as any JSON type, which the
// validator reports on.
func (h *SubmitHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := chimiddleware.GetReqID(r.Context())

	var body map[string]any
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBody))
	// Exactly one object: trailing bytes after it are as malformed as a
	// truncated body.
	if err := dec.Decode(&body); err != nil || body == nil || !atEOF(dec) {
		writeJSON(w, http.StatusBadRequest, Envelope{
			Code:    CodeInvalidJSON,
			Message: "Invalid request format",
		})
		return
	}

	ip := clientIP(r)
	sub := service.Submission{
		Email:             body["email"],
		IP:                ip,
		UserAgent:         r.UserAgent(),
		Referrer:          r.Referer(),
		FormLoadedAtMs:    formTimestamp(body["_timestamp"], r.Header.Get("X-Timestamp")),
		BodyFingerprint:   stringField(body["_fingerprint"]),
		HeaderFingerprint: r.Header.Get("X-Fingerprint"),
		Honeypot:          honeypotValue(body[h.honeypotField]),
		HasAccept:         r.Header.Get("Accept") != "",
		HasAcceptLanguage: r.Header.Get("Accept-Language") != "",
		RequestID:         requestID,
	}
	if h.geo != nil {
		sub.Country = h.geo.Country(r.Header, ip)
	}

	out, err := h.intake.Submit(r.Context(), sub)
	if err != nil || out == nil || out.State == service.StateError {
		// The service has already logged the cause with the client id.
		writeJSON(w, http.StatusInternalServerError, Envelope{
			Code:      CodeInternalError,
			Message:   "Something went wrong. Please try again.",
			RequestID: requestID,
		})
		return
	}

	switch out.State {
	case service.StateRateLimited:
		w.Header().Set("Retry-After", strconv.Itoa(out.RetryAfter))
		w.Header().Set("X-RateLimit-Remaining", "0")
		writeJSON(w, http.StatusTooManyRequests, Envelope{
			Code:       CodeRateLimited,
			Message:    out.Message,
			RetryAfter: out.RetryAfter,
		})

	case service.StateValidationFailed:
		code := CodeInvalidEmail
		if out.Rule == validator.RuleRequired {
			code = CodeEmailRequired
		}
		writeJSON(w, http.StatusBadRequest, Envelope{Code: code, Message: out.Message})

	case service.StateDuplicate:
		h.pipelineHeaders(w, out, start)
		writeJSON(w, http.StatusOK, Envelope{
			Success: true,
			Code:    CodeAlreadyRegistered,
			Message: "You're already on the waitlist! Check your inbox for your welcome email.",
		})

	case service.StateAccepted, service.StateBotSuppressed:
		h.pipelineHeaders(w, out, start)
		writeJSON(w, http.StatusOK, Envelope{
			Success:  true,
			Code:     CodeSuccess,
			SignupID: out.SignupID,
		})

	default:
		h.logger.Error("unknown intake state", slog.String("state", string(out.State)))
		writeJSON(w, http.StatusInternalServerError, Envelope{
			Code:      CodeInternalError,
			RequestID: requestID,
		})
	}
}

func (h *SubmitHandler) pipelineHeaders(w http.ResponseWriter, out *service.Outcome, start time.Time) {
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(out.Remaining))
	w.Header().Set("X-Response-Time", fmt.Sprintf("%dms", time.Since(start).Milliseconds()))
}

// clientIP returns the address chi's RealIP middleware left in RemoteAddr,
// without a port.
func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	if addr == "" {
		return "unknown"
	}
	return addr
}

// formTimestamp reads the form-load time from the body, falling back to the
// X-Timestamp header. Anything unparseable counts as absent.
func formTimestamp(v any, header string) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			return n
		}
	}
	if n, err := strconv.ParseInt(strings.TrimSpace(header), 10, 64); err == nil {
		return n
	}
	return 0
}

func stringField(v any) string {
	s, _ := v.(string)
	return s
}

// honeypotValue turns any truthy JSON value into a non-empty string.
// atEOF reports whether only whitespace follows the decoded value.
func atEOF(dec *json.Decoder) bool {
	var extra json.RawMessage
	return errors.Is(dec.Decode(&extra), io.EOF)
}

func honeypotValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return ""
	case float64:
		if t != 0 {
			return strconv.FormatFloat(t, 'f', -1, 64)
		}
		return ""
	default:
		return "set"
	}
}
