package middleware

import (
	"net/http"
	"strings"
)

// CORSConfig lists what browsers may send cross-origin.
type CORSConfig struct {
	// AllowedOrigin is a single origin or "*".
	AllowedOrigin  string
	AllowedHeaders []string
	AllowedMethods []string
}

// DefaultCORS allows the widget's custom headers from any origin.
func DefaultCORS() CORSConfig {
	return CORSConfig{
		AllowedOrigin:  "*",
		AllowedHeaders: []string{"Content-Type", "X-Requested-With", "X-Fingerprint", "X-Timestamp", "Authorization"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	}
}

// CORS sets the CORS headers on every response and answers preflight
// requests with 204 before they reach a route.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	origin := cfg.AllowedOrigin
	if origin == "" {
		origin = "*"
	}
	headers := strings.Join(cfg.AllowedHeaders, ", ")
	methods := strings.Join(cfg.AllowedMethods, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			if origin != "*" {
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Headers", headers)
			h.Set("Access-Control-Allow-Methods", methods)
			h.Set("Access-Control-Expose-Headers", "Retry-After, X-RateLimit-Remaining, X-Response-Time")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
