package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeAuthenticator struct {
	valid string
}

func (f fakeAuthenticator) Authenticate(_ context.Context, token string) (Claims, error) {
	if token != f.valid {
		return Claims{}, ErrTokenInvalid
	}
	return Claims{Subject: "admin", SessionID: "sess-1"}, nil
}

func TestRequireAdmin(t *testing.T) {
	var seen Claims
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := RequireAdmin(fakeAuthenticator{valid: "good"})(next)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic good", http.StatusUnauthorized},
		{"bad token", "Bearer bad", http.StatusUnauthorized},
		{"good token", "Bearer good", http.StatusNoContent},
		{"lowercase scheme", "bearer good", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = Claims{}
			req := httptest.NewRequest(http.MethodGet, "/admin/data", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusNoContent && seen.SessionID != "sess-1" {
				t.Errorf("claims not in context: %+v", seen)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer   abc.def.ghi  ")
	if got := BearerToken(req); got != "abc.def.ghi" {
		t.Errorf("BearerToken() = %q", got)
	}
}
