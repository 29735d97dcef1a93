package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sakif/waitlist/internal/apperror"
)

func newTestTokenService(t *testing.T) (*TokenService, *time.Time) {
	t.Helper()
	ts, err := NewTokenService("test-secret-at-least-16-chars!!")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	now := time.Now()
	ts.WithClock(func() time.Time { return now })
	return ts, &now
}

func TestNewTokenService_SecretLength(t *testing.T) {
	tests := []struct {
		secret  string
		wantErr bool
	}{
		{"short", true},
		{"", true},
		{"this-is-16-chars", false},
	}
	for _, tt := range tests {
		_, err := NewTokenService(tt.secret)
		if (err != nil) != tt.wantErr {
			t.Errorf("NewTokenService(%q) error = %v, wantErr %v", tt.secret, err, tt.wantErr)
		}
	}
}

func TestIssue_LooksLikeJWTWithFreshSession(t *testing.T) {
	ts, _ := newTestTokenService(t)

	tok1, c1, err := ts.Issue("admin", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	tok2, c2, _ := ts.Issue("admin", time.Hour)

	if strings.Count(tok1, ".") != 2 {
		t.Errorf("Issue() token doesn't look like a JWT: %q", tok1)
	}
	if c1.SessionID == "" || c1.SessionID == c2.SessionID {
		t.Errorf("session IDs = %q, %q; want distinct non-empty", c1.SessionID, c2.SessionID)
	}
	if tok1 == tok2 {
		t.Error("two logins produced the same token")
	}
}

func TestValidate_RoundTrip(t *testing.T) {
	ts, _ := newTestTokenService(t)

	token, issued, err := ts.Issue("admin", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	got, err := ts.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got.Subject != "admin" || got.SessionID != issued.SessionID {
		t.Errorf("Validate() = %+v, want subject admin and session %s", got, issued.SessionID)
	}
}

func TestValidate_Expired(t *testing.T) {
	ts, now := newTestTokenService(t)

	token, _, _ := ts.Issue("admin", time.Hour)
	*now = now.Add(2 * time.Hour)

	_, err := ts.Validate(token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("Validate() error = %v, want ErrTokenExpired", err)
	}
	if !errors.Is(err, apperror.ErrUnauthorized) {
		t.Error("ErrTokenExpired should wrap apperror.ErrUnauthorized")
	}
}

func TestValidate_Rejects(t *testing.T) {
	ts, _ := newTestTokenService(t)
	other, _ := NewTokenService("a-completely-different-secret")

	foreign, _, _ := other.Issue("admin", time.Hour)
	valid, _, _ := ts.Issue("admin", time.Hour)
	tampered := valid[:len(valid)-2] + "xx"

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.jwt"},
		{"wrong secret", foreign},
		{"tampered signature", tampered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ts.Validate(tt.token); !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("Validate() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}
