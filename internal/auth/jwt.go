// Package auth issues and checks admin credentials.
//
// The admin API has a single shared password. A successful login yields a
// signed JWT whose ID (jti) names a server-side session, so a token stops
// working either when it expires or when its session is revoked by logout.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/sakif/waitlist/internal/apperror"
)

const issuer = "waitlist-admin"

// Token errors. Both wrap apperror.ErrUnauthorized.
var (
	ErrTokenExpired = fmt.Errorf("auth: token expired: %w", apperror.ErrUnauthorized)
	ErrTokenInvalid = fmt.Errorf("auth: invalid token: %w", apperror.ErrUnauthorized)
)

// TokenService signs and validates admin tokens with HMAC-SHA256.
type TokenService struct {
	secret []byte
	now    func() time.Time
}

// NewTokenService requires a secret of at least 16 bytes.
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: token secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret), now: time.Now}, nil
}

// WithClock replaces the time source.
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	s.now = now
	return s
}

// Claims is what a valid token carries.
type Claims struct {
	Subject   string
	SessionID string
	ExpiresAt time.Time
}

// Issue signs a token for subject that expires after ttl. The returned
// Claims.SessionID is a fresh UUID.
func (s *TokenService) Issue(subject string, ttl time.Duration) (string, Claims, error) {
	now := s.now()
	c := Claims{
		Subject:   subject,
		SessionID: uuid.NewString(),
		ExpiresAt: now.Add(ttl),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ID:        c.SessionID,
		Subject:   subject,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, c, nil
}

// Validate checks the signature, issuer and expiry of tokenStr.
func (s *TokenService) Validate(tokenStr string) (Claims, error) {
	var rc jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&rc,
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid || rc.ID == "" || rc.Subject == "" {
		return Claims{}, ErrTokenInvalid
	}

	return Claims{
		Subject:   rc.Subject,
		SessionID: rc.ID,
		ExpiresAt: rc.ExpiresAt.Time,
	}, nil
}
