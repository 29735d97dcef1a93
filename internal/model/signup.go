// Package model defines the data structures shared across the application.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Signup is an accepted waitlist entry.
//
// EmailHash is the dedup key: the store enforces its uniqueness, so one
// normalized address can only ever produce one Signup. Position is assigned
// by the store at insert time (count of prior signups + 1).
type Signup struct {
	SignupID  string    `json:"signupId"`
	Email     string    `json:"email"`
	EmailHash string    `json:"emailHash"`
	Position  int       `json:"position"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"userAgent"`
	Country   string    `json:"country"`
	Referrer  string    `json:"referrer"`
	BotScore  int       `json:"botScore"`
	CreatedAt time.Time `json:"createdAt"`
}

// HashEmail returns the hex SHA-256 of the lower-cased address.
// Callers pass an already-normalized email; lower-casing again keeps the hash
// stable if they don't.
func HashEmail(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(email)))
	return hex.EncodeToString(sum[:])
}

// MaskEmail hides most of the local part: "abcdef@x.com" → "ab***@x.com".
// Local parts of one or two characters keep only what they have.
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return "***"
	}
	local, domain := email[:at], email[at+1:]
	keep := 2
	if len(local) < keep {
		keep = len(local)
	}
	return local[:keep] + "***@" + domain
}
