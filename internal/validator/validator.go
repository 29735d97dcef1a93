// Package validator normalizes and checks email addresses submitted to the
// waitlist.
//
// Validation never stops at the first problem: Result.Violations lists every
// rule the address broke, in evaluation order. Callers usually show only the
// first one to the user.
package validator

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Rule names reported in Violation.Rule.
const (
	RuleRequired         = "required"
	RuleNotString        = "not_string"
	RuleTooShort         = "too_short"
	RuleTooLong          = "too_long"
	RuleFormat           = "format"
	RuleDisposableDomain = "disposable_domain"
	RuleDomainTLD        = "domain_tld"
)

// maxSanitizedLength caps how much of the raw input survives normalization.
const maxSanitizedLength = 500

// emailPattern is an RFC 5322-style grammar over lower-cased input: a dotted
// or quoted local part, then either a dotted hostname or a bracketed IP literal.
//
// The atom class contains a backtick, so it can't live in a raw string.
var emailPattern = regexp.MustCompile(
	`^(?:` + "[a-z0-9!#$%&'*+/=?^_`{|}~-]+(?:\\.[a-z0-9!#$%&'*+/=?^_`{|}~-]+)*" +
		`|"(?:[\x01-\x08\x0b\x0c\x0e-\x1f\x21\x23-\x5b\x5d-\x7f]|\\[\x01-\x09\x0b\x0c\x0e-\x7f])*")` +
		`@(?:(?:[a-z0-9](?:[a-z0-9-]*[a-z0-9])?\.)+[a-z0-9](?:[a-z0-9-]*[a-z0-9])?` +
		`|\[(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}` +
		`(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?|[a-z0-9-]*[a-z0-9]:` +
		`(?:[\x01-\x08\x0b\x0c\x0e-\x1f\x21-\x5a\x53-\x7f]|\\[\x01-\x09\x0b\x0c\x0e-\x7f])+)\])$`,
)

// stripChars removes characters commonly used for markup injection.
var stripChars = strings.NewReplacer("<", "", ">", "", `"`, "", "'", "", "&", "")

// Config holds the policy knobs.
type Config struct {
	MinLength      int
	MaxLength      int
	BlockedDomains []string
}

// DefaultBlockedDomains lists well-known disposable mail providers.
var DefaultBlockedDomains = []string{
	"tempmail.com", "throwaway.com", "mailinator.com", "guerrillamail.com",
	"temp-mail.org", "10minutemail.com", "fakeinbox.com", "trashmail.com",
	"yopmail.com", "getnada.com", "mohmal.com", "tempail.com", "tmpmail.org",
	"sharklasers.com", "guerrillamail.info", "grr.la", "spam4.me",
}

// DefaultConfig mirrors the limits of RFC 5321 (254 chars) plus a sane minimum.
func DefaultConfig() Config {
	return Config{
		MinLength:      5,
		MaxLength:      254,
		BlockedDomains: DefaultBlockedDomains,
	}
}

// Violation is one broken rule.
type Violation struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// Result is the outcome of validating one address.
type Result struct {
	Valid      bool
	Email      string // normalized form
	Domain     string
	Violations []Violation
}

// First returns the first violation, or the zero Violation if there is none.
func (r Result) First() Violation {
	if len(r.Violations) == 0 {
		return Violation{}
	}
	return r.Violations[0]
}

// Has reports whether the given rule was violated.
func (r Result) Has(rule string) bool {
	for _, v := range r.Violations {
		if v.Rule == rule {
			return true
		}
	}
	return false
}

// Validator checks addresses against a fixed Config. It holds no mutable
// state and is safe for concurrent use.
type Validator struct {
	cfg     Config
	blocked []string
}

// New creates a Validator. Blocklist entries are lower-cased once here.
func New(cfg Config) *Validator {
	blocked := make([]string, 0, len(cfg.BlockedDomains))
	for _, d := range cfg.BlockedDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			blocked = append(blocked, d)
		}
	}
	return &Validator{cfg: cfg, blocked: blocked}
}

// Normalize lower-cases the input, strips markup characters, caps the length
// and trims surrounding space. Normalize(Normalize(s)) == Normalize(s).
func Normalize(raw string) string {
	s := stripChars.Replace(strings.ToLower(raw))
	if utf8.RuneCountInString(s) > maxSanitizedLength {
		s = string([]rune(s)[:maxSanitizedLength])
	}
	return strings.TrimSpace(s)
}

// ValidateValue validates a JSON-decoded value. Anything other than a string
// fails, and nil counts as missing.
func (v *Validator) ValidateValue(raw any) Result {
	switch val := raw.(type) {
	case nil:
		return v.Validate("")
	case string:
		return v.Validate(val)
	default:
		return Result{Violations: []Violation{{Rule: RuleNotString, Message: "Email must be a string"}}}
	}
}

// Validate normalizes raw and checks it against every rule.
func (v *Validator) Validate(raw string) Result {
	if strings.TrimSpace(raw) == "" {
		return Result{Violations: []Violation{{Rule: RuleRequired, Message: "Email is required"}}}
	}

	email := Normalize(raw)
	res := Result{Email: email}

	n := utf8.RuneCountInString(email)
	if n < v.cfg.MinLength {
		res.add(RuleTooShort, "Email is too short")
	}
	if n > v.cfg.MaxLength {
		res.add(RuleTooLong, "Email is too long")
	}

	if !emailPattern.MatchString(email) {
		res.add(RuleFormat, "Invalid email format")
	}

	if parts := strings.Split(email, "@"); len(parts) > 1 && parts[1] != "" {
		res.Domain = parts[1]

		if v.isBlocked(res.Domain) {
			res.add(RuleDisposableDomain, "Please use a permanent email address")
		}

		labels := strings.Split(res.Domain, ".")
		if tld := labels[len(labels)-1]; len(tld) < 2 {
			res.add(RuleDomainTLD, "Invalid email domain")
		}
	}

	res.Valid = len(res.Violations) == 0
	return res
}

func (r *Result) add(rule, message string) {
	r.Violations = append(r.Violations, Violation{Rule: rule, Message: message})
}

// isBlocked matches by substring so subdomains of a blocked provider are
// caught as well.
func (v *Validator) isBlocked(domain string) bool {
	for _, b := range v.blocked {
		if strings.Contains(domain, b) {
			return true
		}
	}
	return false
}
