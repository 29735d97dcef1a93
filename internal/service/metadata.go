package service

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// Stored metadata limits, in runes.
const (
	MaxReferrerLength  = 200
	MaxUserAgentLength = 500
)

// metadataPolicy strips every tag. Its output is HTML-escaped text, which is
// unescaped again because the store holds plain text.
var metadataPolicy = bluemonday.StrictPolicy()

// cleanMetadata makes a client-supplied header value safe to store and show:
// markup removed, control characters dropped, length capped.
func cleanMetadata(s string, max int) string {
	if s == "" {
		return ""
	}
	s = html.UnescapeString(metadataPolicy.Sanitize(s))
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)

	if r := []rune(s); len(r) > max {
		s = string(r[:max])
	}
	return s
}
