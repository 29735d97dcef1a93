// Package geo resolves the two-letter country code of a submitting client.
//
// Edge proxies usually know the country already and send it as a header
// (X-Country, CF-IPCountry). When they don't, an optional MaxMind database is
// consulted. An unresolvable country is "".
package geo

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

// Headers checked in order.
var countryHeaders = []string{"X-Country", "CF-IPCountry"}

// countryReader is the part of *geoip2.Reader the Resolver needs.
type countryReader interface {
	Country(ip net.IP) (*geoip2.Country, error)
	Close() error
}

// Resolver maps a request to a country code.
type Resolver struct {
	reader countryReader
}

// NewResolver opens the MaxMind database at dbPath. An empty path yields a
// header-only Resolver.
func NewResolver(dbPath string) (*Resolver, error) {
	if dbPath == "" {
		return &Resolver{}, nil
	}
	reader, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("geo: opening database: %w", err)
	}
	return &Resolver{reader: reader}, nil
}

// Close releases the database, if any.
func (r *Resolver) Close() error {
	if r.reader == nil {
		return nil
	}
	return r.reader.Close()
}

// Country returns the country for a request with the given headers and
// client IP.
func (r *Resolver) Country(h http.Header, ip string) string {
	for _, name := range countryHeaders {
		if c := normalize(h.Get(name)); c != "" {
			return c
		}
	}
	return r.lookup(ip)
}

func (r *Resolver) lookup(ip string) string {
	if r == nil || r.reader == nil {
		return ""
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	record, err := r.reader.Country(parsed)
	if err != nil {
		return ""
	}
	return normalize(record.Country.IsoCode)
}

// normalize accepts ISO 3166-1 alpha-2 codes only. Cloudflare's "XX"
// (unknown) and "T1" (Tor) are treated as unknown.
func normalize(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 2 || code == "XX" || code == "T1" {
		return ""
	}
	for _, c := range code {
		if c < 'A' || c > 'Z' {
			return ""
		}
	}
	return code
}
