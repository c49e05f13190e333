// Package siteurl maps raw page URLs to canonical site identities.
//
// A site identity is the lowercase hostname with any leading "www."
// stripped. It is the primary key for usage tracking and blocklist
// matching across the whole daemon.
package siteurl

import (
	"net/url"
	"strings"
)

// Normalize converts a raw URL into a canonical site identity.
// Scheme-less input is treated as https. Returns "" for anything that is
// not a well-formed HTTP(S) URL with a hostname.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return ""
	}

	return strings.TrimPrefix(host, "www.")
}

// IsHTTP reports whether a raw URL carries an explicit http or https scheme.
// Tracking only attributes time to web content.
func IsHTTP(raw string) bool {
	return strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://")
}

// DisplayName derives a short human name from a site identity: the
// second-to-last dot label ("mail.example.com" -> "example"). Identities
// with fewer than two labels are returned unchanged.
func DisplayName(identity string) string {
	parts := make([]string, 0, 4)
	for _, p := range strings.Split(identity, ".") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 2 {
		return identity
	}
	return parts[len(parts)-2]
}
