// Package urlnorm canonicalizes and validates URLs and extracts outbound
// anchors from HTML bodies. It performs no network I/O.
package urlnorm

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

var allowedSchemes = map[string]struct{}{
	"http":  {},
	"https": {},
}

// Normalize resolves raw against base (if base is non-empty), then produces
// the canonical form: http/https only, lowercased host, fragment stripped,
// query parameters sorted lexicographically by key, and a single trailing
// slash stripped from the path unless the path is "/".
func Normalize(raw, base string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	if base != "" {
		baseURL, err := url.Parse(base)
		if err != nil {
			return "", fmt.Errorf("parse base url: %w", err)
		}
		u = baseURL.ResolveReference(u)
	}

	if !u.IsAbs() {
		return "", fmt.Errorf("url %q is not absolute after resolution", raw)
	}

	scheme := strings.ToLower(u.Scheme)
	if _, ok := allowedSchemes[scheme]; !ok {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Scheme = scheme

	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	u.RawQuery = sortedQuery(u.RawQuery)

	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String(), nil
}

// sortedQuery re-encodes a raw query string with parameters sorted
// lexicographically by key, preserving each key's original values and order.
func sortedQuery(raw string) string {
	if raw == "" {
		return ""
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return raw
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		for j, v := range values[k] {
			if i > 0 || j > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// ShouldCrawlDomain reports whether host is in scope for allowlist. An empty
// allowlist permits every host. A host matches an allowlist entry when it is
// equal to the entry or is a subdomain of it ("blog.example.com" matches
// "example.com").
func ShouldCrawlDomain(rawURL string, allowlist []string) bool {
	if len(allowlist) == 0 {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, entry := range allowlist {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		if host == entry || strings.HasSuffix(host, "."+entry) {
			return true
		}
	}
	return false
}

// Host returns the lowercased hostname of rawURL, or "" if it cannot be
// parsed.
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
