package urlnorm

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractLinks walks the anchor tags of an HTML document and returns every
// href resolved against pageURL and normalized. Malformed or out-of-scheme
// hrefs are skipped rather than failing the whole extraction.
func ExtractLinks(body io.Reader, pageURL string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("parse html for link extraction: %w", err)
	}

	seen := make(map[string]struct{})
	var links []string

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "mailto:") ||
			strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "tel:") {
			return
		}

		normalized, err := Normalize(href, pageURL)
		if err != nil {
			return
		}
		if _, dup := seen[normalized]; dup {
			return
		}
		seen[normalized] = struct{}{}
		links = append(links, normalized)
	})

	return links, nil
}

// DomainBlocklist matches hosts against exact or suffix-wildcard patterns
// ("example.com" or "*.example.com"), following the deny-list shape used by
// the source crawler's domain blocklist.
type DomainBlocklist struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewDomainBlocklist builds a blocklist from raw pattern strings.
func NewDomainBlocklist(patterns []string) *DomainBlocklist {
	b := &DomainBlocklist{exact: make(map[string]struct{})}
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		switch {
		case strings.HasPrefix(p, "*."):
			b.suffixes = append(b.suffixes, p[1:]) // keep leading dot
		case strings.HasPrefix(p, "."):
			b.suffixes = append(b.suffixes, p)
		default:
			b.exact[p] = struct{}{}
		}
	}
	return b
}

// Blocked reports whether host matches any pattern in the blocklist.
func (b *DomainBlocklist) Blocked(host string) bool {
	host = strings.ToLower(host)
	if _, ok := b.exact[host]; ok {
		return true
	}
	for _, suffix := range b.suffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}
