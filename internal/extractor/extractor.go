// Package extractor implements component C6: turning a fetched page body
// into title/description/content/keywords/links/metadata, using goquery
// for HTML, encoding/json for JSON re-serialization, and internal/hash/sha256
// for the content hash.
package extractor

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	hasher "github.com/crawlmesh/crawlmesh/internal/hash/sha256"
	"github.com/crawlmesh/crawlmesh/internal/urlnorm"
)

var contentHasher = hasher.New()

const (
	maxTitleLen       = 200
	maxDescriptionLen = 500
	maxContentLen     = 50000
	maxAnchorTextLen  = 100
	maxKeywords       = 20
	maxLanguageLen    = 5
	minMainContentLen = 100
)

var removedSelectors = "script, style, nav, footer, aside, .advertisement, .ads, .sidebar, .menu, .navigation"

var titleSelectors = []string{"title", "h1", `meta[property="og:title"]`, `meta[name="twitter:title"]`, ".title", ".page-title"}
var descriptionSelectors = []string{`meta[name="description"]`, `meta[property="og:description"]`, `meta[name="twitter:description"]`, ".description", ".summary"}
var mainContentSelectors = []string{"main", "article", ".content", ".main-content", ".post-content", ".article-content", "#content", ".page-content"}

var whitespaceRun = regexp.MustCompile(`\s+`)
var wordRun = regexp.MustCompile(`\S+`)

// Link is a single outbound anchor extracted from an HTML page.
type Link struct {
	URL   string
	Text  string
	Title string
}

// Result is the output of extracting a page body.
type Result struct {
	Title       string
	Description string
	Content     string
	Keywords    []string
	Links       []Link
	Metadata    map[string]string
	Language    string
	WordCount   int
	ContentHash string
}

// Extract dispatches on contentType. A nil Result with a nil error means
// an unknown/unsupported MIME type.
func Extract(body []byte, contentType, pageURL string) (*Result, error) {
	ct := baseMIME(contentType)
	switch ct {
	case "text/html":
		return extractHTML(body, pageURL)
	case "text/plain":
		return extractPlainText(body)
	case "application/json":
		return extractJSON(body)
	case "application/pdf":
		return extractPDFStub()
	default:
		return nil, nil
	}
}

func baseMIME(contentType string) string {
	ct := contentType
	if idx := strings.Index(ct, ";"); idx >= 0 {
		ct = ct[:idx]
	}
	return strings.TrimSpace(strings.ToLower(ct))
}

func extractHTML(body []byte, pageURL string) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}

	doc.Find(removedSelectors).Remove()

	title := truncate(firstNonEmptyText(doc, titleSelectors), maxTitleLen)
	description := truncate(firstNonEmptyText(doc, descriptionSelectors), maxDescriptionLen)
	content := mainContent(doc)
	cleaned := cleanText(content)
	cleaned = truncateBytes(cleaned, maxContentLen)

	keywords := extractKeywords(doc)
	links := extractLinks(doc, pageURL)
	metadata := extractMetadata(doc)
	language := detectLanguage(doc)

	hash := contentHash(cleaned)

	return &Result{
		Title:       title,
		Description: description,
		Content:     cleaned,
		Keywords:    keywords,
		Links:       links,
		Metadata:    metadata,
		Language:    language,
		WordCount:   wordCount(cleaned),
		ContentHash: hash,
	}, nil
}

func extractPlainText(body []byte) (*Result, error) {
	cleaned := cleanText(string(body))
	cleaned = truncateBytes(cleaned, maxContentLen)
	return &Result{
		Content:     cleaned,
		Metadata:    map[string]string{},
		Language:    "en",
		WordCount:   wordCount(cleaned),
		ContentHash: contentHash(cleaned),
	}, nil
}

func extractJSON(body []byte) (*Result, error) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, err
	}
	reserialized, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	content := string(reserialized)
	content = truncateBytes(content, maxContentLen)
	return &Result{
		Content:     content,
		Metadata:    map[string]string{},
		Language:    "en",
		WordCount:   wordCount(content),
		ContentHash: contentHash(content),
	}, nil
}

// extractPDFStub is declared-but-stub: PDF is an accepted MIME but this
// implementation returns an empty-body record.
func extractPDFStub() (*Result, error) {
	return &Result{
		Metadata:    map[string]string{},
		Language:    "en",
		ContentHash: contentHash(""),
	}, nil
}

func firstNonEmptyText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		text := strings.TrimSpace(doc.Find(sel).First().Text())
		if text == "" {
			// meta tags expose their value via the content attribute, not text.
			if content, ok := doc.Find(sel).First().Attr("content"); ok {
				text = strings.TrimSpace(content)
			}
		}
		if text != "" {
			return text
		}
	}
	return ""
}

func mainContent(doc *goquery.Document) string {
	for _, sel := range mainContentSelectors {
		text := cleanText(doc.Find(sel).First().Text())
		if len(text) > minMainContentLen {
			return text
		}
	}
	return doc.Find("body").Text()
}

func extractKeywords(doc *goquery.Document) []string {
	raw, _ := doc.Find(`meta[name="keywords"]`).First().Attr("content")
	if raw == "" {
		return nil
	}
	seen := make(map[string]struct{})
	var keywords []string
	for _, part := range strings.Split(raw, ",") {
		kw := strings.ToLower(strings.TrimSpace(part))
		if len(kw) <= 2 {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		keywords = append(keywords, kw)
		if len(keywords) >= maxKeywords {
			break
		}
	}
	return keywords
}

func extractLinks(doc *goquery.Document, pageURL string) []Link {
	var links []Link
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "mailto:") {
			return
		}
		text := strings.TrimSpace(sel.Text())
		if text == "" {
			return
		}
		resolved, err := urlnorm.Normalize(href, pageURL)
		if err != nil {
			return
		}
		title, _ := sel.Attr("title")
		links = append(links, Link{
			URL:   resolved,
			Text:  truncate(text, maxAnchorTextLen),
			Title: title,
		})
	})
	return links
}

func extractMetadata(doc *goquery.Document) map[string]string {
	metadata := make(map[string]string)
	doc.Find(`meta[property^="og:"]`).Each(func(_ int, sel *goquery.Selection) {
		prop, _ := sel.Attr("property")
		content, _ := sel.Attr("content")
		if prop != "" {
			metadata[prop] = content
		}
	})
	doc.Find(`meta[name^="twitter:"]`).Each(func(_ int, sel *goquery.Selection) {
		name, _ := sel.Attr("name")
		content, _ := sel.Attr("content")
		if name != "" {
			metadata[name] = content
		}
	})
	if itemtype, ok := doc.Find("[itemtype]").First().Attr("itemtype"); ok && itemtype != "" {
		metadata["schemaType"] = itemtype
	} else if typeOf, ok := doc.Find("[typeof]").First().Attr("typeof"); ok && typeOf != "" {
		metadata["schemaType"] = typeOf
	}
	return metadata
}

func detectLanguage(doc *goquery.Document) string {
	candidates := []func() (string, bool){
		func() (string, bool) { return doc.Find("html").First().Attr("lang") },
		func() (string, bool) { return doc.Find(`meta[http-equiv="content-language"]`).First().Attr("content") },
		func() (string, bool) { return doc.Find(`meta[name="language"]`).First().Attr("content") },
		func() (string, bool) { return doc.Find(`meta[property="og:locale"]`).First().Attr("content") },
	}
	for _, candidate := range candidates {
		if v, ok := candidate(); ok {
			v = strings.ToLower(strings.TrimSpace(v))
			if v != "" {
				v = truncateBytes(v, maxLanguageLen)
				return v
			}
		}
	}
	return "en"
}

func cleanText(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func wordCount(s string) int {
	return len(wordRun.FindAllString(s, -1))
}

func truncate(s string, max int) string {
	return truncateBytes(strings.TrimSpace(s), max)
}

// truncateBytes cuts s to at most max bytes without splitting a multi-byte
// rune, walking back from max to the nearest rune boundary.
func truncateBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// contentHash returns the SHA-256 hex digest of content — the
// change-detection key and part of every indexed document.
func contentHash(content string) string {
	sum, _ := contentHasher.Hash([]byte(content))
	return sum
}

// DocumentID returns the deterministic SHA-256 hex digest of a URL, used
// as the indexed document id.
func DocumentID(url string) string {
	sum, _ := contentHasher.Hash([]byte(url))
	return sum
}
