package extractor

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_HTML_TitleFallbackChain(t *testing.T) {
	html := `<html lang="en"><head><title>Page Title</title>
<meta name="description" content="A short description.">
<meta name="keywords" content="Go, crawler, GO, ab, golang">
</head><body>
<nav>skip me</nav>
<main>` + strings.Repeat("word ", 30) + `<a href="/next" title="Next">Next page</a></main>
<footer>skip footer</footer>
</body></html>`

	result, err := Extract([]byte(html), "text/html; charset=utf-8", "https://example.com/page")
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, "Page Title", result.Title)
	assert.Equal(t, "A short description.", result.Description)
	assert.Equal(t, "en", result.Language)
	assert.NotContains(t, result.Content, "skip me")
	assert.NotContains(t, result.Content, "skip footer")
	assert.Contains(t, result.Keywords, "crawler")
	assert.Contains(t, result.Keywords, "golang")
	assert.NotContains(t, result.Keywords, "ab")
	require.Len(t, result.Links, 1)
	assert.Equal(t, "https://example.com/next", result.Links[0].URL)
	assert.Equal(t, "Next page", result.Links[0].Text)
	assert.NotEmpty(t, result.ContentHash)
	assert.Greater(t, result.WordCount, 0)
}

func TestExtract_HTML_TitleFallsBackToH1WhenTitleTagMissing(t *testing.T) {
	html := `<html><body><h1>Heading Title</h1><main>` + strings.Repeat("content ", 20) + `</main></body></html>`

	result, err := Extract([]byte(html), "text/html", "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, "Heading Title", result.Title)
}

func TestExtract_HTML_OpenGraphMetadata(t *testing.T) {
	html := `<html><head>
<meta property="og:title" content="OG Title">
<meta property="og:type" content="article">
<meta name="twitter:card" content="summary">
</head><body><main>` + strings.Repeat("x ", 30) + `</main></body></html>`

	result, err := Extract([]byte(html), "text/html", "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, "article", result.Metadata["og:type"])
	assert.Equal(t, "summary", result.Metadata["twitter:card"])
}

func TestExtract_HTML_MainContentFallsBackToBodyWhenTooShort(t *testing.T) {
	html := `<html><body><p>short</p></body></html>`

	result, err := Extract([]byte(html), "text/html", "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, "short", result.Content)
}

func TestExtract_PlainText(t *testing.T) {
	result, err := Extract([]byte("hello   \n\n  world"), "text/plain", "https://example.com/")
	require.NoError(t, err)
	assert.Equal(t, "hello world", result.Content)
	assert.Equal(t, "en", result.Language)
	assert.Equal(t, 2, result.WordCount)
}

func TestExtract_JSON_Reserializes(t *testing.T) {
	result, err := Extract([]byte(`{"b":1,"a":2}`), "application/json", "https://example.com/")
	require.NoError(t, err)
	assert.Contains(t, result.Content, "\n  ")
}

func TestExtract_JSON_InvalidReturnsError(t *testing.T) {
	_, err := Extract([]byte(`not json`), "application/json", "https://example.com/")
	require.Error(t, err)
}

func TestExtract_PDFStub(t *testing.T) {
	result, err := Extract([]byte("%PDF-1.4 ..."), "application/pdf", "https://example.com/")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Empty(t, result.Content)
}

func TestExtract_UnknownMIMEReturnsNil(t *testing.T) {
	result, err := Extract([]byte("binary"), "application/octet-stream", "https://example.com/")
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestTruncateBytes_NeverSplitsARune(t *testing.T) {
	// 199 ASCII bytes plus one 2-byte rune crosses the 200-byte cap right
	// in the middle of the rune's encoding.
	s := strings.Repeat("a", 199) + "é"
	require.Equal(t, 201, len(s))

	out := truncateBytes(s, 200)
	assert.True(t, utf8.ValidString(out))
	assert.LessOrEqual(t, len(out), 200)
}

func TestExtract_HTML_TitleTruncationIsRuneSafe(t *testing.T) {
	title := strings.Repeat("a", 199) + "é" + strings.Repeat("b", 50)
	html := `<html><head><title>` + title + `</title></head><body><main>` +
		strings.Repeat("word ", 30) + `</main></body></html>`

	result, err := Extract([]byte(html), "text/html", "https://example.com/")
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(result.Title))
	assert.LessOrEqual(t, len(result.Title), maxTitleLen)
}

func TestDocumentID_IsDeterministic(t *testing.T) {
	a := DocumentID("https://example.com/page")
	b := DocumentID("https://example.com/page")
	c := DocumentID("https://example.com/other")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
