// Package index implements the DocumentSink external collaborator: a
// full-text search index accepting indexed documents and serving search.
package index

import (
	"context"
	"time"
)

// Link is an outbound anchor captured on the source page.
type Link struct {
	URL   string `json:"url"`
	Text  string `json:"text"`
	Title string `json:"title,omitempty"`
}

// Document is the Indexed Document entity from the data model: its id is
// a deterministic function of the URL (SHA-256 hex), so submitting it
// twice for the same URL overwrites rather than duplicates.
type Document struct {
	ID           string            `json:"id"`
	URL          string            `json:"url"`
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	Content      string            `json:"content"`
	Keywords     []string          `json:"keywords,omitempty"`
	Host         string            `json:"host"`
	CrawlDate    time.Time         `json:"crawl_date"`
	LastModified time.Time         `json:"last_modified,omitempty"`
	ContentType  string            `json:"content_type"`
	Language     string            `json:"language"`
	WordCount    int               `json:"word_count"`
	ContentHash  string            `json:"content_hash"`
	Links        []Link            `json:"links,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// SearchHit is one ranked result from Search.
type SearchHit struct {
	Document Document
	Score    float64
}

// Sink is the DocumentSink interface the worker's index step (spec.md
// §4.7 step 7) depends on.
type Sink interface {
	Index(ctx context.Context, doc Document) error
	BulkIndex(ctx context.Context, docs []Document) error
	Search(ctx context.Context, query string, limit int) ([]SearchHit, error)
	Delete(ctx context.Context, id string) error
	Close() error
}
