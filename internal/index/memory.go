package index

import (
	"context"
	"strings"
	"sync"
)

// Memory is an in-process Sink used by tests and local development.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]Document
}

// NewMemory builds an empty in-process sink.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]Document)}
}

func (m *Memory) Index(_ context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = doc
	return nil
}

func (m *Memory) BulkIndex(ctx context.Context, docs []Document) error {
	for _, doc := range docs {
		if err := m.Index(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

// Search performs a naive case-insensitive substring match across title,
// description, and content — good enough for tests, not for production.
func (m *Memory) Search(_ context.Context, query string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 20
	}
	needle := strings.ToLower(strings.TrimSpace(query))

	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []SearchHit
	for _, doc := range m.docs {
		score := matchScore(doc, needle)
		if score <= 0 {
			continue
		}
		hits = append(hits, SearchHit{Document: doc, Score: score})
		if len(hits) >= limit {
			break
		}
	}
	return hits, nil
}

func matchScore(doc Document, needle string) float64 {
	if needle == "" {
		return 1
	}
	var score float64
	if strings.Contains(strings.ToLower(doc.Title), needle) {
		score += 3
	}
	if strings.Contains(strings.ToLower(doc.Description), needle) {
		score += 2
	}
	if strings.Contains(strings.ToLower(doc.Content), needle) {
		score += 1
	}
	return score
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
	return nil
}

func (m *Memory) Close() error {
	return nil
}

// Get returns a stored document by id, for test assertions.
func (m *Memory) Get(id string) (Document, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	return doc, ok
}

// Len returns the number of stored documents, for test assertions.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}
