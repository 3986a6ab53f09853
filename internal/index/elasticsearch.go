package index

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"
)

// ElasticsearchConfig configures the Elasticsearch client.
type ElasticsearchConfig struct {
	Addresses []string
	Username  string
	Password  string
	IndexName string
}

// Elasticsearch is the production Sink, backed by an Elasticsearch cluster.
type Elasticsearch struct {
	client *es.Client
	index  string
	logger *zap.Logger
}

// NewElasticsearch builds an Elasticsearch sink and verifies connectivity
// via Info, mirroring the teacher's TestConnection pattern.
func NewElasticsearch(cfg ElasticsearchConfig, logger *zap.Logger) (*Elasticsearch, error) {
	if cfg.IndexName == "" {
		return nil, errors.New("index: index name is required")
	}
	client, err := es.NewClient(es.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("index: build elasticsearch client: %w", err)
	}

	res, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("index: connect to elasticsearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("index: elasticsearch info error: %s", res.String())
	}

	return &Elasticsearch{client: client, index: cfg.IndexName, logger: logger}, nil
}

// Index submits a single document, upserting by its deterministic id.
func (e *Elasticsearch) Index(ctx context.Context, doc Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("index: marshal document: %w", err)
	}

	res, err := e.client.Index(
		e.index,
		bytes.NewReader(body),
		e.client.Index.WithDocumentID(doc.ID),
		e.client.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("index: request failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("index: elasticsearch error: %s", res.String())
	}
	return nil
}

// BulkIndex submits many documents using the Elasticsearch Bulk API.
func (e *Elasticsearch) BulkIndex(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, doc := range docs {
		meta := map[string]any{
			"index": map[string]any{
				"_index": e.index,
				"_id":    doc.ID,
			},
		}
		metaLine, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("index: marshal bulk meta: %w", err)
		}
		docLine, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("index: marshal bulk document: %w", err)
		}
		buf.Write(metaLine)
		buf.WriteByte('\n')
		buf.Write(docLine)
		buf.WriteByte('\n')
	}

	req := esapi.BulkRequest{
		Body: &buf,
	}
	res, err := req.Do(ctx, e.client)
	if err != nil {
		return fmt.Errorf("index: bulk request failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("index: bulk elasticsearch error: %s", res.String())
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("index: decode bulk response: %w", err)
	}
	if bulkResp.Errors {
		return errors.New("index: one or more documents failed in bulk request")
	}
	return nil
}

// Search performs a simple_query_string match across title, description,
// and content.
func (e *Elasticsearch) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 20
	}
	body := map[string]any{
		"size": limit,
		"query": map[string]any{
			"simple_query_string": map[string]any{
				"query":  query,
				"fields": []string{"title^3", "description^2", "content"},
			},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("index: marshal search query: %w", err)
	}

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.index),
		e.client.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("index: search request failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("index: search elasticsearch error: %s", res.String())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Score  float64  `json:"_score"`
				Source Document `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("index: decode search response: %w", err)
	}

	hits := make([]SearchHit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		hits = append(hits, SearchHit{Document: h.Source, Score: h.Score})
	}
	return hits, nil
}

// Delete removes a document by its deterministic id.
func (e *Elasticsearch) Delete(ctx context.Context, id string) error {
	res, err := e.client.Delete(e.index, id, e.client.Delete.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("index: delete request failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != 404 {
		return fmt.Errorf("index: delete elasticsearch error: %s", res.String())
	}
	return nil
}

// Close is a no-op: the elasticsearch client has no Close method.
func (e *Elasticsearch) Close() error {
	return nil
}

// EnsureIndex creates the backing index with its mapping if it does not
// already exist.
func (e *Elasticsearch) EnsureIndex(ctx context.Context) error {
	existsRes, err := e.client.Indices.Exists([]string{e.index}, e.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("index: check index existence: %w", err)
	}
	defer existsRes.Body.Close()
	if existsRes.StatusCode == 200 {
		return nil
	}

	mapping, err := json.Marshal(documentMapping())
	if err != nil {
		return fmt.Errorf("index: marshal mapping: %w", err)
	}

	res, err := e.client.Indices.Create(
		e.index,
		e.client.Indices.Create.WithContext(ctx),
		e.client.Indices.Create.WithBody(bytes.NewReader(mapping)),
	)
	if err != nil {
		return fmt.Errorf("index: create index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("index: create index error: %s", res.String())
	}
	return nil
}

func documentMapping() map[string]any {
	return map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"id":            map[string]any{"type": "keyword"},
				"url":           map[string]any{"type": "keyword"},
				"title":         map[string]any{"type": "text"},
				"description":   map[string]any{"type": "text"},
				"content":       map[string]any{"type": "text"},
				"keywords":      map[string]any{"type": "keyword"},
				"host":          map[string]any{"type": "keyword"},
				"crawl_date":    map[string]any{"type": "date"},
				"last_modified": map[string]any{"type": "date"},
				"content_type":  map[string]any{"type": "keyword"},
				"language":      map[string]any{"type": "keyword"},
				"word_count":    map[string]any{"type": "integer"},
				"content_hash":  map[string]any{"type": "keyword"},
			},
		},
	}
}
