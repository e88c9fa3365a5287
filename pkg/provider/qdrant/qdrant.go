// Package qdrant is a minimal REST client for a Qdrant vector-search
// service, implementing rag.Retriever and rag.Upserter.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fieldnotesco/ragserve/pkg/rag"
)

// Config contains connection details for the Qdrant service.
type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// Store is a Qdrant-backed vector store. The collection is created with
// cosine distance on first EnsureCollection call if it does not exist.
type Store struct {
	url        string
	apiKey     string
	collection string
	httpClient *http.Client
}

// New creates a Store. The URL is required; the API key is optional for
// unauthenticated local instances.
func New(cfg Config) (*Store, error) {
	if cfg.URL == "" {
		return nil, rag.ConfigurationError{Reason: "qdrant url is required"}
	}
	if cfg.Collection == "" {
		cfg.Collection = "passages"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Store{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// EnsureCollection creates the collection with the given vector
// dimension and cosine distance. Qdrant answers 200 if it already
// exists with the same schema.
func (s *Store) EnsureCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid dimension %d", dimension)
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}

	_, err := s.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", s.collection), body)
	return err
}

type searchResponse struct {
	Result []struct {
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
}

// Search returns the k nearest passages to the query vector, ordered by
// descending score as ranked by Qdrant.
func (s *Store) Search(ctx context.Context, vector []float32, k int) ([]rag.Passage, error) {
	body := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}

	data, err := s.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/search", s.collection), body)
	if err != nil {
		return nil, err
	}

	var out searchResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal search response: %w", err)
	}

	passages := make([]rag.Passage, 0, len(out.Result))
	for _, hit := range out.Result {
		p := rag.Passage{Score: hit.Score}
		if text, ok := hit.Payload["text"].(string); ok {
			p.Text = text
		}
		if source, ok := hit.Payload["source"].(string); ok {
			p.Source = source
		}
		passages = append(passages, p)
	}

	return passages, nil
}

// Upsert writes embedded chunks as points. Qdrant only accepts integer
// or UUID point IDs, so each point gets a UUIDv5 derived from its chunk
// ID; re-ingesting the same chunk overwrites the same point. The raw
// chunk ID stays in the payload.
func (s *Store) Upsert(ctx context.Context, chunks []rag.IndexedChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	points := make([]map[string]any, len(chunks))
	for i, c := range chunks {
		points[i] = map[string]any{
			"id":     PointID(c.ID),
			"vector": c.Vector,
			"payload": map[string]any{
				"chunk_id": c.ID,
				"text":     c.Text,
				"source":   c.Source,
			},
		}
	}

	_, err := s.do(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/points", s.collection), map[string]any{"points": points})
	return err
}

// PointID maps a chunk ID onto a deterministic UUIDv5 point ID.
func PointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(chunkID)).String()
}

// do issues a JSON request and returns the body on a 2xx response.
func (s *Store) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.url+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("qdrant %s %s returned %d: %s", method, path, resp.StatusCode, string(body))
	}

	return body, nil
}
