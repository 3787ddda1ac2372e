// Package chroma implements the Index boundary against a Chroma server's
// v2 HTTP API. Embeddings are computed server-side by the collection's
// embedding function; this client only ships chunk text and metadata.
package chroma

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jirascope/jirascope/internal/index"
	"github.com/jirascope/jirascope/internal/types"
)

// Config holds the connection settings for a Chroma server or Chroma Cloud.
type Config struct {
	URL        string // e.g. "https://api.trychroma.com" or "http://localhost:8000"
	Tenant     string
	Database   string
	Collection string
	APIKey     string
}

// Client talks to one Chroma collection.
type Client struct {
	cfg        Config
	httpClient *http.Client

	mu           sync.Mutex
	collectionID string
}

// New creates a Chroma client. The collection is created on first use if it
// does not exist.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("chroma URL not configured")
	}
	if cfg.Tenant == "" || cfg.Database == "" {
		return nil, fmt.Errorf("chroma tenant and database must be configured")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("chroma collection not configured")
	}
	cfg.URL = strings.TrimSuffix(cfg.URL, "/")

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Upsert writes the batch in one request. Chroma applies the batch as a unit,
// which gives the per-issue atomicity the pipeline needs.
func (c *Client) Upsert(ctx context.Context, records []index.Record) error {
	if len(records) == 0 {
		return nil
	}

	collID, err := c.ensureCollection(ctx)
	if err != nil {
		return err
	}

	payload := struct {
		IDs        []string            `json:"ids"`
		Documents  []string            `json:"documents"`
		Metadatas  []map[string]string `json:"metadatas"`
		Embeddings [][]float32         `json:"embeddings,omitempty"`
	}{}

	var haveEmbeddings bool
	for _, rec := range records {
		payload.IDs = append(payload.IDs, rec.Chunk.ID)
		payload.Documents = append(payload.Documents, rec.Chunk.Text)
		payload.Metadatas = append(payload.Metadatas, encodeMetadata(rec.Chunk))
		if rec.Embedding != nil {
			haveEmbeddings = true
		}
	}
	if haveEmbeddings {
		for _, rec := range records {
			payload.Embeddings = append(payload.Embeddings, rec.Embedding)
		}
	}

	_, err = c.do(ctx, fmt.Sprintf("%s/upsert", c.collectionPath(collID)), payload)
	if err != nil {
		return fmt.Errorf("chroma upsert: %w", err)
	}
	return nil
}

// Query runs a semantic query and maps distances to similarity scores.
func (c *Client) Query(ctx context.Context, text string, k int) ([]index.Match, error) {
	collID, err := c.ensureCollection(ctx)
	if err != nil {
		return nil, err
	}

	payload := struct {
		QueryTexts []string `json:"query_texts"`
		NResults   int      `json:"n_results"`
		Include    []string `json:"include"`
	}{
		QueryTexts: []string{text},
		NResults:   k,
		Include:    []string{"documents", "metadatas", "distances"},
	}

	body, err := c.do(ctx, fmt.Sprintf("%s/query", c.collectionPath(collID)), payload)
	if err != nil {
		return nil, fmt.Errorf("chroma query: %w", err)
	}

	var result struct {
		IDs       [][]string            `json:"ids"`
		Documents [][]string            `json:"documents"`
		Metadatas [][]map[string]string `json:"metadatas"`
		Distances [][]float64           `json:"distances"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse chroma query response: %w", err)
	}
	if len(result.IDs) == 0 {
		return nil, nil
	}

	var matches []index.Match
	for i, id := range result.IDs[0] {
		chunk := types.Chunk{ID: id}
		if len(result.Documents) > 0 && i < len(result.Documents[0]) {
			chunk.Text = result.Documents[0][i]
		}
		if len(result.Metadatas) > 0 && i < len(result.Metadatas[0]) {
			decodeMetadata(result.Metadatas[0][i], &chunk)
		}
		score := 0.0
		if len(result.Distances) > 0 && i < len(result.Distances[0]) {
			// Chroma reports distance; closer is smaller.
			score = 1.0 - result.Distances[0][i]
		}
		matches = append(matches, index.Match{Chunk: chunk, Score: score})
	}
	return matches, nil
}

// GetByIssue fetches every chunk stored under one issue key.
func (c *Client) GetByIssue(ctx context.Context, issueKey string) ([]types.Chunk, error) {
	collID, err := c.ensureCollection(ctx)
	if err != nil {
		return nil, err
	}

	payload := struct {
		Where   map[string]string `json:"where"`
		Include []string          `json:"include"`
	}{
		Where:   map[string]string{"issue_key": issueKey},
		Include: []string{"documents", "metadatas"},
	}

	body, err := c.do(ctx, fmt.Sprintf("%s/get", c.collectionPath(collID)), payload)
	if err != nil {
		return nil, fmt.Errorf("chroma get: %w", err)
	}

	var result struct {
		IDs       []string            `json:"ids"`
		Documents []string            `json:"documents"`
		Metadatas []map[string]string `json:"metadatas"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse chroma get response: %w", err)
	}

	var chunks []types.Chunk
	for i, id := range result.IDs {
		chunk := types.Chunk{ID: id}
		if i < len(result.Documents) {
			chunk.Text = result.Documents[i]
		}
		if i < len(result.Metadatas) {
			decodeMetadata(result.Metadatas[i], &chunk)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// ensureCollection resolves (and creates if needed) the collection id.
func (c *Client) ensureCollection(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.collectionID != "" {
		return c.collectionID, nil
	}

	payload := struct {
		Name        string `json:"name"`
		GetOrCreate bool   `json:"get_or_create"`
	}{Name: c.cfg.Collection, GetOrCreate: true}

	url := fmt.Sprintf("%s/api/v2/tenants/%s/databases/%s/collections",
		c.cfg.URL, c.cfg.Tenant, c.cfg.Database)

	body, err := c.do(ctx, url, payload)
	if err != nil {
		return "", fmt.Errorf("chroma get_or_create collection: %w", err)
	}

	var coll struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &coll); err != nil {
		return "", fmt.Errorf("parse chroma collection response: %w", err)
	}
	if coll.ID == "" {
		return "", fmt.Errorf("chroma collection response missing id")
	}

	c.collectionID = coll.ID
	return coll.ID, nil
}

func (c *Client) collectionPath(collID string) string {
	return fmt.Sprintf("%s/api/v2/tenants/%s/databases/%s/collections/%s",
		c.cfg.URL, c.cfg.Tenant, c.cfg.Database, collID)
}

// do POSTs a JSON payload with retry on rate-limit and server errors.
func (c *Client) do(ctx context.Context, url string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var respBody []byte

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 30 * time.Second

	err = backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			req.Header.Set("X-Chroma-Token", c.cfg.APIKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			apiErr := fmt.Errorf("chroma API returned %d: %s", resp.StatusCode, string(body))
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}

		respBody = body
		return nil
	}, backoff.WithContext(bo, ctx))

	if err != nil {
		return nil, err
	}
	return respBody, nil
}

// encodeMetadata flattens a chunk into Chroma's string metadata map.
func encodeMetadata(chunk types.Chunk) map[string]string {
	meta := map[string]string{
		"issue_key":   chunk.IssueKey,
		"view":        string(chunk.View),
		"ingested_at": chunk.IngestedAt.UTC().Format(time.RFC3339),
	}
	if len(chunk.Tags) > 0 {
		meta["tags"] = strings.Join(chunk.Tags, " | ")
	}
	if chunk.ObservedStatus != "" {
		meta["observed_status"] = chunk.ObservedStatus
	}
	return meta
}

// decodeMetadata restores chunk fields from the stored metadata map.
func decodeMetadata(meta map[string]string, chunk *types.Chunk) {
	chunk.IssueKey = meta["issue_key"]
	chunk.View = types.ViewKind(meta["view"])
	chunk.ObservedStatus = meta["observed_status"]
	if tags := meta["tags"]; tags != "" {
		chunk.Tags = strings.Split(tags, " | ")
	}
	if ts := meta["ingested_at"]; ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			chunk.IngestedAt = t
		}
	}
}
