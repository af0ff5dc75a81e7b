// Package embedding turns text into vectors for dense retrieval.
package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Embedder generates embeddings for memory content and queries.
type Embedder interface {
	// EmbedQuery embeds a single search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Embed embeds a batch of texts, one vector per input.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension returns the embedding dimension.
	Dimension() int
	// Close releases any underlying resources.
	Close() error
}

// Config configures the HTTP embedding client. The endpoint is expected to
// speak the OpenAI embeddings API shape.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	Dimension int
	Timeout   time.Duration
}

// DefaultConfig returns defaults for a local OpenAI-compatible server.
func DefaultConfig() Config {
	return Config{
		BaseURL:   "http://localhost:11434/v1",
		Model:     "nomic-embed-text",
		Dimension: 768,
		Timeout:   30 * time.Second,
	}
}

// HTTPEmbedder calls an OpenAI-compatible /embeddings endpoint.
type HTTPEmbedder struct {
	config     Config
	httpClient *http.Client
}

// NewHTTPEmbedder creates an HTTP embedding client.
func NewHTTPEmbedder(config Config) *HTTPEmbedder {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &HTTPEmbedder{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Dimension returns the embedding dimension.
func (e *HTTPEmbedder) Dimension() int {
	return e.config.Dimension
}

// EmbedQuery embeds a single query string.
func (e *HTTPEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return vectors[0], nil
}

// Embed embeds a batch of texts.
func (e *HTTPEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := map[string]interface{}{
		"input": texts,
		"model": e.config.Model,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/embeddings", e.config.BaseURL),
		strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if e.config.APIKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", e.config.APIKey))
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding API error: %s - %s", resp.Status, string(respBody))
	}

	var result struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("embedding API returned %d vectors for %d inputs", len(result.Data), len(texts))
	}

	vectors := make([][]float32, len(result.Data))
	for i, item := range result.Data {
		vectors[i] = item.Embedding
	}

	return vectors, nil
}

// Close closes the client.
func (e *HTTPEmbedder) Close() error {
	return nil
}
