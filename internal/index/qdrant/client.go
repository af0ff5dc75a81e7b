// Package qdrant implements the vector index on a Qdrant collection over its
// HTTP API. Every point carries the owning user id in its payload and every
// search is constrained to one user.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"dev.helix.recall/internal/index"
	"dev.helix.recall/internal/memory"
)

// Config configures the Qdrant connection and collection.
type Config struct {
	URL        string        `json:"url"`
	APIKey     string        `json:"api_key,omitempty"`
	Collection string        `json:"collection"`
	VectorSize int           `json:"vector_size"`
	Timeout    time.Duration `json:"timeout"`
}

// DefaultConfig returns sensible defaults for a local Qdrant.
func DefaultConfig() *Config {
	return &Config{
		URL:        "http://localhost:6333",
		Collection: "recall_memories",
		VectorSize: 1536,
		Timeout:    10 * time.Second,
	}
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}
	if c.Collection == "" {
		return fmt.Errorf("collection is required")
	}
	if c.VectorSize <= 0 {
		return fmt.Errorf("vector_size must be positive")
	}
	return nil
}

// VectorIndex is the Qdrant-backed implementation of index.VectorIndex.
type VectorIndex struct {
	config     *Config
	httpClient *http.Client
	logger     *logrus.Logger
}

// New creates a Qdrant vector index.
func New(config *Config, logger *logrus.Logger) (*VectorIndex, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &VectorIndex{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger,
	}, nil
}

// EnsureCollection creates the collection if it does not exist.
func (v *VectorIndex) EnsureCollection(ctx context.Context) error {
	path := fmt.Sprintf("/collections/%s", v.config.Collection)
	if _, err := v.doRequest(ctx, http.MethodGet, path, nil); err == nil {
		return nil
	}

	reqBody := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     v.config.VectorSize,
			"distance": "Cosine",
		},
	}
	if _, err := v.doRequest(ctx, http.MethodPut, path, reqBody); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	v.logger.WithField("collection", v.config.Collection).Info("Collection created")
	return nil
}

// Search returns the k nearest neighbors to the query embedding for one user.
// Scores are raw cosine similarities as reported by Qdrant.
func (v *VectorIndex) Search(ctx context.Context, userID string, embedding []float32, limit int, filters *memory.Filters) ([]index.ScoredRef, error) {
	reqBody := map[string]interface{}{
		"vector":       embedding,
		"limit":        limit,
		"with_payload": false,
		"with_vector":  false,
		"filter":       buildFilter(userID, filters),
	}

	path := fmt.Sprintf("/collections/%s/points/search", v.config.Collection)
	respBody, err := v.doRequest(ctx, http.MethodPost, path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	var response struct {
		Result []struct {
			ID    string  `json:"id"`
			Score float64 `json:"score"`
		} `json:"result"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	refs := make([]index.ScoredRef, 0, len(response.Result))
	for _, p := range response.Result {
		refs = append(refs, index.ScoredRef{ID: p.ID, Score: p.Score})
	}

	v.logger.WithFields(logrus.Fields{
		"user":    userPrefix(userID),
		"results": len(refs),
	}).Debug("Vector search completed")

	return refs, nil
}

// Upsert inserts or updates the point for one item.
func (v *VectorIndex) Upsert(ctx context.Context, item *memory.Item) error {
	if len(item.Embedding) == 0 {
		return fmt.Errorf("item %s has no embedding", item.ID)
	}

	payload := map[string]interface{}{
		"user_id":    item.UserID,
		"kind":       string(item.Kind),
		"confidence": item.Confidence,
		"created_at": item.CreatedAt.Unix(),
	}
	reqBody := map[string]interface{}{
		"points": []map[string]interface{}{{
			"id":      item.ID,
			"vector":  item.Embedding,
			"payload": payload,
		}},
	}

	path := fmt.Sprintf("/collections/%s/points", v.config.Collection)
	if _, err := v.doRequest(ctx, http.MethodPut, path, reqBody); err != nil {
		return fmt.Errorf("failed to upsert point: %w", err)
	}
	return nil
}

// Delete removes the point for an item if it belongs to userID.
func (v *VectorIndex) Delete(ctx context.Context, userID, id string) error {
	reqBody := map[string]interface{}{
		"filter": map[string]interface{}{
			"must": []map[string]interface{}{
				{"key": "user_id", "match": map[string]interface{}{"value": userID}},
				{"has_id": []string{id}},
			},
		},
	}

	path := fmt.Sprintf("/collections/%s/points/delete", v.config.Collection)
	if _, err := v.doRequest(ctx, http.MethodPost, path, reqBody); err != nil {
		return fmt.Errorf("failed to delete point: %w", err)
	}
	return nil
}

func (v *VectorIndex) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	url := v.config.URL + path

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if v.config.APIKey != "" {
		req.Header.Set("api-key", v.config.APIKey)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// buildFilter translates the user scope and structural filters into a Qdrant
// payload filter. Filters the payload cannot express are re-applied by the
// orchestrator after hydration.
func buildFilter(userID string, filters *memory.Filters) map[string]interface{} {
	must := []map[string]interface{}{
		{"key": "user_id", "match": map[string]interface{}{"value": userID}},
	}

	if filters != nil {
		if len(filters.Kinds) > 0 {
			kinds := make([]string, len(filters.Kinds))
			for i, k := range filters.Kinds {
				kinds[i] = string(k)
			}
			must = append(must, map[string]interface{}{
				"key":   "kind",
				"match": map[string]interface{}{"any": kinds},
			})
		}
		dateRange := map[string]interface{}{}
		if filters.CreatedAfter != nil {
			dateRange["gte"] = filters.CreatedAfter.Unix()
		}
		if filters.CreatedBefore != nil {
			dateRange["lte"] = filters.CreatedBefore.Unix()
		}
		if len(dateRange) > 0 {
			must = append(must, map[string]interface{}{
				"key":   "created_at",
				"range": dateRange,
			})
		}
		if filters.MinConfidence > 0 {
			must = append(must, map[string]interface{}{
				"key":   "confidence",
				"range": map[string]interface{}{"gte": filters.MinConfidence},
			})
		}
	}

	return map[string]interface{}{"must": must}
}

func userPrefix(userID string) string {
	if len(userID) <= 8 {
		return userID
	}
	return userID[:8]
}
