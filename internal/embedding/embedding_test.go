package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalEmbedder_Deterministic(t *testing.T) {
	e := NewLocalEmbedder(64)
	ctx := context.Background()

	a, err := e.EmbedQuery(ctx, "the cat sat on the mat")
	require.NoError(t, err)
	b, err := e.EmbedQuery(ctx, "the cat sat on the mat")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestLocalEmbedder_UnitNorm(t *testing.T) {
	e := NewLocalEmbedder(64)
	vec, err := e.EmbedQuery(context.Background(), "coffee with milk")
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}

func TestLocalEmbedder_OverlapScoresHigher(t *testing.T) {
	e := NewLocalEmbedder(256)
	ctx := context.Background()

	query, err := e.EmbedQuery(ctx, "cat food brand")
	require.NoError(t, err)
	related, err := e.EmbedQuery(ctx, "bought new cat food yesterday")
	require.NoError(t, err)
	unrelated, err := e.EmbedQuery(ctx, "quarterly report deadline moved")
	require.NoError(t, err)

	dot := func(a, b []float32) float64 {
		var s float64
		for i := range a {
			s += float64(a[i]) * float64(b[i])
		}
		return s
	}
	assert.Greater(t, dot(query, related), dot(query, unrelated))
}

func TestLocalEmbedder_EmptyText(t *testing.T) {
	e := NewLocalEmbedder(32)
	vec, err := e.EmbedQuery(context.Background(), "")
	require.NoError(t, err)
	for _, v := range vec {
		assert.True(t, !math.IsNaN(float64(v)))
		assert.Zero(t, v)
	}
}

func TestHTTPEmbedder_Batch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)

		type datum struct {
			Embedding []float32 `json:"embedding"`
		}
		resp := struct {
			Data []datum `json:"data"`
		}{}
		for range req.Input {
			resp.Data = append(resp.Data, datum{Embedding: []float32{0.1, 0.2}})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	e := NewHTTPEmbedder(Config{
		BaseURL:   server.URL + "/v1",
		APIKey:    "test-key",
		Model:     "test-model",
		Dimension: 2,
	})

	vectors, err := e.Embed(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{0.1, 0.2}, vectors[0])
	assert.Equal(t, 2, e.Dimension())
}

func TestHTTPEmbedder_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	e := NewHTTPEmbedder(Config{BaseURL: server.URL, Model: "m", Dimension: 2})
	_, err := e.EmbedQuery(context.Background(), "anything")
	assert.Error(t, err)
}

func TestHTTPEmbedder_CountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	e := NewHTTPEmbedder(Config{BaseURL: server.URL, Model: "m", Dimension: 2})
	_, err := e.Embed(context.Background(), []string{"one"})
	assert.Error(t, err)
}
