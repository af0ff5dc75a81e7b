package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"dev.helix.recall/internal/index/keyword"
)

// LocalEmbedder produces deterministic hashed bag-of-words vectors. It needs
// no network and always embeds the same text to the same vector, which makes
// it the default for tests and standalone mode. Semantically it is a crude
// approximation: overlap in tokens yields overlap in vector components.
type LocalEmbedder struct {
	dimension int
}

// NewLocalEmbedder creates a local embedder with the given dimension.
func NewLocalEmbedder(dimension int) *LocalEmbedder {
	if dimension <= 0 {
		dimension = 256
	}
	return &LocalEmbedder{dimension: dimension}
}

// Dimension returns the embedding dimension.
func (e *LocalEmbedder) Dimension() int {
	return e.dimension
}

// EmbedQuery embeds a single query string.
func (e *LocalEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.embed(text), nil
}

// Embed embeds a batch of texts.
func (e *LocalEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.embed(text)
	}
	return vectors, nil
}

// Close is a no-op.
func (e *LocalEmbedder) Close() error {
	return nil
}

func (e *LocalEmbedder) embed(text string) []float32 {
	vec := make([]float32, e.dimension)
	for _, token := range keyword.Tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum32()
		// Low bits pick the bucket, high bit picks the sign so unrelated
		// tokens cancel rather than pile up.
		idx := int(sum % uint32(e.dimension))
		sign := float32(1)
		if sum&0x80000000 != 0 {
			sign = -1
		}
		vec[idx] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}
