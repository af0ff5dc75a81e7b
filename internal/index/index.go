// Package index defines the three retrieval signal backends the engine fans
// out to: vector (semantic), keyword (lexical), and graph (relational).
// Scores are raw and subsystem-specific; the fusion ranker normalizes them.
package index

import (
	"context"

	"dev.helix.recall/internal/memory"
)

// ScoredRef is one candidate produced by an index: an item ID and the raw
// score in the backend's native range.
type ScoredRef struct {
	ID    string
	Score float64
}

// VectorIndex answers k-nearest-neighbor queries over item embeddings.
type VectorIndex interface {
	Search(ctx context.Context, userID string, embedding []float32, limit int, filters *memory.Filters) ([]ScoredRef, error)
	Upsert(ctx context.Context, item *memory.Item) error
	Delete(ctx context.Context, userID, id string) error
}

// KeywordIndex answers relevance-scored term queries over item content.
type KeywordIndex interface {
	Search(ctx context.Context, userID, query string, limit int, filters *memory.Filters) ([]ScoredRef, error)
	Index(ctx context.Context, item *memory.Item) error
	Remove(ctx context.Context, userID, id string) error
}

// GraphIndex scores items by their connection to entities mentioned in the
// query, bounded by traversal depth.
type GraphIndex interface {
	Search(ctx context.Context, userID string, entities []string, limit, maxDepth int) ([]ScoredRef, error)
	AddItem(ctx context.Context, item *memory.Item) error
}
