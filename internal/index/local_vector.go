package index

import (
	"context"
	"math"
	"sort"
	"sync"

	"dev.helix.recall/internal/memory"
)

// LocalVectorIndex is an exact-scan in-process vector index used by
// standalone mode and tests. Scores are cosine similarities, the same range
// the Qdrant backend reports.
type LocalVectorIndex struct {
	items map[string]map[string]*memory.Item // userID -> itemID -> item
	mu    sync.RWMutex
}

// NewLocalVectorIndex creates an empty local vector index.
func NewLocalVectorIndex() *LocalVectorIndex {
	return &LocalVectorIndex{items: make(map[string]map[string]*memory.Item)}
}

// Upsert stores the item's embedding.
func (l *LocalVectorIndex) Upsert(ctx context.Context, item *memory.Item) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.items[item.UserID] == nil {
		l.items[item.UserID] = make(map[string]*memory.Item)
	}
	cp := *item
	l.items[item.UserID][item.ID] = &cp
	return nil
}

// Delete removes an item's embedding.
func (l *LocalVectorIndex) Delete(ctx context.Context, userID, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if user, exists := l.items[userID]; exists {
		delete(user, id)
	}
	return nil
}

// Search scans the user's embeddings and returns the top-limit cosine
// similarities.
func (l *LocalVectorIndex) Search(ctx context.Context, userID string, embedding []float32, limit int, filters *memory.Filters) ([]ScoredRef, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var refs []ScoredRef
	for id, item := range l.items[userID] {
		if len(item.Embedding) != len(embedding) || len(embedding) == 0 {
			continue
		}
		if !filters.Match(item) {
			continue
		}
		refs = append(refs, ScoredRef{ID: id, Score: cosine(embedding, item.Embedding)})
	}

	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Score != refs[j].Score {
			return refs[i].Score > refs[j].Score
		}
		return refs[i].ID < refs[j].ID
	})

	if limit > 0 && len(refs) > limit {
		refs = refs[:limit]
	}
	return refs, nil
}

func cosine(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
