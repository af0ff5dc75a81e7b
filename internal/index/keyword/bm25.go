// Package keyword implements the lexical index as an in-process inverted
// index with BM25 ranking. Postings are partitioned by user so queries never
// touch another user's terms.
package keyword

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"dev.helix.recall/internal/index"
	"dev.helix.recall/internal/memory"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// docMeta keeps the per-document fields needed for filtering and length
// normalization without holding the full item.
type docMeta struct {
	length     int
	kind       memory.Kind
	confidence float64
	createdAt  time.Time
}

// userIndex is one user's postings.
type userIndex struct {
	postings map[string]map[string]int // term -> docID -> term frequency
	docs     map[string]docMeta
	totalLen int
}

// BM25Index implements index.KeywordIndex.
type BM25Index struct {
	users map[string]*userIndex
	mu    sync.RWMutex
}

// New creates an empty BM25 index.
func New() *BM25Index {
	return &BM25Index{users: make(map[string]*userIndex)}
}

// Index adds or replaces an item's terms. The indexed terms are the item's
// derived keyword set plus its content tokens.
func (b *BM25Index) Index(ctx context.Context, item *memory.Item) error {
	terms := Tokenize(item.Content)
	for _, kw := range item.Keywords {
		terms = append(terms, strings.ToLower(kw))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ui, exists := b.users[item.UserID]
	if !exists {
		ui = &userIndex{
			postings: make(map[string]map[string]int),
			docs:     make(map[string]docMeta),
		}
		b.users[item.UserID] = ui
	}

	ui.removeLocked(item.ID)

	for _, term := range terms {
		if ui.postings[term] == nil {
			ui.postings[term] = make(map[string]int)
		}
		ui.postings[term][item.ID]++
	}
	ui.docs[item.ID] = docMeta{
		length:     len(terms),
		kind:       item.Kind,
		confidence: item.Confidence,
		createdAt:  item.CreatedAt,
	}
	ui.totalLen += len(terms)
	return nil
}

// Remove deletes an item's postings.
func (b *BM25Index) Remove(ctx context.Context, userID, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ui, exists := b.users[userID]; exists {
		ui.removeLocked(id)
	}
	return nil
}

// Search scores the user's documents against the query terms with BM25.
// Scores are raw; the fusion ranker normalizes them.
func (b *BM25Index) Search(ctx context.Context, userID, query string, limit int, filters *memory.Filters) ([]index.ScoredRef, error) {
	terms := Tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	ui, exists := b.users[userID]
	if !exists || len(ui.docs) == 0 {
		return nil, nil
	}

	n := float64(len(ui.docs))
	avgLen := float64(ui.totalLen) / n

	scores := make(map[string]float64)
	for _, term := range terms {
		posting := ui.postings[term]
		if len(posting) == 0 {
			continue
		}
		idf := math.Log(1 + (n-float64(len(posting))+0.5)/(float64(len(posting))+0.5))
		for docID, tf := range posting {
			meta := ui.docs[docID]
			if !matchMeta(meta, filters) {
				continue
			}
			norm := float64(tf) * (bm25K1 + 1) /
				(float64(tf) + bm25K1*(1-bm25B+bm25B*float64(meta.length)/avgLen))
			scores[docID] += idf * norm
		}
	}

	refs := make([]index.ScoredRef, 0, len(scores))
	for id, score := range scores {
		refs = append(refs, index.ScoredRef{ID: id, Score: score})
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

func (ui *userIndex) removeLocked(id string) {
	meta, exists := ui.docs[id]
	if !exists {
		return
	}
	for term, posting := range ui.postings {
		if _, ok := posting[id]; ok {
			delete(posting, id)
			if len(posting) == 0 {
				delete(ui.postings, term)
			}
		}
	}
	ui.totalLen -= meta.length
	delete(ui.docs, id)
}

func matchMeta(meta docMeta, filters *memory.Filters) bool {
	if filters == nil {
		return true
	}
	if len(filters.Kinds) > 0 {
		found := false
		for _, k := range filters.Kinds {
			if meta.kind == k {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filters.CreatedAfter != nil && meta.createdAt.Before(*filters.CreatedAfter) {
		return false
	}
	if filters.CreatedBefore != nil && meta.createdAt.After(*filters.CreatedBefore) {
		return false
	}
	if filters.MinConfidence > 0 && meta.confidence < filters.MinConfidence {
		return false
	}
	return true
}

// Tokenize lowercases and splits text into alphanumeric terms.
func Tokenize(text string) []string {
	var terms []string
	var sb strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
			continue
		}
		if sb.Len() > 0 {
			terms = append(terms, sb.String())
			sb.Reset()
		}
	}
	if sb.Len() > 0 {
		terms = append(terms, sb.String())
	}
	return terms
}
