// Package fusion combines the vector, keyword, and graph score lists into one
// ranked list with a single comparable final score.
package fusion

import (
	"sort"

	"github.com/sirupsen/logrus"

	"dev.helix.recall/internal/index"
	"dev.helix.recall/internal/memory"
)

// Weights are the per-signal fusion weights, each in [0,1]. They need not sum
// to 1; the ranker divides by the sum of the weights actually in play.
type Weights struct {
	Vector  float64
	Keyword float64
	Graph   float64
}

// Candidate is one merged row: an item id with its normalized subscores.
// A nil subscore means that signal was disabled or returned nothing for this
// request; it contributes 0 to the final score.
type Candidate struct {
	ID           string
	VectorScore  *float64
	KeywordScore *float64
	GraphScore   *float64
	FinalScore   float64
}

// Ranker fuses subsystem candidate lists and applies ordering rules.
type Ranker struct {
	logger *logrus.Logger
}

// NewRanker creates a ranker.
func NewRanker(logger *logrus.Logger) *Ranker {
	if logger == nil {
		logger = logrus.New()
	}
	return &Ranker{logger: logger}
}

// Fuse merges up to three candidate lists. A nil list means the subsystem was
// disabled or unavailable and its weight drops out of the denominator. Each
// list is min-max normalized over its own candidate set so incomparable raw
// scales (cosine similarity, BM25, graph distance) weigh fairly.
func (r *Ranker) Fuse(vector, keyword, graph []index.ScoredRef, w Weights) []Candidate {
	normVector := normalize(vector)
	normKeyword := normalize(keyword)
	normGraph := normalize(graph)

	weightSum := 0.0
	if vector != nil && w.Vector > 0 {
		weightSum += w.Vector
	}
	if keyword != nil && w.Keyword > 0 {
		weightSum += w.Keyword
	}
	if graph != nil && w.Graph > 0 {
		weightSum += w.Graph
	}

	merged := make(map[string]*Candidate)
	order := make([]string, 0)
	upsert := func(id string) *Candidate {
		if c, exists := merged[id]; exists {
			return c
		}
		c := &Candidate{ID: id}
		merged[id] = c
		order = append(order, id)
		return c
	}

	for id, s := range normVector {
		score := s
		upsert(id).VectorScore = &score
	}
	for id, s := range normKeyword {
		score := s
		upsert(id).KeywordScore = &score
	}
	for id, s := range normGraph {
		score := s
		upsert(id).GraphScore = &score
	}

	results := make([]Candidate, 0, len(order))
	for _, id := range order {
		c := merged[id]
		if weightSum > 0 {
			total := 0.0
			if c.VectorScore != nil {
				total += w.Vector * *c.VectorScore
			}
			if c.KeywordScore != nil {
				total += w.Keyword * *c.KeywordScore
			}
			if c.GraphScore != nil {
				total += w.Graph * *c.GraphScore
			}
			c.FinalScore = total / weightSum
		}
		results = append(results, *c)
	}

	r.logger.WithFields(logrus.Fields{
		"vector_count":  len(vector),
		"keyword_count": len(keyword),
		"graph_count":   len(graph),
		"merged_count":  len(results),
	}).Debug("Score fusion completed")

	return results
}

// Sort orders hydrated results: final score descending, then most recent
// updated_at, then confidence descending, then id ascending for determinism.
func (r *Ranker) Sort(results []*memory.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return lessRanked(results[i], results[j])
	})
}

func lessRanked(a, b *memory.SearchResult) bool {
	if a.FinalScore != b.FinalScore {
		return a.FinalScore > b.FinalScore
	}
	if !a.Item.UpdatedAt.Equal(b.Item.UpdatedAt) {
		return a.Item.UpdatedAt.After(b.Item.UpdatedAt)
	}
	if a.Item.Confidence != b.Item.Confidence {
		return a.Item.Confidence > b.Item.Confidence
	}
	return a.Item.ID < b.Item.ID
}

// Rerank applies the second-pass reordering to the top topN results: within
// groups tied on final score, items present in both the vector and graph
// candidate sets are promoted ahead of the rest of the group. Strictly
// higher-scored items are never moved below strictly lower-scored ones, so
// the boost is confined to ties.
func (r *Ranker) Rerank(results []*memory.SearchResult, topN int) {
	if topN > len(results) {
		topN = len(results)
	}
	head := results[:topN]

	start := 0
	for start < len(head) {
		end := start + 1
		for end < len(head) && head[end].FinalScore == head[start].FinalScore {
			end++
		}
		if end-start > 1 {
			sort.SliceStable(head[start:end], func(i, j int) bool {
				a, b := head[start+i], head[start+j]
				ba, bb := crossSignal(a), crossSignal(b)
				if ba != bb {
					return ba
				}
				return lessRanked(a, b)
			})
		}
		start = end
	}
}

// crossSignal reports whether a result was found by both the semantic and the
// relational index, a strong hint that it is central to the query.
func crossSignal(r *memory.SearchResult) bool {
	return r.VectorScore != nil && r.GraphScore != nil
}

// normalize min-max scales raw scores to [0,1] over the candidate set the
// subsystem returned. A constant list maps to 1.0 for every candidate.
func normalize(refs []index.ScoredRef) map[string]float64 {
	if refs == nil {
		return nil
	}
	out := make(map[string]float64, len(refs))
	if len(refs) == 0 {
		return out
	}

	minScore, maxScore := refs[0].Score, refs[0].Score
	for _, ref := range refs[1:] {
		if ref.Score < minScore {
			minScore = ref.Score
		}
		if ref.Score > maxScore {
			maxScore = ref.Score
		}
	}

	span := maxScore - minScore
	for _, ref := range refs {
		if span == 0 {
			out[ref.ID] = 1.0
			continue
		}
		out[ref.ID] = (ref.Score - minScore) / span
	}
	return out
}
