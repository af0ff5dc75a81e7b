// Package memory defines the durable memory model for the recall engine:
// memory items, typed search options, pagination, and the store interface
// every backend implements.
package memory

import (
	"context"
	"time"
)

// Kind categorizes memory items.
type Kind string

const (
	KindFact       Kind = "fact"
	KindEvent      Kind = "event"
	KindReminder   Kind = "reminder"
	KindPreference Kind = "preference"
	KindFragment   Kind = "fragment" // raw conversation fragment
)

// Item is one stored memory belonging to a user. Items are never hard-deleted
// by the engine; superseded items keep their row for audit and carry a
// back-reference to the item that replaced them.
type Item struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Content      string     `json:"content"`
	Embedding    []float32  `json:"embedding,omitempty"`
	Keywords     []string   `json:"keywords,omitempty"`
	Entities     []string   `json:"entities,omitempty"`
	Kind         Kind       `json:"kind"`
	Confidence   float64    `json:"confidence"`
	DueAt        *time.Time `json:"due_at,omitempty"`
	ConsumedAt   *time.Time `json:"consumed_at,omitempty"`
	SupersededBy string     `json:"superseded_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Superseded reports whether the item has been replaced by a conflict-group
// representative and must be excluded from normal search results.
func (it *Item) Superseded() bool {
	return it.SupersededBy != ""
}

// Filters is the structural pre-filter applied before any scoring.
// Zero values mean "no constraint".
type Filters struct {
	Kinds         []Kind     `json:"kinds,omitempty"`
	CreatedAfter  *time.Time `json:"created_after,omitempty"`
	CreatedBefore *time.Time `json:"created_before,omitempty"`
	MinConfidence float64    `json:"min_confidence,omitempty"`
}

// Match reports whether an item passes the filter.
func (f *Filters) Match(it *Item) bool {
	if f == nil {
		return true
	}
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if it.Kind == k {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.CreatedAfter != nil && it.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && it.CreatedAt.After(*f.CreatedBefore) {
		return false
	}
	if f.MinConfidence > 0 && it.Confidence < f.MinConfidence {
		return false
	}
	return true
}

// SearchOptions configures one retrieval request. Weights are raw; the fusion
// ranker renormalizes over the signals that actually produced candidates.
type SearchOptions struct {
	EnableHybridSearch       bool     `json:"enable_hybrid_search"`
	EnableGraphSearch        bool     `json:"enable_graph_search"`
	EnableConflictResolution bool     `json:"enable_conflict_resolution"`
	Rerank                   bool     `json:"rerank"`
	VectorWeight             float64  `json:"vector_weight"`
	KeywordWeight            float64  `json:"keyword_weight"`
	GraphWeight              float64  `json:"graph_weight"`
	Filters                  *Filters `json:"filters,omitempty"`
}

// DefaultSearchOptions returns the system defaults: hybrid and graph search
// enabled with equal weights, conflict resolution on, reranking off.
func DefaultSearchOptions() *SearchOptions {
	return &SearchOptions{
		EnableHybridSearch:       true,
		EnableGraphSearch:        true,
		EnableConflictResolution: true,
		Rerank:                   false,
		VectorWeight:             1.0,
		KeywordWeight:            1.0,
		GraphWeight:              1.0,
	}
}

// Validate checks field ranges. Weights must each lie in [0,1]; they need
// not sum to 1.
func (o *SearchOptions) Validate() error {
	for _, w := range []struct {
		name  string
		value float64
	}{
		{"vector_weight", o.VectorWeight},
		{"keyword_weight", o.KeywordWeight},
		{"graph_weight", o.GraphWeight},
	} {
		if w.value < 0 || w.value > 1 {
			return &ValidationError{Field: w.name, Reason: "must be in [0,1]"}
		}
	}
	return nil
}

// PaginationParams selects one page of results.
type PaginationParams struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Clamp applies server-side bounds: a non-positive limit falls back to
// defaultLimit, a limit above maxLimit is clamped rather than rejected, and
// a negative offset is treated as the first page.
func (p PaginationParams) Clamp(defaultLimit, maxLimit int) PaginationParams {
	if p.Limit <= 0 {
		p.Limit = defaultLimit
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// SearchResult is one ranked hit. Subscores are nil when the corresponding
// signal was disabled or unavailable for the request.
type SearchResult struct {
	Item         *Item    `json:"item"`
	VectorScore  *float64 `json:"vector_score,omitempty"`
	KeywordScore *float64 `json:"keyword_score,omitempty"`
	GraphScore   *float64 `json:"graph_score,omitempty"`
	FinalScore   float64  `json:"final_score"`
	Rank         int      `json:"rank"`
}

// PaginatedResults is one page of ranked hits. TotalEstimated is a cheap
// estimate (the merged candidate count), stable for the lifetime of a cached
// query so consecutive pages never skip or duplicate rows. Degraded is set
// when every enabled subsystem failed and the page is empty for that reason
// rather than because the user has no matching memories.
type PaginatedResults struct {
	Results        []SearchResult `json:"results"`
	TotalEstimated int            `json:"total_estimated"`
	Offset         int            `json:"offset"`
	Limit          int            `json:"limit"`
	Degraded       bool           `json:"degraded,omitempty"`
}

// ListOptions configures store listings.
type ListOptions struct {
	Limit  int
	Offset int
	SortBy string // created_at, updated_at
	Order  string // asc, desc
}

// Store is the durable backend for memory items. All reads are scoped to one
// user; implementations must never return another user's items.
type Store interface {
	Add(ctx context.Context, item *Item) error
	Get(ctx context.Context, userID, id string) (*Item, error)
	GetMany(ctx context.Context, userID string, ids []string) ([]*Item, error)
	Update(ctx context.Context, item *Item) error
	ListByUser(ctx context.Context, userID string, opts *ListOptions) ([]*Item, error)

	// Supersede marks item id as replaced by representative byID. The write is
	// conditional on superseded_by still being unset; a lost race returns
	// ErrSupersedeConflict.
	Supersede(ctx context.Context, userID, id, byID string) error

	// DueReminders returns unconsumed reminder items with due_at <= now,
	// ordered by due_at ascending, capped at limit.
	DueReminders(ctx context.Context, userID string, now time.Time, limit int) ([]*Item, error)

	// ConsumeReminder marks a reminder as delivered.
	ConsumeReminder(ctx context.Context, userID, id string) error
}
