package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore provides an in-process implementation of Store. It backs
// standalone mode and tests; production deployments use the Postgres store.
type InMemoryStore struct {
	items     map[string]*Item
	userIndex map[string][]string // userID -> item IDs, insertion order

	mu sync.RWMutex
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		items:     make(map[string]*Item),
		userIndex: make(map[string][]string),
	}
}

// Add stores a new item.
func (s *InMemoryStore) Add(ctx context.Context, item *Item) error {
	if item.UserID == "" {
		return &ValidationError{Field: "user_id", Reason: "must not be empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		item.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}

	cp := *item
	s.items[item.ID] = &cp
	s.userIndex[item.UserID] = append(s.userIndex[item.UserID], item.ID)
	return nil
}

// Get retrieves an item by ID, scoped to its owner.
func (s *InMemoryStore) Get(ctx context.Context, userID, id string) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.items[id]
	if !exists || item.UserID != userID {
		return nil, ErrNotFound
	}

	cp := *item
	return &cp, nil
}

// GetMany retrieves the subset of ids that exist and belong to userID.
// Missing or foreign ids are silently skipped.
func (s *InMemoryStore) GetMany(ctx context.Context, userID string, ids []string) ([]*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*Item, 0, len(ids))
	for _, id := range ids {
		if item, exists := s.items[id]; exists && item.UserID == userID {
			cp := *item
			results = append(results, &cp)
		}
	}
	return results, nil
}

// Update replaces an existing item and bumps updated_at.
func (s *InMemoryStore) Update(ctx context.Context, item *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.items[item.ID]
	if !exists || existing.UserID != item.UserID {
		return ErrNotFound
	}

	item.UpdatedAt = time.Now().UTC()
	cp := *item
	s.items[item.ID] = &cp
	return nil
}

// ListByUser returns a user's items with optional sorting and pagination.
func (s *InMemoryStore) ListByUser(ctx context.Context, userID string, opts *ListOptions) ([]*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.userIndex[userID]
	results := make([]*Item, 0, len(ids))
	for _, id := range ids {
		if item, exists := s.items[id]; exists {
			cp := *item
			results = append(results, &cp)
		}
	}

	if opts == nil {
		return results, nil
	}

	sortItems(results, opts.SortBy, opts.Order)

	start := opts.Offset
	if start < 0 {
		start = 0
	}
	if start > len(results) {
		return []*Item{}, nil
	}
	end := len(results)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	return results[start:end], nil
}

// Supersede conditionally marks id as replaced by byID. The condition mirrors
// the Postgres store's optimistic update: it only succeeds when superseded_by
// is still unset.
func (s *InMemoryStore) Supersede(ctx context.Context, userID, id, byID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, exists := s.items[id]
	if !exists || item.UserID != userID {
		return ErrNotFound
	}
	if item.SupersededBy != "" {
		if item.SupersededBy == byID {
			return nil // already resolved to the same representative
		}
		return ErrSupersedeConflict
	}
	if _, exists := s.items[byID]; !exists {
		return ErrNotFound
	}

	item.SupersededBy = byID
	item.UpdatedAt = time.Now().UTC()
	return nil
}

// DueReminders returns unconsumed reminders due at or before now, ordered by
// due time ascending.
func (s *InMemoryStore) DueReminders(ctx context.Context, userID string, now time.Time, limit int) ([]*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*Item
	for _, id := range s.userIndex[userID] {
		item, exists := s.items[id]
		if !exists {
			continue
		}
		if item.Kind != KindReminder || item.DueAt == nil || item.ConsumedAt != nil {
			continue
		}
		if item.DueAt.After(now) {
			continue
		}
		cp := *item
		due = append(due, &cp)
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].DueAt.Before(*due[j].DueAt)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// ConsumeReminder marks a reminder as delivered.
func (s *InMemoryStore) ConsumeReminder(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, exists := s.items[id]
	if !exists || item.UserID != userID {
		return ErrNotFound
	}
	if item.Kind != KindReminder {
		return &ValidationError{Field: "id", Reason: "item is not a reminder"}
	}

	now := time.Now().UTC()
	item.ConsumedAt = &now
	item.UpdatedAt = now
	return nil
}

func sortItems(items []*Item, sortBy, order string) {
	sort.Slice(items, func(i, j int) bool {
		var less bool
		switch sortBy {
		case "updated_at":
			less = items[i].UpdatedAt.Before(items[j].UpdatedAt)
		default:
			less = items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		if order == "desc" {
			return !less
		}
		return less
	})
}
