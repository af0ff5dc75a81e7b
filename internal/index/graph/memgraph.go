package graph

import (
	"context"
	"strings"
	"sync"

	"dev.helix.recall/internal/index"
	"dev.helix.recall/internal/memory"
)

// MemoryGraph is an in-process graph index used by standalone mode and
// tests. It keeps the bipartite item/entity adjacency per user and answers
// searches with a depth-bounded breadth-first traversal using the same
// 1/(hop count) scoring as the Neo4j backend.
type MemoryGraph struct {
	itemEntities map[string]map[string][]string // userID -> itemID -> entity names
	entityItems  map[string]map[string][]string // userID -> entity name -> item IDs

	mu sync.RWMutex
}

// NewMemoryGraph creates an empty in-memory graph index.
func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{
		itemEntities: make(map[string]map[string][]string),
		entityItems:  make(map[string]map[string][]string),
	}
}

// AddItem registers the item's entity edges.
func (g *MemoryGraph) AddItem(ctx context.Context, item *memory.Item) error {
	if len(item.Entities) == 0 {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.itemEntities[item.UserID] == nil {
		g.itemEntities[item.UserID] = make(map[string][]string)
		g.entityItems[item.UserID] = make(map[string][]string)
	}

	var names []string
	for _, e := range item.Entities {
		name := strings.ToLower(strings.TrimSpace(e))
		if name == "" {
			continue
		}
		names = append(names, name)
		if !contains(g.entityItems[item.UserID][name], item.ID) {
			g.entityItems[item.UserID][name] = append(g.entityItems[item.UserID][name], item.ID)
		}
	}
	g.itemEntities[item.UserID][item.ID] = names
	return nil
}

// Search walks entity->item->entity edges breadth-first up to maxDepth hops
// and scores each reached item by 1/(hops to reach it).
func (g *MemoryGraph) Search(ctx context.Context, userID string, entities []string, limit, maxDepth int) ([]index.ScoredRef, error) {
	if len(entities) == 0 {
		return nil, nil
	}
	if maxDepth <= 0 {
		maxDepth = 2
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	entityItems := g.entityItems[userID]
	itemEntities := g.itemEntities[userID]
	if entityItems == nil {
		return nil, nil
	}

	// hop distance per item: items mentioning a query entity are 1 hop away,
	// items sharing an entity with those are 2 hops, etc.
	dist := make(map[string]int)
	frontier := make(map[string]bool)
	for _, e := range entities {
		frontier[strings.ToLower(strings.TrimSpace(e))] = true
	}
	seenEntity := make(map[string]bool)

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth += 2 {
		next := make(map[string]bool)
		for name := range frontier {
			if seenEntity[name] {
				continue
			}
			seenEntity[name] = true
			for _, itemID := range entityItems[name] {
				if _, seen := dist[itemID]; !seen {
					dist[itemID] = depth
				}
				if depth+1 <= maxDepth {
					for _, other := range itemEntities[itemID] {
						if !seenEntity[other] {
							next[other] = true
						}
					}
				}
			}
		}
		frontier = next
	}

	refs := make([]index.ScoredRef, 0, len(dist))
	for id, d := range dist {
		refs = append(refs, index.ScoredRef{ID: id, Score: 1.0 / float64(d)})
	}
	sortRefs(refs)

	if limit > 0 && len(refs) > limit {
		refs = refs[:limit]
	}
	return refs, nil
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
