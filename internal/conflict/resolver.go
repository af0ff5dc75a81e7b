// Package conflict detects memory items asserting contradictory facts about
// the same subject and collapses each group to its most trustworthy
// representative, persisting the supersession so repeated queries converge.
package conflict

import (
	"context"
	"errors"
	"sort"

	"github.com/sirupsen/logrus"

	"dev.helix.recall/internal/memory"
)

// SubjectKeyer derives a normalized subject key from an item. Items that map
// to the same non-empty key are candidates for conflict. The derivation is
// deliberately pluggable; the resolution rules below do not depend on how the
// key is computed.
type SubjectKeyer interface {
	Key(item *memory.Item) string
}

// Resolver groups candidates by subject key and resolves each group.
type Resolver struct {
	store      memory.Store
	keyer      SubjectKeyer
	maxRetries int
	logger     *logrus.Logger
}

// NewResolver creates a resolver. maxRetries bounds the optimistic retry of
// the supersession write.
func NewResolver(store memory.Store, keyer SubjectKeyer, maxRetries int, logger *logrus.Logger) *Resolver {
	if keyer == nil {
		keyer = NewEntityTopicKeyer()
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Resolver{store: store, keyer: keyer, maxRetries: maxRetries, logger: logger}
}

// Resolve takes one user's ordered candidate list and returns it with
// conflict groups collapsed to their representative. Losing items get
// superseded_by persisted; if the write keeps failing the loser stays live so
// a later query can retry. The relative order of surviving items is
// preserved.
func (r *Resolver) Resolve(ctx context.Context, userID string, items []*memory.Item) []*memory.Item {
	groups := make(map[string][]*memory.Item)
	for _, item := range items {
		if item.Superseded() {
			continue
		}
		key := r.keyer.Key(item)
		if key == "" {
			continue
		}
		groups[key] = append(groups[key], item)
	}

	dropped := make(map[string]bool)
	for key, group := range groups {
		if len(group) < 2 {
			continue
		}
		rep := representative(group)
		for _, item := range group {
			if item.ID == rep.ID {
				continue
			}
			dropped[item.ID] = true
			r.persist(ctx, userID, item, rep, key)
		}
	}

	kept := make([]*memory.Item, 0, len(items))
	for _, item := range items {
		if item.Superseded() || dropped[item.ID] {
			continue
		}
		kept = append(kept, item)
	}
	return kept
}

// representative picks the group winner: highest confidence, then most recent
// updated_at, then the lexicographically smaller id so the outcome is
// identical across processes.
func representative(group []*memory.Item) *memory.Item {
	sorted := make([]*memory.Item, len(group))
	copy(sorted, group)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})
	return sorted[0]
}

// persist writes the supersession with a bounded optimistic retry. A conflict
// means another request resolved the same group concurrently; if the winner
// matches, the store treats the write as idempotent, otherwise the item is
// left live for the next query to reconcile.
func (r *Resolver) persist(ctx context.Context, userID string, loser, rep *memory.Item, key string) {
	if loser.SupersededBy == rep.ID {
		return
	}

	var err error
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		err = r.store.Supersede(ctx, userID, loser.ID, rep.ID)
		if err == nil || !errors.Is(err, memory.ErrSupersedeConflict) {
			break
		}
	}
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"subject": key,
			"item":    loser.ID,
			"winner":  rep.ID,
		}).Warn("Failed to persist supersession")
		return
	}
	loser.SupersededBy = rep.ID
}
