// Package cache provides the query result cache: fingerprinted keys with a
// system-wide TTL and coarse per-user invalidation. The production backend is
// Redis; MemoryCache provides the same contract in process.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"

	"dev.helix.recall/internal/memory"
)

// ResultCache maps a fingerprinted query key to a previously computed page.
// Invalidate drops every cached page for one user; after it returns, no
// subsequent Get for that user may observe a pre-invalidation value.
type ResultCache interface {
	Get(ctx context.Context, key Key) (*memory.PaginatedResults, bool)
	Put(ctx context.Context, key Key, page *memory.PaginatedResults)
	Invalidate(ctx context.Context, userID string) error
	Close() error
}

// Key identifies one cached page. The fingerprint covers the full option and
// filter set so requests differing only in weights are never confused.
type Key struct {
	UserID      string
	Query       string // normalized
	Fingerprint string
	Offset      int
	Limit       int
}

// String renders the Redis key.
func (k Key) String() string {
	return fmt.Sprintf("recall:%s:%s", k.UserID, hashString(fmt.Sprintf("%s|%s|%d|%d", k.Query, k.Fingerprint, k.Offset, k.Limit)))
}

// userKeySet is the Redis set tracking a user's live cache keys, consulted by
// Invalidate.
func userKeySet(userID string) string {
	return fmt.Sprintf("recall:user:%s:keys", userID)
}

// Fingerprint produces a deterministic digest of the search options.
func Fingerprint(opts *memory.SearchOptions) string {
	data, err := json.Marshal(opts)
	if err != nil {
		return "opts-unserializable"
	}
	return hashString(string(data))
}

func hashString(s string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(s)))
}
