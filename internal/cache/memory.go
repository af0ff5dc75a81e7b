package cache

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"dev.helix.recall/internal/memory"
)

type memoryEntry struct {
	page      *memory.PaginatedResults
	expiresAt time.Time
}

// MemoryCache is an in-process ResultCache used when Redis is not
// configured. Entries expire lazily on read and in bulk on Invalidate.
type MemoryCache struct {
	mu       sync.RWMutex
	entries  map[string]memoryEntry
	userKeys map[string]map[string]struct{}
	ttl      time.Duration
	logger   *logrus.Logger
	metrics  *Metrics
	now      func() time.Time
}

// NewMemoryCache creates an in-process cache with the given TTL.
func NewMemoryCache(ttl time.Duration, logger *logrus.Logger, metrics *Metrics) *MemoryCache {
	if logger == nil {
		logger = logrus.New()
	}
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &MemoryCache{
		entries:  make(map[string]memoryEntry),
		userKeys: make(map[string]map[string]struct{}),
		ttl:      ttl,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key Key) (*memory.PaginatedResults, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key.String()]
	c.mu.RUnlock()

	if !ok || c.now().After(entry.expiresAt) {
		if ok {
			c.mu.Lock()
			delete(c.entries, key.String())
			c.mu.Unlock()
		}
		c.metrics.Miss()
		return nil, false
	}

	c.metrics.Hit()
	return entry.page, true
}

func (c *MemoryCache) Put(_ context.Context, key Key, page *memory.PaginatedResults) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key.String()] = memoryEntry{page: page, expiresAt: c.now().Add(c.ttl)}
	keys, ok := c.userKeys[key.UserID]
	if !ok {
		keys = make(map[string]struct{})
		c.userKeys[key.UserID] = keys
	}
	keys[key.String()] = struct{}{}
	c.metrics.Put()
}

func (c *MemoryCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k := range c.userKeys[userID] {
		delete(c.entries, k)
	}
	delete(c.userKeys, userID)
	c.metrics.Invalidate()
	return nil
}

func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]memoryEntry)
	c.userKeys = make(map[string]map[string]struct{})
	return nil
}
