package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"dev.helix.recall/internal/memory"
)

// RedisConfig configures the Redis result cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisCache implements ResultCache on Redis. Each Put registers the entry
// key in a per-user set so Invalidate can drop every page for that user in
// one pipeline, regardless of query shape.
type RedisCache struct {
	client  *redis.Client
	ttl     time.Duration
	logger  *logrus.Logger
	metrics *Metrics
}

// NewRedisCache creates the cache and verifies connectivity.
func NewRedisCache(cfg RedisConfig, logger *logrus.Logger, metrics *Metrics) (*RedisCache, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 60 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisCache{client: client, ttl: cfg.TTL, logger: logger, metrics: metrics}, nil
}

// Get returns the cached page for key if present and unexpired. Redis errors
// are treated as misses; the cache must never fail a search.
func (c *RedisCache) Get(ctx context.Context, key Key) (*memory.PaginatedResults, bool) {
	data, err := c.client.Get(ctx, key.String()).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.WithError(err).Debug("Cache read failed")
		}
		c.metrics.Miss()
		return nil, false
	}

	var page memory.PaginatedResults
	if err := json.Unmarshal(data, &page); err != nil {
		c.logger.WithError(err).Warn("Corrupt cache entry dropped")
		_ = c.client.Del(ctx, key.String()).Err()
		c.metrics.Miss()
		return nil, false
	}

	c.metrics.Hit()
	return &page, true
}

// Put stores a page under key with the configured TTL and registers the key
// in the owner's key set. Last writer wins.
func (c *RedisCache) Put(ctx context.Context, key Key, page *memory.PaginatedResults) {
	data, err := json.Marshal(page)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to serialize page for cache")
		return
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, key.String(), data, c.ttl)
	pipe.SAdd(ctx, userKeySet(key.UserID), key.String())
	// The set outlives its members by one TTL so Invalidate still sees keys
	// that expired naturally.
	pipe.Expire(ctx, userKeySet(key.UserID), 2*c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.WithError(err).Debug("Cache write failed")
		return
	}
	c.metrics.Put()
}

// Invalidate drops every cached page for userID. When it returns nil, no
// pre-invalidation entry remains readable.
func (c *RedisCache) Invalidate(ctx context.Context, userID string) error {
	setKey := userKeySet(userID)
	keys, err := c.client.SMembers(ctx, setKey).Result()
	if err != nil && err != redis.Nil {
		return err
	}

	pipe := c.client.TxPipeline()
	if len(keys) > 0 {
		pipe.Del(ctx, keys...)
	}
	pipe.Del(ctx, setKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	c.metrics.Invalidate()
	c.logger.WithFields(logrus.Fields{
		"user":    userID,
		"entries": len(keys),
	}).Debug("User cache invalidated")
	return nil
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
