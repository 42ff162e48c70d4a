package blobstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// CachedStore fronts a Store with Redis. Writes go through to the backing
// store first, then refresh the cache. Redis failures degrade to the backing
// store and are logged.
type CachedStore struct {
	next   Store
	rdb    redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewCachedStore wraps next. A ttl <= 0 keeps cached entries until overwritten.
func NewCachedStore(next Store, rdb redis.UniversalClient, ttl time.Duration, prefix string) *CachedStore {
	if prefix == "" {
		prefix = "funnelsnap:blob:"
	}
	return &CachedStore{next: next, rdb: rdb, ttl: ttl, prefix: prefix}
}

func (c *CachedStore) cacheKey(key string) string { return c.prefix + key }

// Get serves from Redis when present, otherwise reads through and fills the cache.
func (c *CachedStore) Get(ctx context.Context, key string) ([]byte, error) {
	logger := zerolog.Ctx(ctx)

	b, err := c.rdb.Get(ctx, c.cacheKey(key)).Bytes()
	switch {
	case err == nil:
		return b, nil
	case errors.Is(err, redis.Nil):
	default:
		logger.Warn().Err(err).Str("key", key).Msg("cache get failed; reading backing store")
	}

	b, err = c.next.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := c.rdb.Set(ctx, c.cacheKey(key), b, c.ttl).Err(); err != nil {
		logger.Warn().Err(err).Str("key", key).Msg("cache fill failed")
	}
	return b, nil
}

// Put writes the backing store, then the cache. A failed cache refresh drops
// the stale entry so later reads go to the backing store.
func (c *CachedStore) Put(ctx context.Context, key string, body []byte) error {
	if err := c.next.Put(ctx, key, body); err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, c.cacheKey(key), body, c.ttl).Err(); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("cache refresh failed")
		c.rdb.Del(ctx, c.cacheKey(key))
	}
	return nil
}
