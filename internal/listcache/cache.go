// Package listcache is a short-lived read-through cache for story listings.
package listcache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"taletinker/internal/util"
)

const (
	defaultPrefix = "taletinker:list"
	defaultTTL    = 30 * time.Second
	redisTimeout  = 2 * time.Second
	loadTimeout   = 15 * time.Second
)

// Cache stores encoded listings in Redis until their TTL runs out. Nothing
// invalidates an entry early. Concurrent misses on one key share a single
// load.
type Cache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	group  singleflight.Group
}

// New builds a cache on an existing Redis client.
func New(client redis.UniversalClient, prefix string, ttl time.Duration) (*Cache, error) {
	if client == nil {
		return nil, errors.New("list cache redis client is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{client: client, prefix: prefix, ttl: ttl}, nil
}

// Fetch returns the cached value for key or runs load and caches its result.
// Redis failures degrade to calling load directly. Load errors are not cached.
// The shared load is detached from any single caller, so a caller that goes
// away only stops its own wait.
func (c *Cache) Fetch(ctx context.Context, key string, load func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	redisKey := c.prefix + ":" + key
	logger := util.LoggerFromContext(ctx)

	getCtx, cancel := context.WithTimeout(ctx, redisTimeout)
	cached, err := c.client.Get(getCtx, redisKey).Bytes()
	cancel()
	switch {
	case err == nil:
		return cached, nil
	case !errors.Is(err, redis.Nil):
		logger.Warn("list cache read failed", "key", redisKey, "err", err)
	}

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(redisKey, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(detached, loadTimeout)
		defer cancel()
		data, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		setCtx, cancel := context.WithTimeout(detached, redisTimeout)
		defer cancel()
		if err := c.client.Set(setCtx, redisKey, data, c.ttl).Err(); err != nil {
			logger.Warn("list cache write failed", "key", redisKey, "err", err)
		}
		return data, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}
