// Package cache is a small read-through JSON cache on Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Cache stores JSON values under a fixed TTL. A nil client or a zero TTL
// turns every read into a miss and every write into a no-op.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group

	// OnError observes cache read and write failures, which never fail the caller.
	OnError func(key string, err error)
}

// New constructs a cache.
func New(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Enabled reports whether values are actually stored.
func (c *Cache) Enabled() bool {
	return c != nil && c.client != nil && c.ttl > 0
}

// GetJSON decodes the value under key into dst and reports whether it existed.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	if !c.Enabled() || key == "" {
		return false, nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return false, nil
	case err != nil:
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores v under key for the cache TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v any) error {
	if !c.Enabled() || key == "" {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// Fetch returns the cached value under key when usable reports true for it,
// and otherwise calls load and caches its result. Concurrent misses for one
// key share a single load. Load errors are returned as is and never cached.
func Fetch[T any](ctx context.Context, c *Cache, key string, usable func(T) bool, load func(context.Context) (T, error)) (T, error) {
	var cached T
	ok, err := c.GetJSON(ctx, key, &cached)
	if err != nil {
		c.report(key, err)
	} else if ok && (usable == nil || usable(cached)) {
		return cached, nil
	}

	if !c.Enabled() {
		return load(ctx)
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		loaded, err := load(ctx)
		if err != nil {
			return loaded, err
		}
		if err := c.SetJSON(ctx, key, loaded); err != nil {
			c.report(key, err)
		}
		return loaded, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func (c *Cache) report(key string, err error) {
	if c != nil && c.OnError != nil {
		c.OnError(key, err)
	}
}
