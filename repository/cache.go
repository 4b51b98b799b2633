package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the advisory TTL view cache. It is never authoritative: every
// value stored here must be fully recomputable from the document store, and
// callers must behave identically when handed the disabled implementation.
type Cache interface {
	// Get returns (nil, nil) on a miss.
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}

// Derived-view key helpers. Every aggregate mutation invalidates all keys
// derived from that aggregate before results are broadcast.
func RoomViewKey(roomID uint) string {
	return fmt.Sprintf("view:room:%d", roomID)
}

func GameViewKey(gameID uint) string {
	return fmt.Sprintf("view:game:%d", gameID)
}

type redisCache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) Cache {
	return &redisCache{client: client}
}

func (c *redisCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (c *redisCache) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *redisCache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// disabledCache misses on every read; correctness must hold with it.
type disabledCache struct{}

func NewDisabledCache() Cache {
	return disabledCache{}
}

func (disabledCache) Get(ctx context.Context, key string) ([]byte, error) { return nil, nil }

func (disabledCache) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}

func (disabledCache) Invalidate(ctx context.Context, keys ...string) error { return nil }
