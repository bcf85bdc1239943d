package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces profile keys in Redis.
const DefaultKeyPrefix = "spotstr:profile:"

// RedisCache stores profiles as JSON values with a Redis TTL, so expiry is
// enforced by the server and ClearExpired has nothing to do.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a cache on client. A zero ttl uses DefaultTTL.
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) key(pubkey string) string { return c.prefix + pubkey }

func (c *RedisCache) Get(ctx context.Context, pubkey string) (*Profile, bool, error) {
	raw, err := c.client.Get(ctx, c.key(pubkey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get profile: %w", err)
	}
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		// A corrupt entry is treated as a miss and removed.
		c.client.Del(ctx, c.key(pubkey))
		return nil, false, nil
	}
	return &p, true, nil
}

func (c *RedisCache) Set(ctx context.Context, p *Profile) error {
	cp := *p
	cp.CachedAt = time.Now()
	raw, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.key(p.Pubkey), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set profile: %w", err)
	}
	return nil
}

// ClearExpired always reports zero; Redis evicts expired keys itself.
func (c *RedisCache) ClearExpired(context.Context) (int, error) { return 0, nil }

func (c *RedisCache) ClearAll(ctx context.Context) error {
	keys, err := c.keys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis clear profiles: %w", err)
	}
	return nil
}

func (c *RedisCache) Size(ctx context.Context) (int, error) {
	keys, err := c.keys(ctx)
	return len(keys), err
}

func (c *RedisCache) keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan profiles: %w", err)
	}
	return keys, nil
}
