package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/authkit"
)

// RedisClaimsCache holds the denormalized claims projection in Redis, one
// JSON value per principal (key: claims:{principalID}). SET is atomic, so a
// reader sees either the previous claims or the new ones.
type RedisClaimsCache struct {
	client *redis.Client
	keyFmt string // format string, e.g. "claims:%s"
}

func NewRedisClaimsCache(client *redis.Client) *RedisClaimsCache {
	return &RedisClaimsCache{client: client, keyFmt: "claims:%s"}
}

func (c *RedisClaimsCache) key(principalID string) string {
	return fmt.Sprintf(c.keyFmt, principalID)
}

func (c *RedisClaimsCache) Replace(ctx context.Context, principalID string, claims authkit.Claims) error {
	data, err := json.Marshal(claims)
	if err != nil {
		return fmt.Errorf("encode claims: %w", err)
	}
	return c.client.Set(ctx, c.key(principalID), data, 0).Err()
}

func (c *RedisClaimsCache) Get(ctx context.Context, principalID string) (authkit.Claims, bool, error) {
	data, err := c.client.Get(ctx, c.key(principalID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var claims authkit.Claims
	if err := json.Unmarshal(data, &claims); err != nil {
		return nil, false, fmt.Errorf("decode claims: %w", err)
	}
	return claims, true, nil
}

func (c *RedisClaimsCache) Invalidate(ctx context.Context, principalID string) error {
	return c.client.Del(ctx, c.key(principalID)).Err()
}
