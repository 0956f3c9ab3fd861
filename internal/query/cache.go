package query

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const generationKey = "owstats:cache:generation"

// Cache stores encoded query results. Misses return ok=false and no error.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Generation is folded into every key; Bump invalidates all entries at once.
	Generation(ctx context.Context) (int64, error)
	Bump(ctx context.Context) (int64, error)
}

// RedisClient is the subset of *redis.Client the cache uses.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
}

// RedisCache is a Cache backed by Redis.
type RedisCache struct {
	client RedisClient
}

func NewRedisCache(client RedisClient) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Generation(ctx context.Context) (int64, error) {
	n, err := c.client.Get(ctx, generationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (c *RedisCache) Bump(ctx context.Context) (int64, error) {
	return c.client.Incr(ctx, generationKey).Result()
}

// cacheKey builds "owstats:q:<gen>:<fn>:<p1>|<p2>...".
func cacheKey(gen int64, fn string, params ...string) string {
	var sb strings.Builder
	sb.WriteString("owstats:q:")
	sb.WriteString(strconv.FormatInt(gen, 10))
	sb.WriteByte(':')
	sb.WriteString(fn)
	sb.WriteByte(':')
	for i, p := range params {
		if i > 0 {
			sb.WriteByte('|')
		}
		sb.WriteString(p)
	}
	return sb.String()
}
