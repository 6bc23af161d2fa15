package throttle

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

var errMissingRedisClient = errors.New("redis client is required")

// RedisLimiter shares request counters between API instances through redis.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	period time.Duration
	prefix string
}

func NewRedisLimiter(client *redis.Client, limit int, period time.Duration, prefix string) (*RedisLimiter, error) {
	if client == nil {
		return nil, errMissingRedisClient
	}
	return &RedisLimiter{client: client, limit: limit, period: period, prefix: prefix}, nil
}

// Allow increments the key and starts its expiry on the first hit of a window.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := l.prefix + "throttle:" + key
	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	count := incr.Val()
	if count == 1 || ttl.Val() < 0 {
		if err := l.client.PExpire(ctx, redisKey, l.period).Err(); err != nil {
			return false, err
		}
	}
	return count <= int64(l.limit), nil
}
