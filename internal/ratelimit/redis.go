package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter is the minimal contract the HTTP layer needs for gating
// manual refreshes. Both the in-memory Limiter and RedisLimiter satisfy it.
type RateLimiter interface {
	Allow(key string) bool
}

// RedisLimiter rate-limits across processes by claiming a key with SETNX.
// Used instead of the in-memory limiter when the redis cache backend is
// configured, so replicas share one refresh budget.
type RedisLimiter struct {
	client      *redis.Client
	prefix      string
	minInterval time.Duration
}

func NewRedis(client *redis.Client, prefix string, minInterval time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client:      client,
		prefix:      prefix,
		minInterval: minInterval,
	}
}

// Allow claims the key for the limiter's interval. On redis errors it fails
// open: a broken limiter should not take refresh down with it.
func (l *RedisLimiter) Allow(key string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ok, err := l.client.SetNX(ctx, l.prefix+key, "1", l.minInterval).Result()
	if err != nil {
		return true
	}
	return ok
}

var _ RateLimiter = (*Limiter)(nil)
var _ RateLimiter = (*RedisLimiter)(nil)
