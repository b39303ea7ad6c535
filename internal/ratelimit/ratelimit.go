// Package ratelimit records per-customer call rates.
package ratelimit

import (
	"context"
	"fmt"

	"inference-gateway/internal/shared"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Limiter is consulted once per authenticated call.
type Limiter interface {
	Allow(ctx context.Context, customerID string) bool
}

// RedisLimiter counts calls per customer in a rolling one-minute window.
// Enforcement lives in the administration tool's policy layer, not here, so
// Allow always reports true; the counter exists so limits can be turned on
// without a data backfill.
type RedisLimiter struct {
	redis *redis.Client
	log   *zap.SugaredLogger
}

func NewRedisLimiter(redisClient *redis.Client, log *zap.SugaredLogger) *RedisLimiter {
	return &RedisLimiter{redis: redisClient, log: log}
}

func (l *RedisLimiter) Allow(ctx context.Context, customerID string) bool {
	key := fmt.Sprintf("v1:rate:%s", customerID)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		l.log.Warnw("Failed to record rate counter", "error", err, "customer_id", customerID)
		return true
	}
	if count == 1 {
		l.redis.Expire(ctx, key, shared.RateLimitWindow)
	}
	return true
}
