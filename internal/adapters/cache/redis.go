package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	rateKeyPrefix    = "cashback:rate:"
	admissionFlagKey = "cashback:admission:paused"
)

// RedisRateLimiter is a sliding-window limiter backed by one sorted set per key.
// Hits are added before counting, so two racing callers at the boundary may
// both be refused but the limit is never exceeded.
type RedisRateLimiter struct {
	client *redis.Client
}

func NewRedisRateLimiter(client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{client: client}
}

func (l *RedisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (bool, error) {
	redisKey := rateKeyPrefix + key
	member := strconv.FormatInt(now.UnixNano(), 10) + ":" + uuid.NewString()
	cutoff := strconv.FormatInt(now.Add(-window).UnixMilli(), 10)

	var card *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRemRangeByScore(ctx, redisKey, "-inf", cutoff)
		p.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixMilli()), Member: member})
		card = p.ZCard(ctx, redisKey)
		p.Expire(ctx, redisKey, window+time.Minute)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if card.Val() <= int64(limit) {
		return true, nil
	}
	if err := l.client.ZRem(ctx, redisKey, member).Err(); err != nil {
		return false, fmt.Errorf("rate limit rollback %s: %w", key, err)
	}
	return false, nil
}

// RedisAdmissionControl shares the admission pause flag across API replicas.
type RedisAdmissionControl struct {
	client *redis.Client
}

func NewRedisAdmissionControl(client *redis.Client) *RedisAdmissionControl {
	return &RedisAdmissionControl{client: client}
}

func (c *RedisAdmissionControl) Paused(ctx context.Context) (bool, error) {
	raw, err := c.client.Get(ctx, admissionFlagKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return raw == "1", nil
}

func (c *RedisAdmissionControl) SetPaused(ctx context.Context, paused bool) error {
	if !paused {
		return c.client.Del(ctx, admissionFlagKey).Err()
	}
	return c.client.Set(ctx, admissionFlagKey, "1", 0).Err()
}
