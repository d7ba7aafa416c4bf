package calls

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"amd-platform/pkg/utils"
)

// RedisLimiter caps in-flight calls per strategy with a shared Redis counter.
// The counter TTL bounds the damage of a crashed process that never released.
type RedisLimiter struct {
	rdb    *redis.Client
	prefix string
	limit  int
	ttl    time.Duration
}

func NewRedisLimiter(rdb *redis.Client, limit int, ttl time.Duration) *RedisLimiter {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLimiter{rdb: rdb, prefix: "amd:inflight:", limit: limit, ttl: ttl}
}

var _ Limiter = (*RedisLimiter)(nil)

func (l *RedisLimiter) key(s Strategy) string { return l.prefix + string(s) }

func (l *RedisLimiter) Acquire(ctx context.Context, s Strategy) (bool, error) {
	ok, err := utils.AcquireSlot(ctx, l.rdb, l.key(s), l.limit, l.ttl)
	if err != nil {
		return false, fmt.Errorf("calls: acquire slot: %w", err)
	}
	return ok, nil
}

func (l *RedisLimiter) Release(ctx context.Context, s Strategy) error {
	if err := utils.ReleaseSlot(ctx, l.rdb, l.key(s)); err != nil {
		return fmt.Errorf("calls: release slot: %w", err)
	}
	return nil
}

// NoopLimiter never rejects.
type NoopLimiter struct{}

func (NoopLimiter) Acquire(context.Context, Strategy) (bool, error) { return true, nil }
func (NoopLimiter) Release(context.Context, Strategy) error         { return nil }
