package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/quranhub/access-gate/internal/model"
)

// RedisCounters backs the limiter with Redis INCRBY, for deployments where
// Postgres write volume from counters would be a problem.
type RedisCounters struct {
	client *redis.Client
}

func NewRedisCounters(client *redis.Client) *RedisCounters {
	return &RedisCounters{client: client}
}

func (r *RedisCounters) IncrCounter(ctx context.Context, credentialID uuid.UUID, window model.RateLimitWindow, windowStart time.Time, cost int64) (int64, error) {
	key := fmt.Sprintf("ratelimit:%s:%s:%d", credentialID, window, windowStart.Unix())

	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.IncrBy(ctx, key, cost)
		// TTL one window past the end so late readers still see the cell.
		p.ExpireNX(ctx, key, 2*window.Duration())
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("increment rate counter: %w", err)
	}
	return incr.Val(), nil
}

func (r *RedisCounters) GetCounter(ctx context.Context, credentialID uuid.UUID, window model.RateLimitWindow, windowStart time.Time) (int64, error) {
	key := fmt.Sprintf("ratelimit:%s:%s:%d", credentialID, window, windowStart.Unix())
	total, err := r.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read rate counter: %w", err)
	}
	return total, nil
}
