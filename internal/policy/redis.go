package policy

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRecentSends keeps recent-send records in Redis with the cooldown
// window as the key TTL, so expiry needs no sweeper.
type RedisRecentSends struct {
	rdb *redis.Client
}

func NewRedisRecentSends(rdb *redis.Client) *RedisRecentSends {
	return &RedisRecentSends{rdb: rdb}
}

func (r *RedisRecentSends) MarkSent(ctx context.Context, key string, ttl time.Duration) error {
	return r.rdb.Set(ctx, key, "1", ttl).Err()
}

func (r *RedisRecentSends) WasSent(ctx context.Context, key string) (bool, error) {
	n, err := r.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
