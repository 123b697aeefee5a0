package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis backs the Store with a shared redis instance. Prefix invalidation
// walks the keyspace with SCAN so it never blocks redis the way KEYS would.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
	log *slog.Logger
}

func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{
		rdb: rdb,
		ttl: ttl,
		log: slog.Default().With("component", "cache"),
	}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	payload, err := r.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.log.Warn("cache get failed", "key", key, "err", err)
		}
		return nil, false
	}
	return payload, true
}

func (r *Redis) Set(ctx context.Context, key string, payload []byte) {
	if err := r.rdb.Set(ctx, key, payload, r.ttl).Err(); err != nil {
		r.log.Warn("cache set failed", "key", key, "err", err)
	}
}

func (r *Redis) InvalidateByPrefix(ctx context.Context, prefix string) error {
	iter := r.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return r.rdb.Del(ctx, keys...).Err()
}
