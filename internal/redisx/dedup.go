package redisx

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Dedup claims event keys for TTLDedup.
type Dedup struct{ RDB *redis.Client }

func (d Dedup) Claim(ctx context.Context, key string) (bool, error) {
	return Claim(ctx, d.RDB, key, TTLDedup)
}

func (d Dedup) Release(ctx context.Context, key string) error {
	return d.RDB.Del(ctx, key).Err()
}
