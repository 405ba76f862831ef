package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Claim sets key only if it is absent. It reports true for the first caller.
func Claim(ctx context.Context, rdb *redis.Client, key string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, key, "1", ttl).Result()
}

// Idempotency maps client supplied keys to the row created for them.
type Idempotency struct{ RDB *redis.Client }

func (i Idempotency) Lookup(ctx context.Context, table, key string) (string, bool, error) {
	id, err := i.RDB.Get(ctx, fmt.Sprintf(KeyIdemInsert, table, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (i Idempotency) Remember(ctx context.Context, table, key, rowID string) error {
	return i.RDB.Set(ctx, fmt.Sprintf(KeyIdemInsert, table, key), rowID, TTLIdempotency).Err()
}

// keeps the newest timestamp; RFC3339Nano in UTC sorts lexically
var markNewer = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if (not cur) or cur < ARGV[1] then
  redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[2])
  return 1
end
return 0
`)

// SyncHints records when a worker's view of the tables last changed.
type SyncHints struct{ RDB *redis.Client }

func (h SyncHints) Mark(ctx context.Context, userID string, at time.Time) error {
	key := fmt.Sprintf(KeySyncHint, userID)
	stamp := at.UTC().Format(stampLayout)
	return markNewer.Run(ctx, h.RDB, []string{key}, stamp, int(TTLSyncHint.Seconds())).Err()
}

func (h SyncHints) LastChanged(ctx context.Context, userID string) (time.Time, bool, error) {
	s, err := h.RDB.Get(ctx, fmt.Sprintf(KeySyncHint, userID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(stampLayout, s)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse sync hint: %w", err)
	}
	return t, true, nil
}

// fixed width so string comparison in the script matches time order
const stampLayout = "2006-01-02T15:04:05.000000000Z"
