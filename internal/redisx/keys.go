package redisx

import "time"

const (
	// Insert idempotency: idem:{table}:{idempotency key} -> row id
	KeyIdemInsert = "idem:%s:%s"

	// Dedup event processing: dedup:{service}:{event id}
	KeyDedup = "dedup:%s:%s"

	// Last change relevant to a worker: sync:hint:{user id} -> RFC3339Nano
	KeySyncHint = "sync:hint:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLDedup       = 48 * time.Hour
	TTLSyncHint    = 7 * 24 * time.Hour
)
