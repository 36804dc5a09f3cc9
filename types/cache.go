package types

import (
	"context"
	"time"
)

type CacheStore interface {
	Get(key string) (interface{}, bool)
	Peek(key string) (ContentEntry, bool)
	Set(key string, value interface{})
	Restore(entry ContentEntry)
	Clear(keys ...string)
	Stats() CacheStats
}

type CacheStats struct {
	Size                int      `json:"size"`
	Keys                []string `json:"keys"`
	ApproximateByteSize int      `json:"approximate_byte_size"`
}

// Clock abstracts wall time and sleeping so expiry and backoff can be driven by tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}
