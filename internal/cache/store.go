package cache

import (
	"context"
	"time"
)

// Store is the key-value boundary used by the gateway. Implementations must
// be safe for concurrent use. A miss is reported as hit == false with a nil
// error; errors mean the store itself is unavailable.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, hit bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error
	Delete(ctx context.Context, key string) error
	// InvalidateTag deletes every key written with tag and returns how many were removed
	InvalidateTag(ctx context.Context, tag string) (int64, error)
	Health(ctx context.Context) error
}

// DefaultTagTTL bounds how long a tag index outlives its members
const DefaultTagTTL = 24 * time.Hour

func tagKey(tag string) string {
	return "tag:" + tag
}
