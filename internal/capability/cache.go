package capability

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const discoverKeyPrefix = "tagweave:discover:"

// DiscoverCache wraps a Source with a redis-backed cache of discovery
// results. The cache is best effort: redis failures fall through to the
// wrapped source, and Invoke always passes through.
type DiscoverCache struct {
	next   Source
	rdb    *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

func NewDiscoverCache(next Source, rdb *redis.Client, ttl time.Duration) *DiscoverCache {
	return &DiscoverCache{
		next:   next,
		rdb:    rdb,
		ttl:    ttl,
		logger: log.New(log.Writer(), "[CAPABILITY] ", log.LstdFlags),
	}
}

// Discover implements Source.
func (c *DiscoverCache) Discover(ctx context.Context, address string) ([]Capability, error) {
	key := discoverKeyPrefix + address
	if c.rdb != nil {
		if b, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
			var caps []Capability
			if json.Unmarshal(b, &caps) == nil {
				return caps, nil
			}
		}
	}
	caps, err := c.next.Discover(ctx, address)
	if err != nil {
		return nil, err
	}
	if c.rdb != nil {
		if b, err := json.Marshal(caps); err == nil {
			if err := c.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
				c.logger.Printf("discovery cache write for %s failed: %v", address, err)
			}
		}
	}
	return caps, nil
}

// Invoke implements Source.
func (c *DiscoverCache) Invoke(ctx context.Context, address, name string, params map[string]any) (any, error) {
	return c.next.Invoke(ctx, address, name, params)
}
