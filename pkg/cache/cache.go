// Package cache is the in-process L1 cache, backed by ristretto.
package cache

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache stores encoded values with a TTL. Cost is the value size in bytes.
type Cache struct {
	c *ristretto.Cache[string, []byte]
}

// New creates a cache holding at most maxCostBytes of values.
func New(maxCostBytes int64) (*Cache, error) {
	if maxCostBytes <= 0 {
		maxCostBytes = 8 << 20
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxCostBytes / 100 * 10, // ~10x expected items
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c}, nil
}

// Set stores a value in the cache with a given TTL. The write is visible to
// Get once Set returns.
func (c *Cache) Set(key string, value []byte, ttl time.Duration) bool {
	ok := c.c.SetWithTTL(key, value, int64(len(value)), ttl)
	c.c.Wait()
	return ok
}

// Get retrieves a value from the cache if it hasn't expired
func (c *Cache) Get(key string) ([]byte, bool) {
	return c.c.Get(key)
}

// Delete removes a key from the cache
func (c *Cache) Delete(key string) {
	c.c.Del(key)
}

// Clear removes all items from the cache
func (c *Cache) Clear() {
	c.c.Clear()
}

// Close shuts down the cache and releases resources.
func (c *Cache) Close() {
	c.c.Close()
}
