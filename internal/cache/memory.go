package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache is an in-process Cache backed by go-cache.
// Use this for single-instance deployments and tests.
type MemoryCache struct {
	store *gocache.Cache
}

// NewMemoryCache creates a memory cache whose janitor sweeps expired entries
// every cleanupInterval.
func NewMemoryCache(defaultTTL, cleanupInterval time.Duration) *MemoryCache {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	return &MemoryCache{store: gocache.New(defaultTTL, cleanupInterval)}
}

// Get retrieves a value by key.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	v, found := c.store.Get(key)
	if !found {
		return nil, ErrCacheMiss
	}
	value, ok := v.([]byte)
	if !ok {
		return nil, ErrCacheMiss
	}

	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

// Set stores a value with the given TTL. A zero TTL uses the cache default.
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	c.store.Set(key, valueCopy, ttl)
	return nil
}

// Delete removes a value by key.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.store.Delete(key)
	return nil
}

// Clear removes all entries from the cache.
func (c *MemoryCache) Clear(ctx context.Context) error {
	c.store.Flush()
	return nil
}

// ItemCount returns the number of entries, expired ones included until swept.
func (c *MemoryCache) ItemCount() int {
	return c.store.ItemCount()
}

// Close is a no-op; the go-cache janitor stops when the cache is collected.
func (c *MemoryCache) Close() error {
	return nil
}

var _ Cache = (*MemoryCache)(nil)
