package retrieval

import (
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
)

const (
	defaultCacheCapacity = 1024
	defaultCacheTTL      = 5 * time.Minute
)

// CacheConfig configures the bounded result cache. Capacity is a count of
// cached result sets; entries past TTL expire on their own and the admission
// policy evicts under pressure.
type CacheConfig struct {
	Capacity int64
	TTL      time.Duration
}

// DefaultCacheConfig returns the standard cache bounds.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Capacity: defaultCacheCapacity,
		TTL:      defaultCacheTTL,
	}
}

// ResultCache is a TTL-and-capacity bounded cache of fused retrieval results,
// shared across concurrent requests. ristretto handles its own
// synchronization; lookups never block on writers.
type ResultCache struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewResultCache creates a result cache with the given bounds.
func NewResultCache(config CacheConfig) (*ResultCache, error) {
	if config.Capacity <= 0 {
		config.Capacity = defaultCacheCapacity
	}
	if config.TTL <= 0 {
		config.TTL = defaultCacheTTL
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: config.Capacity * 10,
		MaxCost:     config.Capacity,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create result cache: %w", err)
	}

	return &ResultCache{cache: cache, ttl: config.TTL}, nil
}

// Get returns the cached fused results for a key.
func (c *ResultCache) Get(key string) ([]FusedChunk, bool) {
	value, found := c.cache.Get(key)
	if !found {
		return nil, false
	}
	chunks, ok := value.([]FusedChunk)
	return chunks, ok
}

// Set stores fused results under a key with the configured TTL.
func (c *ResultCache) Set(key string, chunks []FusedChunk) {
	c.cache.SetWithTTL(key, chunks, 1, c.ttl)
}

// Wait flushes pending writes; tests call it before asserting on lookups.
func (c *ResultCache) Wait() {
	c.cache.Wait()
}

// Close releases the cache's internal resources.
func (c *ResultCache) Close() {
	c.cache.Close()
}

// CacheKey derives a stable key from the normalized query, filters, and k.
func CacheKey(normalized string, opts *SearchOptions, k int) string {
	var b strings.Builder
	b.WriteString(normalized)
	b.WriteString("|k=")
	fmt.Fprintf(&b, "%d", k)
	if opts != nil {
		if opts.Season != nil {
			fmt.Fprintf(&b, "|s=%d", *opts.Season)
		}
		if opts.Episode != nil {
			fmt.Fprintf(&b, "|e=%d", *opts.Episode)
		}
		if len(opts.Characters) > 0 {
			b.WriteString("|c=")
			b.WriteString(strings.Join(opts.Characters, ","))
		}
	}
	return b.String()
}
