// Package cache provides the report and reference-data caches for ClaimGuard.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LRUCache is a thread-safe, size-bounded cache with per-entry TTL.
// Used as the Community tier cache and as L1 in two-phase caching.
type LRUCache struct {
	maxSize int
	items   *expirable.LRU[string, cacheEntry]

	mu       sync.Mutex
	counters *lru.Cache[string, *counterEntry]
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

type counterEntry struct {
	count     int64
	expiresAt time.Time
}

// NewLRUCache creates an LRU cache holding at most maxSize entries. maxTTL
// caps every entry's lifetime; zero means entries live until their own TTL.
func NewLRUCache(maxSize int, maxTTL time.Duration) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	counters, _ := lru.New[string, *counterEntry](maxSize)
	return &LRUCache{
		maxSize:  maxSize,
		items:    expirable.NewLRU[string, cacheEntry](maxSize, nil, maxTTL),
		counters: counters,
	}
}

// Get retrieves a value from cache.
func (c *LRUCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	fullKey := c.makeKey(tenantID, key)
	entry, ok := c.items.Get(fullKey)
	if !ok {
		return nil, nil
	}
	if time.Now().After(entry.expiresAt) {
		c.items.Remove(fullKey)
		return nil, nil
	}
	return entry.value, nil
}

// Set stores a value in cache with TTL.
func (c *LRUCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	c.items.Add(c.makeKey(tenantID, key), cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	})
	return nil
}

// Delete removes a value from cache.
func (c *LRUCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	c.items.Remove(c.makeKey(tenantID, key))
	return nil
}

// IncrementCounter atomically increments a windowed counter.
func (c *LRUCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("tenantID is required")
	}

	fullKey := c.makeKey(tenantID, "counter:"+key)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	entry, ok := c.counters.Get(fullKey)
	if !ok || now.After(entry.expiresAt) {
		// Start new counter window
		c.counters.Add(fullKey, &counterEntry{count: 1, expiresAt: now.Add(window)})
		return 1, nil
	}

	entry.count++
	return entry.count, nil
}

// Ping checks cache health.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops every entry.
func (c *LRUCache) Close() error {
	c.items.Purge()
	c.mu.Lock()
	c.counters.Purge()
	c.mu.Unlock()
	return nil
}

// Stats returns cache statistics.
func (c *LRUCache) Stats() (size int, capacity int) {
	return c.items.Len(), c.maxSize
}

func (c *LRUCache) makeKey(tenantID, key string) string {
	return tenantID + ":" + key
}
