// Package cache provides caching implementations for the LLM gateway.
//
// Two backends are available:
//   - ExactCache  — Redis-backed, recommended for production clusters.
//   - MemoryCache — in-process LRU cache, zero external dependencies.
//     Ideal for single-instance deployments or local development.
//
// Both implement the Cache interface so they are fully interchangeable.
package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryCacheMaxEntries bounds a MemoryCache's resident set regardless of
// how many distinct keys a busy gateway sees; the LRU evicts the
// least-recently-used entry once full instead of growing unbounded.
const MemoryCacheMaxEntries = 10_000

// MemoryCache is a bounded in-process cache backed by an expirable LRU. The
// TTL is fixed at construction (the expirable LRU sweeps on a single clock
// rather than per entry); Set's ttl argument is ignored and is accepted only
// to keep the Cache interface uniform across backends. It is safe for
// concurrent use.
//
// Use this backend when Redis is not available — for local development,
// single-instance deployments, or integration tests. For distributed
// (multi-replica) deployments use ExactCache (Redis) instead so that
// all replicas share the same cache.
type MemoryCache struct {
	lru *expirable.LRU[string, []byte]
}

// NewMemoryCache creates a MemoryCache bounded to MemoryCacheMaxEntries
// entries, expiring entries after ttl (a zero or negative ttl defaults to
// one hour). ctx is accepted for API compatibility with callers that used
// to need it to drive a background sweep; the expirable LRU evicts lazily
// on access and on insert, so no goroutine is needed here.
func NewMemoryCache(_ context.Context, ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemoryCache{
		lru: expirable.NewLRU[string, []byte](MemoryCacheMaxEntries, nil, ttl),
	}
}

// Get returns the cached value for key. Returns (nil, false) on a miss or if
// the entry has expired.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	return c.lru.Get(key)
}

// Set stores value under key. The cache's fixed TTL (set at construction)
// governs expiry; ttl is accepted to satisfy the Cache interface.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.lru.Add(key, value)
	return nil
}

// Delete removes key from the cache. Returns nil if the key did not exist.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.lru.Remove(key)
	return nil
}

// Len returns the number of entries currently held in the cache.
func (c *MemoryCache) Len() int {
	return c.lru.Len()
}

// Close is a no-op; kept for API compatibility with the previous
// goroutine-backed implementation.
func (c *MemoryCache) Close() {}
