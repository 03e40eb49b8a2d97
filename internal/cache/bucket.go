package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Policy is the outcome of a cache lookup (spec.md §4.7).
type Policy int

const (
	// Miss — no entry exists for this fingerprint; the request must be
	// dispatched and, if storable, the result cached.
	Miss Policy = iota
	// Fresh — a cached entry exists and is within its TTL; serve it
	// directly with no upstream call.
	Fresh
	// Stale — a cached entry exists but has exceeded its TTL; serve it
	// immediately while a background revalidation refreshes it (or, if
	// the caller does not support background refresh, dispatch inline
	// and replace the entry).
	Stale
)

// Entry is a stored (response, storage-time) pair for one bucket slot.
type Entry struct {
	Response  []byte
	StoredAt  time.Time
	TTL       time.Duration
}

func (e Entry) expiresAt() time.Time { return e.StoredAt.Add(e.TTL) }

// ExclusionMatcher decides whether a model name is excluded from caching,
// combining the teacher's exact+regexp ExclusionList with glob support
// (doublestar) for the simple wildcard lists original_source's config
// allows for no-cache model lists.
type ExclusionMatcher struct {
	exact *ExclusionList
	globs []string
}

func NewExclusionMatcher(exact *ExclusionList, globs []string) *ExclusionMatcher {
	return &ExclusionMatcher{exact: exact, globs: globs}
}

func (m *ExclusionMatcher) Excluded(model string) bool {
	if m.exact != nil && m.exact.Matches(model) {
		return true
	}
	for _, g := range m.globs {
		if ok, _ := doublestar.Match(g, model); ok {
			return true
		}
	}
	return false
}

// Fingerprint computes the SHA-256 hex digest over (seed, path+query,
// body, bucket index) per spec.md §4.7, used as the cache key for one
// bucket slot of a request.
func Fingerprint(seed, pathAndQuery string, body []byte, bucketIdx int) string {
	h := sha256.New()
	h.Write([]byte(seed))
	h.Write([]byte{0})
	h.Write([]byte(pathAndQuery))
	h.Write([]byte{0})
	h.Write(body)
	h.Write([]byte{0})
	fmt.Fprintf(h, "%d", bucketIdx)
	return hex.EncodeToString(h.Sum(nil))
}

// BucketedCache wraps a Cache backend with the N-way bucketing and
// Fresh/Stale/Miss lookup protocol from spec.md §4.7.
type BucketedCache struct {
	backend Cache
	buckets int
	ttl     time.Duration
}

// NewBucketedCache wraps backend with buckets-way sharding (1-64) and a
// default TTL for newly stored entries.
func NewBucketedCache(backend Cache, buckets int, ttl time.Duration) *BucketedCache {
	if buckets < 1 {
		buckets = 1
	}
	if buckets > 64 {
		buckets = 64
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &BucketedCache{backend: backend, buckets: buckets, ttl: ttl}
}

// Lookup runs the five-step lookup protocol: for each of the N buckets (in
// order), compute the fingerprint and check the backend; the first Fresh
// hit wins, the first Stale hit is remembered as a fallback, and if none
// are Fresh or Stale the request is a Miss and should be stored in bucket
// 0 after dispatch (round-robin / first-empty assignment is left to the
// caller via Store's bucketIdx).
func (b *BucketedCache) Lookup(ctx context.Context, seed, pathAndQuery string, body []byte) (Policy, []byte, int) {
	var staleIdx = -1
	var staleBody []byte

	for i := 0; i < b.buckets; i++ {
		key := Fingerprint(seed, pathAndQuery, body, i)
		raw, ok := b.backend.Get(ctx, key)
		if !ok {
			continue
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}
		if time.Now().Before(e.expiresAt()) {
			return Fresh, e.Response, i
		}
		if staleIdx == -1 {
			staleIdx = i
			staleBody = e.Response
		}
	}

	if staleIdx != -1 {
		return Stale, staleBody, staleIdx
	}
	return Miss, nil, -1
}

// Store writes response into the given bucket index's fingerprint slot.
func (b *BucketedCache) Store(ctx context.Context, seed, pathAndQuery string, body, response []byte, bucketIdx int) error {
	if bucketIdx < 0 {
		bucketIdx = 0
	}
	key := Fingerprint(seed, pathAndQuery, body, bucketIdx)
	e := Entry{Response: response, StoredAt: time.Now(), TTL: b.ttl}
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.backend.Set(ctx, key, raw, b.ttl)
}

// Storable reports whether a response should be cached at all, honoring
// Cache-Control directives from both the client request and the upstream
// response: "no-store" on either side, or a non-2xx status, disqualifies
// the entry from being cached.
func Storable(requestNoStore, responseNoStore bool, statusCode int) bool {
	if requestNoStore || responseNoStore {
		return false
	}
	return statusCode >= 200 && statusCode < 300
}
