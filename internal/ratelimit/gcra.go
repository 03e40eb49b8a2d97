package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// GCRALimiter implements the Generic Cell Rate Algorithm: each key tracks a
// theoretical arrival time (tat); a request is allowed when now is at or
// after tat-burst*period, and on success tat is advanced by period.
// Mirrors original_source/ai-gateway/src/middleware/rate_limit/service.rs.
type GCRALimiter struct {
	// Period is the time a single cell (one request's worth of quota)
	// occupies: capacity requests are allowed per (capacity * Period).
	Period time.Duration
	// Burst is the number of cells of slack allowed above the steady
	// rate (capacity of the limiter).
	Burst int64

	backend gcraBackend
}

// Decision is the outcome of a GCRA check.
type Decision struct {
	Allowed        bool
	Limit          uint64
	Remaining      uint64
	RetryAfter     time.Duration
}

type gcraBackend interface {
	allow(ctx context.Context, key string, period time.Duration, burst int64) (tat time.Time, allowed bool, err error)
}

// NewGCRALimiterRedis builds a GCRA limiter backed by Redis, so limits are
// shared across gateway replicas. Falls back to allow-on-error (fail open)
// when Redis is unreachable, matching the teacher's existing Redis-down
// behavior in exact.go/rpm.go.
func NewGCRALimiterRedis(rdb *redis.Client, period time.Duration, burst int64) *GCRALimiter {
	return &GCRALimiter{Period: period, Burst: burst, backend: &redisGCRA{rdb: rdb}}
}

// NewGCRALimiterMemory builds a GCRA limiter backed by an in-process
// sharded map, for single-instance or Sidecar deployments with no Redis.
func NewGCRALimiterMemory(period time.Duration, burst int64) *GCRALimiter {
	return &GCRALimiter{Period: period, Burst: burst, backend: newMemoryGCRA()}
}

// Allow checks and, if allowed, consumes one cell for key.
func (g *GCRALimiter) Allow(ctx context.Context, key string) (Decision, error) {
	tat, allowed, err := g.backend.allow(ctx, key, g.Period, g.Burst)
	if err != nil {
		return Decision{Allowed: true}, nil // fail open
	}

	limit := uint64(g.Burst + 1)
	now := time.Now()
	var remaining uint64
	var retryAfter time.Duration
	if allowed {
		used := int64(tat.Sub(now) / g.Period)
		if left := g.Burst - used + 1; left > 0 {
			remaining = uint64(left)
		}
	} else {
		retryAfter = tat.Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
	}

	return Decision{Allowed: allowed, Limit: limit, Remaining: remaining, RetryAfter: retryAfter}, nil
}

// --- in-memory backend -----------------------------------------------------

type memoryGCRA struct {
	mu   sync.Mutex
	tats map[string]time.Time
}

func newMemoryGCRA() *memoryGCRA {
	m := &memoryGCRA{tats: make(map[string]time.Time)}
	go m.sweep()
	return m
}

func (m *memoryGCRA) allow(_ context.Context, key string, period time.Duration, burst int64) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	tat, ok := m.tats[key]
	if !ok || tat.Before(now) {
		tat = now
	}

	allowAt := tat.Add(-time.Duration(burst) * period)
	if allowAt.After(now) {
		return tat, false, nil
	}

	newTAT := tat.Add(period)
	m.tats[key] = newTAT
	return newTAT, true, nil
}

// sweep periodically drops keys whose tat has long since expired, bounding
// memory use for a limiter that sees a constant stream of new keys (e.g.
// per-request-id extractors). Paced on a plain ticker; no background
// library dependency is warranted for a single cleanup loop.
func (m *memoryGCRA) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		m.mu.Lock()
		now := time.Now()
		for k, tat := range m.tats {
			if now.Sub(tat) > time.Hour {
				delete(m.tats, k)
			}
		}
		m.mu.Unlock()
	}
}

// --- Redis backend ----------------------------------------------------------

// gcraScript atomically reads the stored tat, computes the new one if the
// request is allowed, and persists it with a TTL covering the burst
// window — so an idle key expires instead of leaking memory in Redis.
var gcraScript = redis.NewScript(`
	local key       = KEYS[1]
	local now       = tonumber(ARGV[1])
	local period    = tonumber(ARGV[2])
	local burst     = tonumber(ARGV[3])

	local tat = tonumber(redis.call('GET', key))
	if not tat or tat < now then
		tat = now
	end

	local allow_at = tat - (burst * period)
	if allow_at > now then
		return {tat, 0}
	end

	local new_tat = tat + period
	redis.call('SET', key, new_tat, 'PX', math.ceil((burst * period) / 1000000) + 1000)
	return {new_tat, 1}
`)

type redisGCRA struct {
	rdb *redis.Client
}

func (r *redisGCRA) allow(ctx context.Context, key string, period time.Duration, burst int64) (time.Time, bool, error) {
	now := time.Now().UnixNano()
	res, err := gcraScript.Run(ctx, r.rdb, []string{"gcra:" + key}, now, period.Nanoseconds(), burst).Int64Slice()
	if err != nil {
		return time.Time{}, false, err
	}
	tat := time.Unix(0, res[0])
	return tat, res[1] == 1, nil
}
