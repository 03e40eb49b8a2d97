package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/nulpointcorp/llm-gateway/internal/ratelimit"
	"github.com/redis/go-redis/v9"
)

func TestGCRAMemory_AllowsBurstThenBlocks(t *testing.T) {
	limiter := ratelimit.NewGCRALimiterMemory(100*time.Millisecond, 2)
	ctx := context.Background()

	// Burst of 2 means 3 cells (capacity = burst+1) available immediately.
	for i := 0; i < 3; i++ {
		d, err := limiter.Allow(ctx, "k")
		if err != nil {
			t.Fatalf("unexpected error at iteration %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("expected Allowed=true at iteration %d, got %+v", i, d)
		}
	}

	d, err := limiter.Allow(ctx, "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected the 4th request to be blocked")
	}
	if d.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want a positive duration when blocked", d.RetryAfter)
	}
}

func TestGCRAMemory_RefillsOverTime(t *testing.T) {
	limiter := ratelimit.NewGCRALimiterMemory(20*time.Millisecond, 0)
	ctx := context.Background()

	d, err := limiter.Allow(ctx, "k")
	if err != nil || !d.Allowed {
		t.Fatalf("expected first request allowed, got %+v, err=%v", d, err)
	}

	d, err = limiter.Allow(ctx, "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected the immediate second request (burst=0) to be blocked")
	}

	time.Sleep(30 * time.Millisecond)
	d, err = limiter.Allow(ctx, "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed {
		t.Error("expected the request to be allowed again after the period elapsed")
	}
}

func TestGCRAMemory_KeysAreIndependent(t *testing.T) {
	limiter := ratelimit.NewGCRALimiterMemory(time.Minute, 0)
	ctx := context.Background()

	d1, _ := limiter.Allow(ctx, "a")
	d2, _ := limiter.Allow(ctx, "b")
	if !d1.Allowed || !d2.Allowed {
		t.Fatalf("expected independent keys to each get their own quota: a=%+v b=%+v", d1, d2)
	}
}

func TestGCRARedis_MatchesMemoryBehaviorUnderBurst(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	limiter := ratelimit.NewGCRALimiterRedis(rdb, 100*time.Millisecond, 1)
	ctx := context.Background()

	var decisions []ratelimit.Decision
	for i := 0; i < 3; i++ {
		d, err := limiter.Allow(ctx, "k")
		if err != nil {
			t.Fatalf("unexpected error at iteration %d: %v", i, err)
		}
		decisions = append(decisions, d)
	}

	want := []bool{true, true, false}
	for i, d := range decisions {
		if d.Allowed != want[i] {
			t.Errorf("iteration %d: Allowed = %v, want %v (%+v)", i, d.Allowed, want[i], d)
		}
	}
}

func TestGCRARedis_FailsOpenWhenUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close() // redis is now unreachable
	defer rdb.Close()

	limiter := ratelimit.NewGCRALimiterRedis(rdb, time.Second, 0)
	got, err := limiter.Allow(context.Background(), "k")
	if err != nil {
		t.Fatalf("Allow must fail open (nil error) when Redis is unreachable, got %v", err)
	}
	want := ratelimit.Decision{Allowed: true}
	if diff := cmp.Diff(want, got, cmpopts.EquateComparable()); diff != "" {
		t.Errorf("fail-open decision mismatch (-want +got):\n%s", diff)
	}
}
