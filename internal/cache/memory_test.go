package cache

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

func TestMemoryCache_SetAndGet(t *testing.T) {
	c := NewMemoryCache(context.Background(), time.Hour)
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok := c.Get(ctx, "k")
	if !ok {
		t.Fatal("expected a hit after Set")
	}
	if string(got) != "v" {
		t.Errorf("Get = %q, want v", got)
	}
}

func TestMemoryCache_GetMiss(t *testing.T) {
	c := NewMemoryCache(context.Background(), time.Hour)
	if _, ok := c.Get(context.Background(), "missing"); ok {
		t.Fatal("expected a miss for an unset key")
	}
}

func TestMemoryCache_Delete(t *testing.T) {
	c := NewMemoryCache(context.Background(), time.Hour)
	ctx := context.Background()
	_ = c.Set(ctx, "k", []byte("v"), 0)

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("expected a miss after Delete")
	}
}

func TestMemoryCache_ExpiresAfterTTL(t *testing.T) {
	c := NewMemoryCache(context.Background(), 10*time.Millisecond)
	ctx := context.Background()
	_ = c.Set(ctx, "k", []byte("v"), 0)

	if _, ok := c.Get(ctx, "k"); !ok {
		t.Fatal("expected a hit before the TTL elapses")
	}
	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("expected the entry to expire after its TTL")
	}
}

func TestMemoryCache_ZeroOrNegativeTTLDefaultsToAnHour(t *testing.T) {
	c := NewMemoryCache(context.Background(), 0)
	ctx := context.Background()
	_ = c.Set(ctx, "k", []byte("v"), 0)
	time.Sleep(10 * time.Millisecond)
	if _, ok := c.Get(ctx, "k"); !ok {
		t.Error("expected the default one-hour TTL to keep the entry alive")
	}
}

func TestMemoryCache_LenTracksEntries(t *testing.T) {
	c := NewMemoryCache(context.Background(), time.Hour)
	ctx := context.Background()
	if c.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 on a fresh cache", c.Len())
	}
	_ = c.Set(ctx, "a", []byte("1"), 0)
	_ = c.Set(ctx, "b", []byte("2"), 0)
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestMemoryCache_EvictsLeastRecentlyUsedWhenFull(t *testing.T) {
	c := &MemoryCache{lru: expirable.NewLRU[string, []byte](2, nil, time.Hour)}
	ctx := context.Background()

	_ = c.Set(ctx, "a", []byte("1"), 0)
	_ = c.Set(ctx, "b", []byte("2"), 0)
	c.Get(ctx, "a") // touch a so it is more recently used than b
	_ = c.Set(ctx, "c", []byte("3"), 0)

	if _, ok := c.Get(ctx, "b"); ok {
		t.Error("expected b (least recently used) to be evicted once the cache exceeded its bound")
	}
	if _, ok := c.Get(ctx, "a"); !ok {
		t.Error("expected a to survive eviction since it was touched more recently")
	}
}

func TestMemoryCache_ImplementsCacheInterface(t *testing.T) {
	var _ Cache = (*MemoryCache)(nil)
}
