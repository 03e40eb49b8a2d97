package balance

import (
	"context"
	"crypto/rand"
	"math/big"
	"sync"
	"time"

	"github.com/nulpointcorp/llm-gateway/internal/types"
)

// Balancer selects a ready Service for an outgoing request and reports back
// observed latency so future selections can account for it. All four
// strategies from the spec (peak-EWMA P2C, weighted provider, weighted
// model, model-latency) implement this interface.
type Balancer interface {
	// Pick returns a candidate service. model is only consulted by
	// model-keyed strategies; it is ignored otherwise. ok is false when no
	// ready service exists (every candidate is quarantined).
	Pick(ctx context.Context, model types.ModelId) (key string, svc Service, done func(err error), ok bool)

	// Insert adds or replaces a service in the discovery stream.
	Insert(key string, svc Service)
	// Remove drops a service from the discovery stream (quarantine).
	Remove(key string)
}

// DefaultRTT seeds a new service's EWMA estimate before any real
// observation exists, so a brand-new backend isn't starved by P2C sampling
// against warmed-up peers. Mirrors the original's discover config default.
const DefaultRTT = 50 * time.Millisecond

// DefaultDecay is the EWMA half-life used by peak-EWMA balancers.
const DefaultDecay = 10 * time.Second

// peakEWMAP2C implements the Power-of-Two-Choices strategy over
// peak-EWMA-scored candidates: sample two distinct ready services at
// random and route to whichever has the lower current load estimate.
// Falls back to the single candidate when only one is ready.
type peakEWMAP2C struct {
	cache *readyCache

	mu   sync.Mutex
	ewma map[string]*peakEWMA
}

// NewPeakEWMAP2C builds the default provider-level balancer: Power-of-Two
// Choices over peak-EWMA latency, per spec.md §4.3.
func NewPeakEWMAP2C() Balancer {
	return &peakEWMAP2C{cache: newReadyCache(), ewma: make(map[string]*peakEWMA)}
}

func (b *peakEWMAP2C) Insert(key string, svc Service) {
	b.cache.Insert(key, svc)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.ewma[key]; !ok {
		b.ewma[key] = newPeakEWMA(DefaultRTT, DefaultDecay)
	}
}

func (b *peakEWMAP2C) Remove(key string) {
	b.cache.Remove(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.ewma, key)
}

func (b *peakEWMAP2C) Pick(_ context.Context, _ types.ModelId) (string, Service, func(error), bool) {
	n := b.cache.Len()
	if n == 0 {
		return "", Service{}, nil, false
	}
	i := randIndex(n)
	if n == 1 {
		k, s := b.cache.At(i)
		return k, s, b.doneFor(k), true
	}
	j := randIndex(n - 1)
	if j >= i {
		j++
	}
	k1, s1 := b.cache.At(i)
	k2, s2 := b.cache.At(j)
	if b.loadOf(k1) <= b.loadOf(k2) {
		return k1, s1, b.doneFor(k1), true
	}
	return k2, s2, b.doneFor(k2), true
}

func (b *peakEWMAP2C) loadOf(key string) float64 {
	b.mu.Lock()
	e, ok := b.ewma[key]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	return e.Load()
}

func (b *peakEWMAP2C) doneFor(key string) func(error) {
	b.mu.Lock()
	e, ok := b.ewma[key]
	b.mu.Unlock()
	if !ok {
		return func(error) {}
	}
	finish := e.Start()
	start := time.Now()
	return func(err error) {
		finish(time.Since(start))
	}
}

func randIndex(n int) int {
	if n <= 0 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}
