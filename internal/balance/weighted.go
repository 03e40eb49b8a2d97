package balance

import (
	"context"
	"crypto/rand"
	"math/big"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/nulpointcorp/llm-gateway/internal/types"
)

// weightedEntry pairs a service with its configured share of traffic.
// Weights across one balancer's keys must sum to exactly 1 — validated at
// config-load time, see internal/config.ValidateWeights.
type weightedEntry struct {
	key     string
	svc     Service
	weight  decimal.Decimal
}

// weightedProvider implements the WeightedProvider strategy (spec.md §4.3):
// traffic is split across providers in fixed proportions, independent of
// observed latency or load.
type weightedProvider struct {
	mu      sync.RWMutex
	entries []weightedEntry
	index   map[string]int
}

// NewWeightedProvider builds a fixed-proportion balancer across providers.
func NewWeightedProvider() Balancer {
	return &weightedProvider{index: make(map[string]int)}
}

func (b *weightedProvider) Insert(key string, svc Service) {
	b.mu.Lock()
	defer b.mu.Unlock()
	w := decimal.NewFromFloat(svc.Weight)
	if i, ok := b.index[key]; ok {
		b.entries[i] = weightedEntry{key: key, svc: svc, weight: w}
		return
	}
	b.index[key] = len(b.entries)
	b.entries = append(b.entries, weightedEntry{key: key, svc: svc, weight: w})
}

func (b *weightedProvider) Remove(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i, ok := b.index[key]
	if !ok {
		return
	}
	last := len(b.entries) - 1
	b.entries[i] = b.entries[last]
	b.index[b.entries[i].key] = i
	b.entries = b.entries[:last]
	delete(b.index, key)
}

func (b *weightedProvider) Pick(_ context.Context, _ types.ModelId) (string, Service, func(error), bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.entries) == 0 {
		return "", Service{}, nil, false
	}
	target := randWeight(b.entries)
	running := decimal.Zero
	for _, e := range b.entries {
		running = running.Add(e.weight)
		if target.LessThanOrEqual(running) {
			return e.key, e.svc, noopDone, true
		}
	}
	last := b.entries[len(b.entries)-1]
	return last.key, last.svc, noopDone, true
}

func noopDone(error) {}

func randWeight(entries []weightedEntry) decimal.Decimal {
	// Sample uniformly in [0, 1) with 1e6 buckets of resolution — enough
	// for the configured-weights precision this gateway supports.
	const resolution = 1_000_000
	n, err := rand.Int(rand.Reader, big.NewInt(resolution))
	if err != nil {
		n = big.NewInt(0)
	}
	return decimal.NewFromInt(n.Int64()).Div(decimal.NewFromInt(resolution))
}

// weightedModel implements the WeightedModel strategy: identical mechanics
// to weightedProvider but keyed on ModelId rather than InferenceProvider.
type weightedModel struct {
	*weightedProvider
}

// NewWeightedModel builds a fixed-proportion balancer across model targets.
func NewWeightedModel() Balancer {
	return &weightedModel{weightedProvider: NewWeightedProvider().(*weightedProvider)}
}
