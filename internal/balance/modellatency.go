package balance

import (
	"context"
	"sync"

	"github.com/nulpointcorp/llm-gateway/internal/types"
)

// modelLatency implements the ModelLatency strategy: requests are grouped
// by the requested model, and within that group routed via peak-EWMA P2C.
// Unlike ProviderLatencyPeakEwmaP2C (one pool shared by all models), this
// keeps a fully independent pool per model so a slow model on one provider
// doesn't bias routing for a different, fast model on the same provider.
type modelLatency struct {
	mu    sync.Mutex
	pools map[string]*peakEWMAP2C // keyed by model literal
	// membership remembers which pool each inserted key lives in, so
	// Remove can find it without the caller repeating the model.
	owner map[string]string
}

// NewModelLatency builds a per-model peak-EWMA P2C balancer.
func NewModelLatency() Balancer {
	return &modelLatency{
		pools: make(map[string]*peakEWMAP2C),
		owner: make(map[string]string),
	}
}

func (b *modelLatency) Insert(key string, svc Service) {
	b.mu.Lock()
	defer b.mu.Unlock()
	model := ""
	if svc.Model != nil {
		model = svc.Model.String()
	}
	pool, ok := b.pools[model]
	if !ok {
		pool = NewPeakEWMAP2C().(*peakEWMAP2C)
		b.pools[model] = pool
	}
	pool.Insert(key, svc)
	b.owner[key] = model
}

func (b *modelLatency) Remove(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	model, ok := b.owner[key]
	if !ok {
		return
	}
	if pool, ok := b.pools[model]; ok {
		pool.Remove(key)
	}
	delete(b.owner, key)
}

func (b *modelLatency) Pick(ctx context.Context, model types.ModelId) (string, Service, func(error), bool) {
	b.mu.Lock()
	var key string
	if model != nil {
		key = model.String()
	}
	pool, ok := b.pools[key]
	b.mu.Unlock()
	if !ok {
		return "", Service{}, nil, false
	}
	return pool.Pick(ctx, model)
}
