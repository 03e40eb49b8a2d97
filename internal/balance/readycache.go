// Package balance implements the gateway's load-balancing strategies over
// a discovery stream of named, healthy upstream services.
package balance

import (
	"sync"

	"github.com/nulpointcorp/llm-gateway/internal/types"
)

// Service is anything the balancer can route a request to: a concrete
// (provider, endpoint) or (model, endpoint) dispatch target.
type Service struct {
	Endpoint types.ApiEndpoint
	Model    types.ModelId // zero value for provider-keyed services
	Weight   float64       // 0 for unweighted strategies
}

// readyCache is an indexable set of live services keyed by BalancerKey,
// supporting O(1) random sampling (for P2C) and O(1) remove-by-swap. It is
// the Go re-expression of the discovery stream's membership state — the
// only writers are Insert/Remove, invoked by the health monitor and
// rate-limit monitor (quarantine/restore) and by the initial config
// snapshot load.
type readyCache struct {
	mu      sync.RWMutex
	keys    []string // parallel to services, for O(1) swap-remove
	index   map[string]int
	services map[string]Service
}

func newReadyCache() *readyCache {
	return &readyCache{
		index:    make(map[string]int),
		services: make(map[string]Service),
	}
}

// Insert adds or replaces the service registered under key.
func (c *readyCache) Insert(key string, svc Service) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.index[key]; !exists {
		c.index[key] = len(c.keys)
		c.keys = append(c.keys, key)
	}
	c.services[key] = svc
}

// Remove drops key from the cache. A no-op if key is not present.
func (c *readyCache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.index[key]
	if !ok {
		return
	}
	last := len(c.keys) - 1
	c.keys[i] = c.keys[last]
	c.index[c.keys[i]] = i
	c.keys = c.keys[:last]
	delete(c.index, key)
	delete(c.services, key)
}

// Len reports the number of ready services.
func (c *readyCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.keys)
}

// At returns the key and service at index i (caller must hold i < Len()).
func (c *readyCache) At(i int) (string, Service) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	k := c.keys[i]
	return k, c.services[k]
}

// All returns a snapshot copy of every (key, service) pair.
func (c *readyCache) All() map[string]Service {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Service, len(c.services))
	for k, v := range c.services {
		out[k] = v
	}
	return out
}
