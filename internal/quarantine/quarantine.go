// Package quarantine implements the rate-limit monitor: when a provider
// responds 429 with a Retry-After, the dispatcher reports it here and the
// backend is pulled from its balancer until the retry-after deadline (plus
// a fixed safety buffer) elapses, mirroring
// original_source/ai-gateway/src/discover/monitor/rate_limit/provider.rs.
package quarantine

import (
	"log/slog"
	"sync"
	"time"
)

// Buffer is added on top of the provider's reported Retry-After to absorb
// clock skew and avoid flapping a backend back into rotation a moment
// before its limit actually clears.
const Buffer = 30 * time.Second

// Monitor tracks rate-limit-driven quarantines for one balancer.
type Monitor struct {
	mu       sync.Mutex
	timers   map[string]*time.Timer
	logger   *slog.Logger
	inserter func(key string)
	remover  func(key string)
}

// New builds a Monitor. insert/remove restore/quarantine a discovery key
// in the owning balancer.
func New(logger *slog.Logger, insert, remove func(key string)) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		timers:   make(map[string]*time.Timer),
		logger:   logger,
		inserter: insert,
		remover:  remove,
	}
}

// ReportRateLimited quarantines key for retryAfter+Buffer. A duplicate
// report for a key that is already quarantined is ignored — the original
// deadline stands, it is not extended.
func (m *Monitor) ReportRateLimited(key string, retryAfter time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.timers[key]; ok {
		return
	}

	m.logger.Warn("quarantining rate-limited backend", slog.String("key", key),
		slog.Duration("retry_after", retryAfter))
	if m.remover != nil {
		m.remover(key)
	}

	deadline := retryAfter + Buffer
	m.timers[key] = time.AfterFunc(deadline, func() { m.clear(key) })
}

func (m *Monitor) clear(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.timers[key]; !ok {
		return
	}
	delete(m.timers, key)
	m.logger.Info("restoring rate-limited backend", slog.String("key", key))
	if m.inserter != nil {
		m.inserter(key)
	}
}

// IsQuarantined reports whether key is currently withheld from rotation.
func (m *Monitor) IsQuarantined(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[key]
	return ok
}

// Stop cancels every pending timer, for use during shutdown.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.timers {
		t.Stop()
	}
	m.timers = make(map[string]*time.Timer)
}
