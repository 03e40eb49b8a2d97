// Package health implements the gateway's health monitor: a rolling
// error-ratio tracker per discovery-stream key that quarantines (removes
// from the balancer) any backend whose recent error ratio crosses a
// threshold, and restores it once the ratio recovers on a later tick.
//
// The windowed-counter mechanics are adapted from the teacher's
// per-provider circuit breaker (internal/proxy/circuitbreaker.go): same
// reset-on-expiry rolling window, generalized from "count consecutive
// errors" to "track request/error totals per window" so the monitor can
// compute a ratio rather than a raw trip count.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Config tunes the monitor's quarantine behavior.
type Config struct {
	// Window is the rolling duration counters are kept over.
	Window time.Duration
	// ErrorRatio is the fraction of failed requests within Window that
	// trips quarantine (0 < ErrorRatio <= 1).
	ErrorRatio float64
	// MinRequests is the minimum number of requests in Window before the
	// ratio is considered meaningful (avoids quarantining on a single
	// unlucky failure against a cold backend).
	MinRequests int
	// TickInterval is how often the monitor re-evaluates quarantine
	// state and clears backends whose ratio has recovered.
	TickInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = 60 * time.Second
	}
	if c.ErrorRatio <= 0 {
		c.ErrorRatio = 0.5
	}
	if c.MinRequests <= 0 {
		c.MinRequests = 5
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 5 * time.Second
	}
	return c
}

// counters is the rolling per-key request/error tally.
type counters struct {
	windowStart time.Time
	requests    int
	errors      int
}

// Monitor tracks endpoint health for one balancer's set of discovery keys
// and emits Insert/Remove calls as backends cross the quarantine
// threshold, mirroring the original's discover/monitor/health provider.
type Monitor struct {
	mu       sync.Mutex
	cfg      Config
	counters map[string]*counters
	quarantined map[string]struct{}
	logger   *slog.Logger

	inserter func(key string)
	remover  func(key string)
}

// New builds a Monitor. insert/remove are called to restore/quarantine a
// discovery key in the owning balancer.
func New(cfg Config, logger *slog.Logger, insert, remove func(key string)) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:         cfg.withDefaults(),
		counters:    make(map[string]*counters),
		quarantined: make(map[string]struct{}),
		logger:      logger,
		inserter:    insert,
		remover:     remove,
	}
}

// RecordResult updates the rolling counters for key based on whether the
// dispatched request to it succeeded.
func (m *Monitor) RecordResult(key string, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[key]
	now := time.Now()
	if !ok {
		c = &counters{windowStart: now}
		m.counters[key] = c
	}
	if now.Sub(c.windowStart) > m.cfg.Window {
		c.windowStart = now
		c.requests = 0
		c.errors = 0
	}
	c.requests++
	if failed {
		c.errors++
	}
}

// Run evaluates quarantine state every TickInterval until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *Monitor) tick() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for key, c := range m.counters {
		if now.Sub(c.windowStart) > m.cfg.Window {
			// Stale window with no recent traffic; drop the counter but
			// leave quarantine state untouched (a quarantined backend
			// with no traffic stays quarantined until explicitly probed).
			delete(m.counters, key)
			continue
		}
		if c.requests < m.cfg.MinRequests {
			continue
		}
		ratio := float64(c.errors) / float64(c.requests)
		_, isQuarantined := m.quarantined[key]

		switch {
		case ratio >= m.cfg.ErrorRatio && !isQuarantined:
			m.quarantined[key] = struct{}{}
			m.logger.Warn("quarantining backend", slog.String("key", key), slog.Float64("error_ratio", ratio))
			if m.remover != nil {
				m.remover(key)
			}
		case ratio < m.cfg.ErrorRatio && isQuarantined:
			delete(m.quarantined, key)
			m.logger.Info("restoring backend", slog.String("key", key), slog.Float64("error_ratio", ratio))
			if m.inserter != nil {
				m.inserter(key)
			}
		}
	}
}

// IsQuarantined reports whether key is currently removed from rotation.
func (m *Monitor) IsQuarantined(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.quarantined[key]
	return ok
}
