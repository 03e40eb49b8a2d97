package balance

import (
	"math"
	"sync"
	"time"
)

// peakEWMA tracks a decaying estimate of a service's round-trip latency,
// weighted up sharply on slow responses and decaying back down over time —
// the same metric tower::load::PeakEwmaDiscover uses. Lower is better.
type peakEWMA struct {
	mu         sync.Mutex
	cost       float64 // current estimate, in nanoseconds
	lastUpdate time.Time
	decay      time.Duration
	inflight   int64
}

func newPeakEWMA(defaultRTT, decay time.Duration) *peakEWMA {
	return &peakEWMA{
		cost:       float64(defaultRTT),
		lastUpdate: time.Now(),
		decay:      decay,
	}
}

// Load returns the current cost estimate adjusted for in-flight requests,
// used by P2C to pick the less-loaded of two sampled candidates.
func (p *peakEWMA) Load() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cost * float64(1+p.inflight)
}

// Start records the beginning of a request, returning a func to call with
// the observed RTT when it completes.
func (p *peakEWMA) Start() func(rtt time.Duration) {
	p.mu.Lock()
	p.inflight++
	p.mu.Unlock()

	return func(rtt time.Duration) {
		p.observe(rtt)
		p.mu.Lock()
		p.inflight--
		p.mu.Unlock()
	}
}

func (p *peakEWMA) observe(rtt time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(p.lastUpdate)
	p.lastUpdate = now

	sample := float64(rtt)
	if sample > p.cost {
		// Peak: jump straight to the new high.
		p.cost = sample
		return
	}

	// Decay the old estimate toward the new sample proportional to how
	// much time has passed relative to the decay half-life.
	weight := math.Exp(-float64(elapsed) / float64(p.decay))
	p.cost = p.cost*weight + sample*(1-weight)
}
