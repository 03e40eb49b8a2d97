package balance

import (
	"testing"
	"time"
)

func TestPeakEWMA_SeededAtDefaultRTT(t *testing.T) {
	e := newPeakEWMA(DefaultRTT, DefaultDecay)
	if got := e.Load(); got != float64(DefaultRTT) {
		t.Errorf("Load() = %v, want seeded default %v", got, float64(DefaultRTT))
	}
}

func TestPeakEWMA_ObserveJumpsToNewPeak(t *testing.T) {
	e := newPeakEWMA(time.Millisecond, DefaultDecay)
	e.observe(time.Second)
	if got := e.Load(); got != float64(time.Second) {
		t.Errorf("Load() after a slower observation = %v, want immediate jump to %v", got, float64(time.Second))
	}
}

func TestPeakEWMA_ObserveDecaysTowardFasterSample(t *testing.T) {
	e := newPeakEWMA(time.Second, 10*time.Millisecond)
	before := e.Load()
	time.Sleep(20 * time.Millisecond)
	e.observe(time.Millisecond)
	after := e.Load()
	if after >= before {
		t.Errorf("Load() did not decay toward a faster sample: before=%v after=%v", before, after)
	}
}

func TestPeakEWMA_LoadScalesWithInflight(t *testing.T) {
	e := newPeakEWMA(time.Millisecond, DefaultDecay)
	base := e.Load()

	finish1 := e.Start()
	withOne := e.Load()
	if withOne <= base {
		t.Errorf("Load() with one inflight request = %v, want > base %v", withOne, base)
	}

	finish2 := e.Start()
	withTwo := e.Load()
	if withTwo <= withOne {
		t.Errorf("Load() with two inflight requests = %v, want > one-inflight %v", withTwo, withOne)
	}

	finish1(time.Millisecond)
	finish2(time.Millisecond)
}
