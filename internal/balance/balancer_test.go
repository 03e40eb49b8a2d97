package balance

import (
	"context"
	"testing"
	"time"

	"github.com/nulpointcorp/llm-gateway/internal/types"
)

func TestPeakEWMAP2C_NoCandidates(t *testing.T) {
	b := NewPeakEWMAP2C()
	_, _, _, ok := b.Pick(context.Background(), nil)
	if ok {
		t.Fatal("expected ok=false with no inserted services")
	}
}

func TestPeakEWMAP2C_SingleCandidate(t *testing.T) {
	b := NewPeakEWMAP2C()
	svc := Service{Endpoint: types.ApiEndpoint{Provider: types.OpenAI()}}
	b.Insert("openai", svc)

	key, got, done, ok := b.Pick(context.Background(), nil)
	if !ok {
		t.Fatal("expected ok=true with one inserted service")
	}
	if key != "openai" {
		t.Errorf("key = %q, want openai", key)
	}
	if !got.Endpoint.Provider.Equal(svc.Endpoint.Provider) {
		t.Errorf("Pick returned unexpected service: %+v", got)
	}
	if done == nil {
		t.Fatal("done func must not be nil")
	}
	done(nil)
}

func TestPeakEWMAP2C_RemoveDropsCandidate(t *testing.T) {
	b := NewPeakEWMAP2C()
	b.Insert("a", Service{})
	b.Insert("b", Service{})
	b.Remove("a")
	b.Remove("b")

	_, _, _, ok := b.Pick(context.Background(), nil)
	if ok {
		t.Fatal("expected ok=false after removing every candidate")
	}
}

// TestPeakEWMAP2C_PicksLessLoaded checks the P2C mechanics indirectly: once
// one candidate has recorded a much slower RTT than the other, repeated
// Picks should favor the faster one more often than not. This is
// probabilistic but with a wide enough margin to be non-flaky.
func TestPeakEWMAP2C_PicksLessLoaded(t *testing.T) {
	b := NewPeakEWMAP2C().(*peakEWMAP2C)
	b.Insert("slow", Service{})
	b.Insert("fast", Service{})

	// Seed an observation directly: slow gets a high cost, fast stays low.
	b.mu.Lock()
	b.ewma["slow"].cost = float64(time.Second)
	b.ewma["fast"].cost = float64(time.Millisecond)
	b.mu.Unlock()

	fastWins := 0
	const trials = 200
	for i := 0; i < trials; i++ {
		key, _, done, ok := b.Pick(context.Background(), nil)
		if !ok {
			t.Fatal("expected ok=true")
		}
		if key == "fast" {
			fastWins++
		}
		done(nil)
	}
	if fastWins < trials/2 {
		t.Errorf("fast candidate won %d/%d picks, expected it to dominate", fastWins, trials)
	}
}

func TestPeakEWMAP2C_DoneClearsInflight(t *testing.T) {
	b := NewPeakEWMAP2C().(*peakEWMAP2C)
	b.Insert("a", Service{})

	_, _, done, ok := b.Pick(context.Background(), nil)
	if !ok {
		t.Fatal("expected ok=true")
	}

	b.mu.Lock()
	inflight := b.ewma["a"].inflight
	b.mu.Unlock()
	if inflight != 1 {
		t.Fatalf("inflight = %d during the request, want 1", inflight)
	}

	done(nil)

	b.mu.Lock()
	inflight = b.ewma["a"].inflight
	b.mu.Unlock()
	if inflight != 0 {
		t.Errorf("inflight = %d after done, want 0", inflight)
	}
}
