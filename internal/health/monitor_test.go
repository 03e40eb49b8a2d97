package health

import (
	"testing"
	"time"
)

func newTestMonitor() (*Monitor, *[]string, *[]string) {
	var inserted, removed []string
	m := New(Config{
		Window:       time.Minute,
		ErrorRatio:   0.5,
		MinRequests:  4,
		TickInterval: time.Hour, // never fires on its own; tests call tick() directly
	}, nil, func(key string) {
		inserted = append(inserted, key)
	}, func(key string) {
		removed = append(removed, key)
	})
	return m, &inserted, &removed
}

func TestMonitor_BelowMinRequestsNeverQuarantines(t *testing.T) {
	m, _, removed := newTestMonitor()
	m.RecordResult("a", true)
	m.RecordResult("a", true)
	m.RecordResult("a", true) // 3 requests, all failed, but MinRequests is 4
	m.tick()

	if m.IsQuarantined("a") {
		t.Error("must not quarantine before MinRequests is reached")
	}
	if len(*removed) != 0 {
		t.Errorf("remover must not be called, got %v", *removed)
	}
}

func TestMonitor_QuarantinesOnHighErrorRatio(t *testing.T) {
	m, _, removed := newTestMonitor()
	m.RecordResult("a", true)
	m.RecordResult("a", true)
	m.RecordResult("a", true)
	m.RecordResult("a", false)
	m.tick()

	if !m.IsQuarantined("a") {
		t.Fatal("expected a to be quarantined at a 3/4 error ratio")
	}
	if len(*removed) != 1 || (*removed)[0] != "a" {
		t.Errorf("remover calls = %v, want [a]", *removed)
	}
}

func TestMonitor_StaysHealthyBelowThreshold(t *testing.T) {
	m, _, removed := newTestMonitor()
	m.RecordResult("a", false)
	m.RecordResult("a", false)
	m.RecordResult("a", false)
	m.RecordResult("a", true) // 1/4 errors, below the 0.5 threshold
	m.tick()

	if m.IsQuarantined("a") {
		t.Error("must not quarantine below the error ratio threshold")
	}
	if len(*removed) != 0 {
		t.Errorf("remover must not be called, got %v", *removed)
	}
}

func TestMonitor_RestoresOnceRatioRecovers(t *testing.T) {
	m, inserted, _ := newTestMonitor()
	m.RecordResult("a", true)
	m.RecordResult("a", true)
	m.RecordResult("a", true)
	m.RecordResult("a", true)
	m.tick()
	if !m.IsQuarantined("a") {
		t.Fatal("setup: expected a to be quarantined")
	}

	// A fresh window with a healthy ratio should restore it.
	m.mu.Lock()
	delete(m.counters, "a")
	m.mu.Unlock()
	m.RecordResult("a", false)
	m.RecordResult("a", false)
	m.RecordResult("a", false)
	m.RecordResult("a", false)
	m.tick()

	if m.IsQuarantined("a") {
		t.Fatal("expected a to be restored after recovering")
	}
	if len(*inserted) != 1 || (*inserted)[0] != "a" {
		t.Errorf("inserter calls = %v, want [a]", *inserted)
	}
}

func TestMonitor_StaleWindowDropsCounterButKeepsQuarantine(t *testing.T) {
	m, _, _ := newTestMonitor()
	m.cfg.Window = 10 * time.Millisecond
	m.RecordResult("a", true)
	m.RecordResult("a", true)
	m.RecordResult("a", true)
	m.RecordResult("a", true)
	m.tick()
	if !m.IsQuarantined("a") {
		t.Fatal("setup: expected a to be quarantined")
	}

	time.Sleep(20 * time.Millisecond)
	m.tick()

	if !m.IsQuarantined("a") {
		t.Error("a stale, traffic-less window must not auto-restore a quarantined backend")
	}
	m.mu.Lock()
	_, stillTracked := m.counters["a"]
	m.mu.Unlock()
	if stillTracked {
		t.Error("expected the stale counter to be dropped")
	}
}

func TestMonitor_IsQuarantinedDefaultsFalse(t *testing.T) {
	m, _, _ := newTestMonitor()
	if m.IsQuarantined("never-seen") {
		t.Error("an unknown key must never report as quarantined")
	}
}
