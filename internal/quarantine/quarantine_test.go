package quarantine

import (
	"testing"
	"time"
)

func newTestMonitor() (*Monitor, *[]string, *[]string) {
	var inserted, removed []string
	m := New(nil, func(key string) {
		inserted = append(inserted, key)
	}, func(key string) {
		removed = append(removed, key)
	})
	return m, &inserted, &removed
}

func TestReportRateLimited_Quarantines(t *testing.T) {
	m, _, removed := newTestMonitor()
	m.ReportRateLimited("a", time.Second)

	if !m.IsQuarantined("a") {
		t.Fatal("expected a to be quarantined after ReportRateLimited")
	}
	if len(*removed) != 1 || (*removed)[0] != "a" {
		t.Errorf("remover calls = %v, want [a]", *removed)
	}
	m.Stop()
}

func TestReportRateLimited_DuplicateReportIsIgnored(t *testing.T) {
	// Review fix: a second report for an already-quarantined key must not
	// extend its deadline (by replacing its timer) or call the remover again.
	m, _, removed := newTestMonitor()
	m.ReportRateLimited("a", 10*time.Minute)
	m.mu.Lock()
	firstTimer := m.timers["a"]
	m.mu.Unlock()

	m.ReportRateLimited("a", time.Hour) // must be ignored, not replace the timer above

	if len(*removed) != 1 {
		t.Fatalf("remover calls = %d, want exactly 1 (duplicate report must be a no-op)", len(*removed))
	}
	m.mu.Lock()
	sameTimer := m.timers["a"] == firstTimer
	m.mu.Unlock()
	if !sameTimer {
		t.Error("duplicate ReportRateLimited must not replace the already-scheduled timer")
	}
	m.Stop()
}

func TestClear_RestoresAndIsIdempotent(t *testing.T) {
	// clear is the timer callback ReportRateLimited schedules for
	// retryAfter+Buffer later; exercised directly here rather than waiting
	// out the real Buffer delay (30s) in a unit test.
	m, inserted, _ := newTestMonitor()
	m.ReportRateLimited("a", time.Hour)

	m.clear("a")
	if m.IsQuarantined("a") {
		t.Fatal("expected a to be restored after clear")
	}
	if len(*inserted) != 1 || (*inserted)[0] != "a" {
		t.Errorf("inserter calls = %v, want [a]", *inserted)
	}

	// A second clear for an already-cleared key must be a no-op.
	m.clear("a")
	if len(*inserted) != 1 {
		t.Errorf("inserter must not run twice for one quarantine, got %d calls", len(*inserted))
	}
}

func TestStop_CancelsPendingTimers(t *testing.T) {
	m, inserted, _ := newTestMonitor()
	m.ReportRateLimited("a", time.Hour)
	m.Stop()

	// Give any (incorrectly still-running) timer a chance to fire.
	time.Sleep(20 * time.Millisecond)
	if len(*inserted) != 0 {
		t.Errorf("inserter must not run after Stop, got %v", *inserted)
	}
}

func TestIsQuarantined_UnknownKeyIsFalse(t *testing.T) {
	m, _, _ := newTestMonitor()
	if m.IsQuarantined("never-seen") {
		t.Error("an unknown key must never report as quarantined")
	}
}
