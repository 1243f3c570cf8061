package quota

import (
	"testing"
	"time"
)

func TestAdmitRespectsDailyCeiling(t *testing.T) {
	g := New(Config{
		WindowLimit:    1000,
		Window:         time.Hour,
		DailyLimit:     5,
		ListingReserve: 2,
	})

	admitted := 0
	for i := 0; i < 10; i++ {
		if g.Admit() {
			admitted++
		}
	}
	// Detail calls stop at DailyLimit - ListingReserve.
	if admitted != 3 {
		t.Errorf("admitted %d detail calls, want 3", admitted)
	}

	// The reserve is still available to listing calls.
	listings := 0
	for i := 0; i < 10; i++ {
		if g.AdmitListing() {
			listings++
		}
	}
	if listings != 2 {
		t.Errorf("admitted %d listing calls from reserve, want 2", listings)
	}

	if g.Admit() || g.AdmitListing() {
		t.Error("call admitted past the daily ceiling")
	}
}

func TestAdmitRespectsWindowCeiling(t *testing.T) {
	g := New(Config{
		WindowLimit: 3,
		Window:      time.Hour,
		DailyLimit:  100,
	})

	admitted := 0
	for i := 0; i < 10; i++ {
		if g.Admit() {
			admitted++
		}
	}
	if admitted != 3 {
		t.Errorf("admitted %d calls in window, want 3", admitted)
	}
}

func TestWindowCeilingHoldsAsTimePasses(t *testing.T) {
	// Hammer the governor across a full window while the clock moves in
	// small steps. No span of Window length may ever admit more than
	// WindowLimit calls; elapsed time must not grant extra headroom on
	// top of the ceiling the way a refilling bucket would.
	g := New(Config{
		WindowLimit: 10,
		Window:      2 * time.Second,
		DailyLimit:  1000,
	})

	current := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return current }
	g.dayStart = midnightUTC(current)

	admitted := 0
	for i := 0; i < 200; i++ {
		if g.Admit() {
			admitted++
		}
		current = current.Add(10 * time.Millisecond) // 200 * 10ms = one window
	}
	if admitted > 10 {
		t.Errorf("admitted %d calls in one window, configured ceiling 10", admitted)
	}
}

func TestWindowCapacityReturnsAfterSlide(t *testing.T) {
	g := New(Config{
		WindowLimit: 2,
		Window:      time.Minute,
		DailyLimit:  100,
	})

	current := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return current }
	g.dayStart = midnightUTC(current)

	if !g.Admit() || !g.Admit() {
		t.Fatal("fresh window refused admission")
	}
	if g.Admit() {
		t.Fatal("admitted past the window ceiling")
	}

	// Half a window later the first two calls are still inside it.
	current = current.Add(30 * time.Second)
	if g.Admit() {
		t.Error("admitted while the window was still full")
	}

	// Once the early calls age out, capacity comes back.
	current = current.Add(31 * time.Second)
	if !g.Admit() {
		t.Error("admission refused after the window slid past the early calls")
	}
}

func TestDailyRollover(t *testing.T) {
	g := New(Config{
		WindowLimit: 1000,
		Window:      time.Hour,
		DailyLimit:  2,
	})

	current := time.Date(2026, 8, 30, 23, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return current }
	g.dayStart = midnightUTC(current)

	if !g.AdmitListing() || !g.AdmitListing() {
		t.Fatal("fresh day refused admission")
	}
	if g.AdmitListing() {
		t.Fatal("admitted past daily limit")
	}

	// Crossing midnight UTC resets the counter.
	current = current.Add(2 * time.Hour)
	if !g.AdmitListing() {
		t.Error("admission refused after day rollover")
	}
	if got := g.Remaining(); got != 1 {
		t.Errorf("Remaining() = %d after one call in new day, want 1", got)
	}
}

func TestZeroConfigFallsBackToDefaults(t *testing.T) {
	g := New(Config{})
	if g.cfg.WindowLimit != DefaultConfig().WindowLimit {
		t.Errorf("WindowLimit = %d, want default %d", g.cfg.WindowLimit, DefaultConfig().WindowLimit)
	}
	if !g.Admit() {
		t.Error("default governor refused the first call")
	}
}
