// Package quota gates outgoing upstream calls against the service's
// published rate limits: a short rolling window and a daily ceiling.
// Refusing a call early keeps the service inside both limits.
package quota

import (
	"sync"
	"time"
)

// Config sizes the governor's two windows.
type Config struct {
	// WindowLimit is the maximum calls per rolling Window.
	WindowLimit int
	// Window is the short accounting period (upstream publishes 15m).
	Window time.Duration
	// DailyLimit is the maximum calls per UTC day.
	DailyLimit int
	// ListingReserve is headroom held back from detail calls so a
	// listing call (always required to discover new activities) can
	// still be admitted late in the day.
	ListingReserve int
}

// DefaultConfig keeps comfortable headroom under Strava's documented
// 100-per-15-minutes / 1000-per-day limits.
func DefaultConfig() Config {
	return Config{
		WindowLimit:    90,
		Window:         15 * time.Minute,
		DailyLimit:     900,
		ListingReserve: 10,
	}
}

// Governor tracks calls consumed in the current quota windows and
// admits or refuses new ones. The rolling window is a sliding log of
// admission timestamps, so within any window of the configured length
// at most WindowLimit calls are ever admitted; there is no burst
// allowance on top. Admission checks are serialized; the batch
// processor consults the governor before every upstream call.
type Governor struct {
	mu  sync.Mutex
	cfg Config

	// window holds the admission times still inside the rolling window,
	// oldest first. Its length is bounded by WindowLimit.
	window []time.Time

	dailyUsed int
	dayStart  time.Time

	now func() time.Time
}

// New creates a governor from cfg. Zero or negative limits fall back to
// the defaults.
func New(cfg Config) *Governor {
	def := DefaultConfig()
	if cfg.WindowLimit <= 0 {
		cfg.WindowLimit = def.WindowLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.DailyLimit <= 0 {
		cfg.DailyLimit = def.DailyLimit
	}
	if cfg.ListingReserve < 0 {
		cfg.ListingReserve = 0
	}

	g := &Governor{
		cfg:    cfg,
		window: make([]time.Time, 0, cfg.WindowLimit),
		now:    time.Now,
	}
	g.dayStart = midnightUTC(g.now())
	return g
}

// Admit reports whether a detail/photo/comment call may proceed and, if
// so, records it. Detail calls never eat into the listing reserve.
func (g *Governor) Admit() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.rolloverLocked(now)
	if g.dailyUsed >= g.cfg.DailyLimit-g.cfg.ListingReserve {
		return false
	}
	return g.admitWindowLocked(now)
}

// AdmitListing is Admit for listing calls; it may consume the reserve.
func (g *Governor) AdmitListing() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.rolloverLocked(now)
	if g.dailyUsed >= g.cfg.DailyLimit {
		return false
	}
	return g.admitWindowLocked(now)
}

// Remaining returns the calls left in the current UTC day.
func (g *Governor) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rolloverLocked(g.now())
	return g.cfg.DailyLimit - g.dailyUsed
}

// admitWindowLocked applies the rolling-window check and records the
// call when it passes.
func (g *Governor) admitWindowLocked(now time.Time) bool {
	g.pruneLocked(now)
	if len(g.window) >= g.cfg.WindowLimit {
		return false
	}
	g.window = append(g.window, now)
	g.dailyUsed++
	return true
}

// pruneLocked drops admission times that have aged out of the window.
func (g *Governor) pruneLocked(now time.Time) {
	cutoff := now.Add(-g.cfg.Window)
	i := 0
	for i < len(g.window) && !g.window[i].After(cutoff) {
		i++
	}
	if i > 0 {
		g.window = append(g.window[:0], g.window[i:]...)
	}
}

// rolloverLocked resets the daily counter when the UTC day changes.
func (g *Governor) rolloverLocked(now time.Time) {
	if day := midnightUTC(now); day.After(g.dayStart) {
		g.dayStart = day
		g.dailyUsed = 0
	}
}

func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
