// Package scheduler decides when a refresh runs. Three triggers,
// periodic timer, manual signal and emergency-on-read, converge on the
// batch processor through a single-run guard, so at most one batch is
// ever in flight and concurrent triggers coalesce instead of queueing.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tobyhaynes/strideline/internal/cache"
	"github.com/tobyhaynes/strideline/internal/enrich"
)

// Defaults.
const (
	// DefaultInterval is the periodic refresh interval. Multi-hour
	// staleness is acceptable; the point of the cache is minimal
	// upstream traffic.
	DefaultInterval = 6 * time.Hour

	// DefaultEmergencyTimeout bounds a synchronous emergency refresh
	// performed under a read request. When it expires the reader is
	// served whatever partial data exists, even none.
	DefaultEmergencyTimeout = 30 * time.Second
)

// Runner is the batch processor entry point the scheduler drives.
type Runner interface {
	Run(ctx context.Context) (*enrich.Result, error)
}

// Scheduler owns the refresh lifecycle of one cache store.
type Scheduler struct {
	store  *cache.Store
	runner Runner

	interval         time.Duration
	emergencyTimeout time.Duration

	manual  chan struct{}
	running atomic.Bool
	wg      sync.WaitGroup

	log zerolog.Logger
	now func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the periodic refresh interval.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithEmergencyTimeout bounds the synchronous emergency refresh.
func WithEmergencyTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.emergencyTimeout = d
		}
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Scheduler) {
		s.log = log
	}
}

// New creates a scheduler over the store and runner.
func New(store *cache.Store, runner Runner, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:            store,
		runner:           runner,
		interval:         DefaultInterval,
		emergencyTimeout: DefaultEmergencyTimeout,
		manual:           make(chan struct{}, 1),
		log:              zerolog.Nop(),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bootstrap loads the cache and, when it is missing or corrupt, resets
// to an empty document and seeds it with an immediate refresh. Corrupt
// state is recovered from, never crashed on.
func (s *Scheduler) Bootstrap(ctx context.Context) {
	err := s.store.Load()
	switch {
	case err == nil:
		s.log.Info().Time("last_refresh_at", s.store.LastRefreshAt()).Msg("cache loaded")
		if s.store.Ready() {
			return
		}
		s.log.Info().Msg("cache empty, seeding")
	case errors.Is(err, cache.ErrCacheMissing):
		s.log.Info().Msg("no cache file, seeding")
		s.store.Reset()
	case errors.Is(err, cache.ErrCorruptCache):
		s.log.Warn().Err(err).Msg("corrupt cache, reseeding from scratch")
		s.store.Reset()
	default:
		s.log.Error().Err(err).Msg("cache load failed, starting empty")
		s.store.Reset()
	}

	s.tryRun(ctx, "emergency")
}

// Start launches the background loop. It returns immediately; use Wait
// after cancelling ctx to drain.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
}

// Wait blocks until the background loop has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// TriggerManual requests an immediate refresh, bypassing the freshness
// check. Reports whether the trigger was accepted; a trigger arriving
// while one is already pending or running coalesces into a no-op.
func (s *Scheduler) TriggerManual() bool {
	if s.running.Load() {
		return false
	}
	select {
	case s.manual <- struct{}{}:
		return true
	default:
		return false
	}
}

// EnsureReady is the emergency-on-read entry point: when the store has
// no usable data it runs a refresh synchronously, bounded by the
// emergency timeout. It always returns once the bound expires so the
// caller can serve whatever exists. This is the only path allowed to
// refresh inline under a request.
func (s *Scheduler) EnsureReady(ctx context.Context) {
	if s.store.Ready() {
		return
	}

	cctx, cancel := context.WithTimeout(ctx, s.emergencyTimeout)
	defer cancel()

	if s.tryRun(cctx, "emergency") {
		return
	}

	// A run is already in flight; wait for it (or the bound).
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-cctx.Done():
			return
		case <-ticker.C:
			if s.store.Ready() || !s.running.Load() {
				return
			}
		}
	}
}

// loop serializes the periodic and manual triggers.
func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.fresh() {
				continue
			}
			s.tryRun(ctx, "periodic")
		case <-s.manual:
			s.tryRun(ctx, "manual")
		}
	}
}

// fresh reports whether the cache was refreshed within the interval.
func (s *Scheduler) fresh() bool {
	last := s.store.LastRefreshAt()
	return !last.IsZero() && s.now().Sub(last) < s.interval
}

// tryRun executes one batch under the single-run guard. Reports false
// when another run already holds the guard (the trigger coalesces).
func (s *Scheduler) tryRun(ctx context.Context, mode string) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Debug().Str("mode", mode).Msg("refresh already in flight, trigger coalesced")
		return false
	}
	defer s.running.Store(false)

	log := s.log.With().Str("mode", mode).Logger()
	log.Info().Msg("refresh starting")

	res, err := s.runner.Run(ctx)
	if err != nil {
		// Batch-level failures (auth rejection, commit failure) are
		// logged and retried on the next trigger, never propagated.
		log.Warn().Err(err).Msg("refresh finished with error")
		return true
	}
	log.Info().
		Int("discovered", res.Discovered).
		Int("processed", res.Processed).
		Int("failed", res.Failed).
		Bool("committed", res.Committed).
		Msg("refresh finished")
	return true
}
