package strava

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retry tuning.
const (
	retryInitialInterval = 30 * time.Second
	retryMaxInterval     = 30 * time.Minute
	// retryTimeBox caps how long an activity keeps a backoff entry; once
	// it elapses the slate is wiped and the activity retries fresh.
	retryTimeBox = 6 * time.Hour
)

// RetryPolicy is the single retry decision point for per-activity
// fetches: exponential backoff with a cap, keyed by activity id and
// time-boxed. The batch processor consults it before spending quota on
// an activity that failed recently.
type RetryPolicy struct {
	mu      sync.Mutex
	entries map[int64]*retryEntry
	now     func() time.Time
}

type retryEntry struct {
	bo        *backoff.ExponentialBackOff
	firstFail time.Time
	nextAt    time.Time
}

// NewRetryPolicy creates an empty policy.
func NewRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		entries: make(map[int64]*retryEntry),
		now:     time.Now,
	}
}

// ShouldAttempt reports whether the activity may be fetched now. An
// activity with no failure history is always eligible; one inside its
// backoff window is not. Entries older than the time box are discarded
// so a persistently failing activity eventually gets a clean start.
func (p *RetryPolicy) ShouldAttempt(id int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[id]
	if !ok {
		return true
	}

	now := p.now()
	if now.Sub(e.firstFail) > retryTimeBox {
		delete(p.entries, id)
		return true
	}
	return !now.Before(e.nextAt)
}

// RecordFailure advances the activity's backoff.
func (p *RetryPolicy) RecordFailure(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	e, ok := p.entries[id]
	if !ok {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = retryInitialInterval
		bo.MaxInterval = retryMaxInterval
		bo.MaxElapsedTime = 0 // the time box handles expiry
		bo.Reset()
		e = &retryEntry{bo: bo, firstFail: now}
		p.entries[id] = e
	}
	e.nextAt = now.Add(e.bo.NextBackOff())
}

// RecordSuccess clears the activity's failure history.
func (p *RetryPolicy) RecordSuccess(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, id)
}
