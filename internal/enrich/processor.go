// Package enrich implements the batch processor: the refresh unit of
// work that discovers new activities, fetches rich data for the
// incomplete ones under the rate governor's budget, and merges the
// results into the cache store with one atomic save per batch.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tobyhaynes/strideline/internal/cache"
	"github.com/tobyhaynes/strideline/internal/geo"
	"github.com/tobyhaynes/strideline/internal/music"
	"github.com/tobyhaynes/strideline/internal/strava"
)

// Defaults.
const (
	DefaultBatchSize    = 20
	DefaultPerPage      = 50
	DefaultListingPages = 2
)

// Upstream is the slice of the API client the processor needs.
type Upstream interface {
	ListActivities(ctx context.Context, page, perPage int) ([]cache.Summary, error)
	GetActivity(ctx context.Context, id int64) (*strava.Detail, error)
	ListPhotos(ctx context.Context, id int64) ([]strava.Photo, error)
	ListComments(ctx context.Context, id int64) ([]cache.Comment, error)
}

// Governor admits or refuses upstream calls.
type Governor interface {
	Admit() bool
	AdmitListing() bool
}

// MusicHook is the optional per-activity enrichment callout.
type MusicHook interface {
	Match(ctx context.Context, description string) (*music.Match, error)
}

// Handoff receives the activities enriched by a committed batch.
// Delivery is fire-and-forget; a failing handoff never rolls back the
// cache commit.
type Handoff interface {
	Publish(res *Result)
}

// Result summarizes one batch run.
type Result struct {
	RunID       string
	CompletedAt time.Time
	Discovered  int
	Processed   int
	Failed      int
	Committed   bool
	// Enriched holds copies of the activities that gained data this
	// run, for the downstream hand-off.
	Enriched []*cache.Activity
}

// Processor drives one batch at a time. The scheduler guarantees runs
// never overlap; the processor itself holds no run state.
type Processor struct {
	store    *cache.Store
	client   Upstream
	governor Governor
	hook     MusicHook
	retry    *strava.RetryPolicy
	handoff  Handoff

	batchSize    int
	perPage      int
	listingPages int

	log zerolog.Logger
	now func() time.Time
}

// Option configures a Processor.
type Option func(*Processor)

// WithBatchSize sets the per-run enrichment target.
func WithBatchSize(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithListing sets the listing page size and page count per run.
func WithListing(pages, perPage int) Option {
	return func(p *Processor) {
		if pages > 0 {
			p.listingPages = pages
		}
		if perPage > 0 {
			p.perPage = perPage
		}
	}
}

// WithMusicHook sets the music enrichment callout.
func WithMusicHook(h MusicHook) Option {
	return func(p *Processor) {
		p.hook = h
	}
}

// WithHandoff sets the downstream hand-off.
func WithHandoff(h Handoff) Option {
	return func(p *Processor) {
		p.handoff = h
	}
}

// WithLogger sets the processor logger.
func WithLogger(log zerolog.Logger) Option {
	return func(p *Processor) {
		p.log = log
	}
}

// New creates a processor over the given collaborators.
func New(store *cache.Store, client Upstream, governor Governor, opts ...Option) *Processor {
	p := &Processor{
		store:        store,
		client:       client,
		governor:     governor,
		retry:        strava.NewRetryPolicy(),
		batchSize:    DefaultBatchSize,
		perPage:      DefaultPerPage,
		listingPages: DefaultListingPages,
		log:          zerolog.Nop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes one batch: discover via the listing call, enrich up to
// batchSize incomplete activities oldest first, merge monotonically,
// then persist the whole batch atomically. Partial progress is always
// kept: quota exhaustion stops the batch without error, per-activity
// failures skip to the next candidate, and only an upstream rejection
// (auth/quota 4xx) aborts the remainder, after committing what was
// already merged.
func (p *Processor) Run(ctx context.Context) (*Result, error) {
	res := &Result{RunID: uuid.New().String()[:8]}
	log := p.log.With().Str("run_id", res.RunID).Logger()

	runErr := p.discover(ctx, log, res)
	if runErr == nil {
		runErr = p.enrichBatch(ctx, log, res)
	}

	if err := p.commit(log, res); err != nil {
		return res, err
	}
	res.CompletedAt = p.now()

	log.Info().
		Int("discovered", res.Discovered).
		Int("processed", res.Processed).
		Int("failed", res.Failed).
		Bool("committed", res.Committed).
		Msg("batch run finished")

	if runErr != nil {
		return res, runErr
	}
	return res, nil
}

// discover runs the listing call(s) to admit newly seen activities.
// Rejection aborts the run; plain unavailability only costs discovery,
// the cached backlog can still be enriched.
func (p *Processor) discover(ctx context.Context, log zerolog.Logger, res *Result) error {
	for page := 1; page <= p.listingPages; page++ {
		if !p.governor.AdmitListing() {
			log.Warn().Msg("listing call refused by governor")
			return nil
		}

		summaries, err := p.client.ListActivities(ctx, page, p.perPage)
		if errors.Is(err, strava.ErrRejected) {
			return fmt.Errorf("discovery aborted: %w", err)
		}
		if err != nil {
			log.Warn().Err(err).Int("page", page).Msg("listing fetch failed, continuing with cached backlog")
			return nil
		}

		now := p.now()
		p.store.Update(func(d *cache.Document) bool {
			changed := false
			for _, s := range summaries {
				if d.Get(s.ID) == nil {
					res.Discovered++
				}
				if d.UpsertSummary(s, now) {
					changed = true
				}
			}
			return changed
		})

		if len(summaries) < p.perPage {
			break // last page
		}
	}
	return nil
}

// enrichBatch works through the incomplete backlog.
func (p *Processor) enrichBatch(ctx context.Context, log zerolog.Logger, res *Result) error {
	candidates := p.store.Snapshot().Incomplete(p.batchSize)

	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return nil // shutdown; partial progress is committed by the caller
		}

		id := candidate.ID
		if !p.retry.ShouldAttempt(id) {
			continue
		}

		err := p.enrichOne(ctx, log, res, id)
		switch {
		case errors.Is(err, errQuotaExhausted):
			// Graceful early stop; the next tick continues from here.
			log.Info().Int64("activity_id", id).Msg("quota exhausted, stopping batch early")
			return nil
		case errors.Is(err, strava.ErrRejected):
			p.retry.RecordFailure(id)
			res.Failed++
			return fmt.Errorf("batch aborted at activity %d: %w", id, err)
		case err != nil:
			// Timeout, 5xx, malformed payload, missing resource: the
			// activity keeps its prior state and the batch moves on.
			p.retry.RecordFailure(id)
			res.Failed++
			log.Warn().Err(err).Int64("activity_id", id).Msg("activity enrichment failed")
		default:
			p.retry.RecordSuccess(id)
			res.Processed++
		}
	}
	return nil
}

// errQuotaExhausted is internal flow control for the governor refusing
// mid-batch; it is never surfaced to callers.
var errQuotaExhausted = errors.New("quota exhausted")

// enrichOne fetches detail, photos and comments for one activity,
// decodes the route, runs the music hook, and merges the result.
func (p *Processor) enrichOne(ctx context.Context, log zerolog.Logger, res *Result, id int64) error {
	if !p.governor.Admit() {
		return errQuotaExhausted
	}
	detail, err := p.client.GetActivity(ctx, id)
	if err != nil {
		return err
	}

	enr := cache.Enrichment{
		Route: p.decodeRoute(log, id, detail.Polyline),
	}
	// An empty description on the wire is indistinguishable from one the
	// athlete deleted; keep whatever is already stored.
	if detail.Description != "" {
		enr.Description = &detail.Description
	}

	// Photos and comments are independently failable; losing one does
	// not waste what was already fetched.
	var firstErr error
	if !p.governor.Admit() {
		firstErr = errQuotaExhausted
	} else if photos, err := p.client.ListPhotos(ctx, id); err != nil {
		firstErr = err
	} else {
		enr.Photos = summarizePhotos(photos, detail.PhotoCount)
	}

	if firstErr == nil {
		if !p.governor.Admit() {
			firstErr = errQuotaExhausted
		} else if comments, err := p.client.ListComments(ctx, id); err != nil {
			firstErr = err
		} else {
			if comments == nil {
				comments = []cache.Comment{}
			}
			enr.Comments = comments
		}
	}

	if mm := p.matchMusic(ctx, log, id, detail.Description); mm != nil {
		enr.Music = &cache.MusicMatch{
			Title:     mm.Title,
			Artist:    mm.Artist,
			SourceID:  mm.SourceID,
			WidgetURL: mm.WidgetURL,
		}
	}

	p.merge(res, detail, enr)
	return firstErr
}

// merge applies the collected fields under the store's write lock.
func (p *Processor) merge(res *Result, detail *strava.Detail, enr cache.Enrichment) {
	now := p.now()
	p.store.Update(func(d *cache.Document) bool {
		changed := d.UpsertSummary(detail.Summary, now)
		a := d.Get(detail.Summary.ID)
		if a == nil {
			return changed
		}
		if a.Apply(enr, now) {
			changed = true
			res.Enriched = append(res.Enriched, a.Clone())
		}
		return changed
	})
}

// decodeRoute turns the encoded polyline into a Route. A malformed
// encoding degrades to the decodable prefix; an empty encoding is a
// legitimate routeless activity (trainer, treadmill).
func (p *Processor) decodeRoute(log zerolog.Logger, id int64, polyline string) *cache.Route {
	if polyline == "" {
		return &cache.Route{}
	}

	points, err := geo.DecodePolyline(polyline)
	route := &cache.Route{
		EncodedPolyline: polyline,
		PointCount:      len(points),
		Partial:         err != nil,
	}
	if err != nil {
		log.Warn().Err(err).Int64("activity_id", id).Msg("route decode fell back to prefix")
	}
	if b, ok := geo.ComputeBounds(points); ok {
		route.Bounds = b
	}
	if c, ok := geo.ComputeCenter(points); ok {
		route.Center = c
	}
	return route
}

// matchMusic runs the best-effort music hook.
func (p *Processor) matchMusic(ctx context.Context, log zerolog.Logger, id int64, description string) *music.Match {
	if p.hook == nil || description == "" {
		return nil
	}
	mm, err := p.hook.Match(ctx, description)
	if err != nil {
		log.Warn().Err(err).Int64("activity_id", id).Msg("music hook failed")
		return nil
	}
	return mm
}

// commit persists the whole batch in one atomic save and triggers the
// downstream hand-off. A batch that changed nothing leaves the
// document untouched on disk, byte for byte.
func (p *Processor) commit(log zerolog.Logger, res *Result) error {
	if !p.store.Dirty() {
		return nil
	}

	now := p.now()
	p.store.Update(func(d *cache.Document) bool {
		d.LastRefreshAt = now
		return true
	})
	if err := p.store.Save(); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	res.Committed = true

	if p.handoff != nil && len(res.Enriched) > 0 {
		p.handoff.Publish(res)
	}
	return nil
}

// summarizePhotos collapses the photo listing into the cached summary.
func summarizePhotos(photos []strava.Photo, reportedCount int) *cache.Photos {
	out := &cache.Photos{Count: len(photos)}
	if reportedCount > out.Count {
		out.Count = reportedCount
	}
	for _, ph := range photos {
		if out.PrimaryURL == "" || ph.Primary {
			out.PrimaryURL = ph.URL
		}
		if ph.Primary {
			break
		}
	}
	return out
}
