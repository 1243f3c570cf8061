// Package cache holds the durable activity cache: the Activity model,
// the persisted Document aggregate, and the Store that loads, validates
// and atomically saves it.
package cache

import (
	"time"

	"github.com/tobyhaynes/strideline/internal/geo"
)

// Route is the decoded geometry attached to an activity.
type Route struct {
	// EncodedPolyline is the upstream route encoding, kept verbatim so
	// the frontend can re-decode at whatever precision it wants. Empty
	// for activities recorded without GPS (trainer, treadmill).
	EncodedPolyline string     `json:"encoded_polyline"`
	Bounds          geo.Bounds `json:"bounds"`
	Center          geo.LatLng `json:"center"`
	PointCount      int        `json:"point_count" validate:"gte=0"`
	// Partial marks routes recovered from a malformed encoding; the
	// bounds and center cover only the decodable prefix.
	Partial bool `json:"partial,omitempty"`
}

// Photos summarizes the photo set attached to an activity.
type Photos struct {
	PrimaryURL string `json:"primary_url"`
	Count      int    `json:"count" validate:"gte=0"`
}

// Comment is a single activity comment in upstream order.
type Comment struct {
	ID        int64     `json:"id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// MusicMatch is a detected track reference from the activity description.
type MusicMatch struct {
	Title     string `json:"title" validate:"required"`
	Artist    string `json:"artist"`
	SourceID  string `json:"source_id"`
	WidgetURL string `json:"widget_url"`
}

// Activity is one recorded exercise session. Summary fields are written
// as a block when the activity is first observed; enrichment fields are
// filled in independently over later batch cycles and, once populated,
// are never cleared by a failed fetch.
type Activity struct {
	ID int64 `json:"id" validate:"required"`

	// Summary, all-or-nothing.
	Name           string    `json:"name" validate:"required"`
	Type           string    `json:"type" validate:"required"`
	DistanceMeters float64   `json:"distance_meters" validate:"gte=0"`
	MovingTimeSec  int64     `json:"moving_time_sec" validate:"gte=0"`
	ElapsedTimeSec int64     `json:"elapsed_time_sec" validate:"gte=0"`
	StartDate      time.Time `json:"start_date" validate:"required"`
	StartDateLocal time.Time `json:"start_date_local"`
	Timezone       string    `json:"timezone"`

	// Enrichment, each independently present or absent.
	Description *string     `json:"description,omitempty"`
	Route       *Route      `json:"route,omitempty"`
	Photos      *Photos     `json:"photos,omitempty"`
	Comments    []Comment   `json:"comments,omitempty"`
	Music       *MusicMatch `json:"music,omitempty"`

	FetchedAt  time.Time `json:"fetched_at"`
	EnrichedAt time.Time `json:"enriched_at"`
}

// Summary is the listing-call view of an activity, the unit that is
// written atomically on first sight.
type Summary struct {
	ID             int64
	Name           string
	Type           string
	DistanceMeters float64
	MovingTimeSec  int64
	ElapsedTimeSec int64
	StartDate      time.Time
	StartDateLocal time.Time
	Timezone       string
}

// Valid reports whether the summary is fully formed. A listing entry
// that fails this check is never admitted to the cache.
func (s Summary) Valid() bool {
	return s.ID != 0 && s.Name != "" && s.Type != "" && !s.StartDate.IsZero()
}

// Enrichment carries the fields a batch cycle may attach to an
// activity. Nil fields are "nothing fetched" and leave the stored value
// untouched.
type Enrichment struct {
	Description *string
	Route       *Route
	Photos      *Photos
	Comments    []Comment
	Music       *MusicMatch
}

// Complete reports whether the activity needs no further enrichment:
// route, photos and comments are all populated. A nil Comments slice
// means comments were never fetched; an empty non-nil slice counts as
// fetched. Music is not a completeness blocker because most
// descriptions carry no music marker at all.
func (a *Activity) Complete() bool {
	return a.Route != nil && a.Photos != nil && a.Comments != nil
}

// Apply merges an enrichment into the activity under the monotonic
// rule: only non-nil incoming fields are written, and a previously
// populated field is never reset to empty. Reports whether anything
// changed.
func (a *Activity) Apply(e Enrichment, now time.Time) bool {
	changed := false

	if e.Description != nil && (a.Description == nil || *a.Description != *e.Description) {
		d := *e.Description
		a.Description = &d
		changed = true
	}
	if e.Route != nil && (a.Route == nil || *a.Route != *e.Route) {
		r := *e.Route
		a.Route = &r
		changed = true
	}
	if e.Photos != nil && (a.Photos == nil || *a.Photos != *e.Photos) {
		p := *e.Photos
		a.Photos = &p
		changed = true
	}
	if e.Comments != nil && !commentsEqual(a.Comments, e.Comments) {
		a.Comments = append([]Comment(nil), e.Comments...)
		changed = true
	}
	if e.Music != nil && (a.Music == nil || *a.Music != *e.Music) {
		m := *e.Music
		a.Music = &m
		changed = true
	}

	if changed {
		a.EnrichedAt = now
	}
	return changed
}

// applySummary overwrites the summary block. Last write wins on
// refresh; the block is only ever replaced whole.
func (a *Activity) applySummary(s Summary) bool {
	same := a.Name == s.Name &&
		a.Type == s.Type &&
		a.DistanceMeters == s.DistanceMeters &&
		a.MovingTimeSec == s.MovingTimeSec &&
		a.ElapsedTimeSec == s.ElapsedTimeSec &&
		a.StartDate.Equal(s.StartDate) &&
		a.StartDateLocal.Equal(s.StartDateLocal) &&
		a.Timezone == s.Timezone
	if same {
		return false
	}

	a.Name = s.Name
	a.Type = s.Type
	a.DistanceMeters = s.DistanceMeters
	a.MovingTimeSec = s.MovingTimeSec
	a.ElapsedTimeSec = s.ElapsedTimeSec
	a.StartDate = s.StartDate
	a.StartDateLocal = s.StartDateLocal
	a.Timezone = s.Timezone
	return true
}

// Clone returns a deep copy of the activity.
func (a *Activity) Clone() *Activity {
	c := *a
	if a.Description != nil {
		d := *a.Description
		c.Description = &d
	}
	if a.Route != nil {
		r := *a.Route
		c.Route = &r
	}
	if a.Photos != nil {
		p := *a.Photos
		c.Photos = &p
	}
	if a.Comments != nil {
		c.Comments = append([]Comment(nil), a.Comments...)
	}
	if a.Music != nil {
		m := *a.Music
		c.Music = &m
	}
	return &c
}

func commentsEqual(a, b []Comment) bool {
	if len(a) != len(b) || (a == nil) != (b == nil) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Author != b[i].Author || a[i].Text != b[i].Text || !a[i].CreatedAt.Equal(b[i].CreatedAt) {
			return false
		}
	}
	return true
}
