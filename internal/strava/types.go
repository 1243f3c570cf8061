package strava

import (
	"strings"
	"time"

	"github.com/tobyhaynes/strideline/internal/cache"
)

// summaryActivity is the listing-call wire shape (subset).
type summaryActivity struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	SportType      string  `json:"sport_type"`
	Type           string  `json:"type"`
	Distance       float64 `json:"distance"`
	MovingTime     int64   `json:"moving_time"`
	ElapsedTime    int64   `json:"elapsed_time"`
	StartDate      string  `json:"start_date"`
	StartDateLocal string  `json:"start_date_local"`
	Timezone       string  `json:"timezone"`
}

// detailActivity is the per-activity detail wire shape (subset).
type detailActivity struct {
	summaryActivity
	Description string `json:"description"`
	Map         struct {
		Polyline        string `json:"polyline"`
		SummaryPolyline string `json:"summary_polyline"`
	} `json:"map"`
	TotalPhotoCount int `json:"total_photo_count"`
}

// photo is one entry of the photo-listing auxiliary call.
type photo struct {
	UniqueID string            `json:"unique_id"`
	URLs     map[string]string `json:"urls"`
	Default  bool              `json:"default_photo"`
}

// comment is one entry of the comment-listing auxiliary call.
type comment struct {
	ID      int64  `json:"id"`
	Text    string `json:"text"`
	Athlete struct {
		Firstname string `json:"firstname"`
		Lastname  string `json:"lastname"`
	} `json:"athlete"`
	CreatedAt string `json:"created_at"`
}

// Detail is a fully fetched activity detail, normalized for the cache.
type Detail struct {
	Summary     cache.Summary
	Description string
	// Polyline is the full-resolution encoding when present, otherwise
	// the summary encoding; empty for activities without GPS data.
	Polyline   string
	PhotoCount int
}

// Photo is one activity photo reference.
type Photo struct {
	URL     string
	Primary bool
}

// toSummary converts a wire listing entry. The summary block is either
// fully formed or refused by cache.Summary.Valid at the merge site.
func (w summaryActivity) toSummary() cache.Summary {
	// sport_type superseded type in the upstream API; older records only
	// carry type.
	kind := w.SportType
	if kind == "" {
		kind = w.Type
	}
	return cache.Summary{
		ID:             w.ID,
		Name:           w.Name,
		Type:           kind,
		DistanceMeters: w.Distance,
		MovingTimeSec:  w.MovingTime,
		ElapsedTimeSec: w.ElapsedTime,
		StartDate:      parseUpstreamTime(w.StartDate),
		StartDateLocal: parseUpstreamTime(w.StartDateLocal),
		Timezone:       w.Timezone,
	}
}

func (w comment) toComment() cache.Comment {
	author := strings.TrimSpace(w.Athlete.Firstname + " " + w.Athlete.Lastname)
	return cache.Comment{
		ID:        w.ID,
		Author:    author,
		Text:      w.Text,
		CreatedAt: parseUpstreamTime(w.CreatedAt),
	}
}

// parseUpstreamTime handles the upstream's RFC3339 timestamps; a
// missing or malformed value becomes the zero time, which summary
// validation then refuses.
func parseUpstreamTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
