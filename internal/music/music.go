// Package music detects track references in activity descriptions and
// resolves them to a playable source. Detection is textual; resolution
// goes through a Searcher (Spotify in production). Everything here is
// best-effort: a description without a music marker is a miss, not an
// error, and a failed lookup degrades to the text-only match.
package music

import (
	"context"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// Match is a detected track reference.
type Match struct {
	Title  string
	Artist string
	// SourceID identifies the track at the resolving service (empty for
	// text-only matches).
	SourceID string
	// WidgetURL is an embeddable player reference for the frontend.
	WidgetURL string
}

// Searcher resolves a free-text query to a track. A miss returns
// (nil, nil).
type Searcher interface {
	SearchTrack(ctx context.Context, query string) (*Match, error)
}

// markerPattern matches the music annotation conventions used in
// activity descriptions: a line opening with a music glyph or a
// "now playing"/"music:" prefix.
var markerPattern = regexp.MustCompile(`(?mi)^(?:🎵|♫|now playing:|music:)\s*(.+)$`)

// Detector is the per-activity enrichment hook.
type Detector struct {
	searcher Searcher
	log      zerolog.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the detector logger.
func WithLogger(log zerolog.Logger) Option {
	return func(d *Detector) {
		d.log = log
	}
}

// NewDetector creates a detector. searcher may be nil, in which case
// matches are text-only.
func NewDetector(searcher Searcher, opts ...Option) *Detector {
	d := &Detector{searcher: searcher, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Match scans the description for a music marker and, when one is
// found, tries to resolve it through the searcher. Returns (nil, nil)
// when the description carries no marker; a failed or missed lookup
// falls back to the text-only match rather than failing the hook.
func (d *Detector) Match(ctx context.Context, description string) (*Match, error) {
	title, artist, ok := detect(description)
	if !ok {
		return nil, nil
	}

	textMatch := &Match{Title: title, Artist: artist}
	if d.searcher == nil {
		return textMatch, nil
	}

	query := title
	if artist != "" {
		query = title + " " + artist
	}
	resolved, err := d.searcher.SearchTrack(ctx, query)
	if err != nil {
		d.log.Warn().Err(err).Str("query", query).Msg("music lookup failed, keeping text-only match")
		return textMatch, nil
	}
	if resolved == nil {
		return textMatch, nil
	}
	return resolved, nil
}

// detect extracts the first music marker from the description and
// splits it into title and artist. Supported payload shapes are
// "Title - Artist" and "Title by Artist"; a payload without a
// separator becomes a title-only match.
func detect(description string) (title, artist string, ok bool) {
	m := markerPattern.FindStringSubmatch(description)
	if m == nil {
		return "", "", false
	}
	payload := strings.TrimSpace(m[1])
	if payload == "" {
		return "", "", false
	}

	if i := strings.Index(payload, " - "); i >= 0 {
		return strings.TrimSpace(payload[:i]), strings.TrimSpace(payload[i+3:]), true
	}
	if i := strings.Index(strings.ToLower(payload), " by "); i >= 0 {
		return strings.TrimSpace(payload[:i]), strings.TrimSpace(payload[i+4:]), true
	}
	return payload, "", true
}
