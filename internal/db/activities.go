package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tobyhaynes/strideline/internal/cache"
)

// ActivityRepository handles the activities mirror table.
//
// Expected schema:
//
//	CREATE TABLE activities (
//	    id               BIGINT PRIMARY KEY,
//	    name             TEXT NOT NULL,
//	    type             TEXT NOT NULL,
//	    distance_meters  DOUBLE PRECISION NOT NULL,
//	    moving_time_sec  BIGINT NOT NULL,
//	    elapsed_time_sec BIGINT NOT NULL,
//	    start_date       TIMESTAMPTZ NOT NULL,
//	    timezone         TEXT,
//	    description      TEXT,
//	    polyline         TEXT,
//	    photo_url        TEXT,
//	    photo_count      INT,
//	    comment_count    INT,
//	    music_title      TEXT,
//	    music_artist     TEXT,
//	    music_widget_url TEXT,
//	    enriched_at      TIMESTAMPTZ,
//	    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	)
type ActivityRepository struct {
	pool *pgxpool.Pool
}

// UpsertBatch inserts or updates multiple activities efficiently.
func (r *ActivityRepository) UpsertBatch(ctx context.Context, activities []*cache.Activity) error {
	if len(activities) == 0 {
		return nil
	}

	query := `
		INSERT INTO activities (
			id, name, type, distance_meters, moving_time_sec, elapsed_time_sec,
			start_date, timezone, description, polyline, photo_url, photo_count,
			comment_count, music_title, music_artist, music_widget_url,
			enriched_at, updated_at
		)
		SELECT * FROM unnest(
			$1::bigint[], $2::text[], $3::text[], $4::float8[], $5::bigint[], $6::bigint[],
			$7::timestamptz[], $8::text[], $9::text[], $10::text[], $11::text[], $12::int[],
			$13::int[], $14::text[], $15::text[], $16::text[],
			$17::timestamptz[], $18::timestamptz[]
		)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			distance_meters = EXCLUDED.distance_meters,
			moving_time_sec = EXCLUDED.moving_time_sec,
			elapsed_time_sec = EXCLUDED.elapsed_time_sec,
			start_date = EXCLUDED.start_date,
			timezone = EXCLUDED.timezone,
			description = COALESCE(EXCLUDED.description, activities.description),
			polyline = COALESCE(EXCLUDED.polyline, activities.polyline),
			photo_url = COALESCE(EXCLUDED.photo_url, activities.photo_url),
			photo_count = COALESCE(EXCLUDED.photo_count, activities.photo_count),
			comment_count = COALESCE(EXCLUDED.comment_count, activities.comment_count),
			music_title = COALESCE(EXCLUDED.music_title, activities.music_title),
			music_artist = COALESCE(EXCLUDED.music_artist, activities.music_artist),
			music_widget_url = COALESCE(EXCLUDED.music_widget_url, activities.music_widget_url),
			enriched_at = EXCLUDED.enriched_at,
			updated_at = EXCLUDED.updated_at
	`

	n := len(activities)
	ids := make([]int64, n)
	names := make([]string, n)
	types := make([]string, n)
	distances := make([]float64, n)
	movingTimes := make([]int64, n)
	elapsedTimes := make([]int64, n)
	startDates := make([]time.Time, n)
	timezones := make([]*string, n)
	descriptions := make([]*string, n)
	polylines := make([]*string, n)
	photoURLs := make([]*string, n)
	photoCounts := make([]*int, n)
	commentCounts := make([]*int, n)
	musicTitles := make([]*string, n)
	musicArtists := make([]*string, n)
	musicWidgets := make([]*string, n)
	enrichedAts := make([]*time.Time, n)
	updatedAts := make([]time.Time, n)

	now := time.Now()
	for i, a := range activities {
		ids[i] = a.ID
		names[i] = a.Name
		types[i] = a.Type
		distances[i] = a.DistanceMeters
		movingTimes[i] = a.MovingTimeSec
		elapsedTimes[i] = a.ElapsedTimeSec
		startDates[i] = a.StartDate
		if a.Timezone != "" {
			tz := a.Timezone
			timezones[i] = &tz
		}
		descriptions[i] = a.Description
		if a.Route != nil {
			poly := a.Route.EncodedPolyline
			polylines[i] = &poly
		}
		if a.Photos != nil {
			u := a.Photos.PrimaryURL
			c := a.Photos.Count
			photoURLs[i] = &u
			photoCounts[i] = &c
		}
		if a.Comments != nil {
			c := len(a.Comments)
			commentCounts[i] = &c
		}
		if a.Music != nil {
			title := a.Music.Title
			artist := a.Music.Artist
			widget := a.Music.WidgetURL
			musicTitles[i] = &title
			musicArtists[i] = &artist
			musicWidgets[i] = &widget
		}
		if !a.EnrichedAt.IsZero() {
			ea := a.EnrichedAt
			enrichedAts[i] = &ea
		}
		updatedAts[i] = now
	}

	_, err := r.pool.Exec(ctx, query,
		ids, names, types, distances, movingTimes, elapsedTimes,
		startDates, timezones, descriptions, polylines, photoURLs, photoCounts,
		commentCounts, musicTitles, musicArtists, musicWidgets,
		enrichedAts, updatedAts,
	)
	if err != nil {
		return fmt.Errorf("batch upserting activities: %w", err)
	}
	return nil
}

// Count returns the number of mirrored activities.
func (r *ActivityRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM activities`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting activities: %w", err)
	}
	return count, nil
}
