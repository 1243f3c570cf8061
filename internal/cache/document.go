package cache

import (
	"sort"
	"strconv"
	"time"
)

// SchemaVersion is the current cache document schema. Documents with a
// different version are treated as corrupt and trigger an emergency
// reseed rather than a guessy migration.
const SchemaVersion = 1

// Document is the persisted aggregate: every known activity plus
// refresh metadata. It is only ever written to disk as a whole, through
// Store.Save.
type Document struct {
	SchemaVersion int                  `json:"schema_version"`
	Activities    map[string]*Activity `json:"activities"`
	// Order preserves last-seen listing order (newest first) for
	// iteration; correctness never depends on it.
	Order         []int64   `json:"order"`
	LastRefreshAt time.Time `json:"last_refresh_at"`
}

// NewDocument returns an empty document at the current schema version.
func NewDocument() *Document {
	return &Document{
		SchemaVersion: SchemaVersion,
		Activities:    make(map[string]*Activity),
	}
}

// key converts an activity id to its JSON object key.
func key(id int64) string {
	return strconv.FormatInt(id, 10)
}

// Get returns the activity with the given id, or nil.
func (d *Document) Get(id int64) *Activity {
	return d.Activities[key(id)]
}

// Len returns the number of cached activities.
func (d *Document) Len() int {
	return len(d.Activities)
}

// UpsertSummary admits a listing entry to the cache. A fresh id gets a
// new record with the whole summary block; a known id has its summary
// overwritten (last write wins). Invalid summaries are refused so a
// partially formed record never enters the cache. Reports whether the
// document changed.
func (d *Document) UpsertSummary(s Summary, now time.Time) bool {
	if !s.Valid() {
		return false
	}

	if a := d.Get(s.ID); a != nil {
		return a.applySummary(s)
	}

	a := &Activity{ID: s.ID, FetchedAt: now}
	a.applySummary(s)
	d.Activities[key(s.ID)] = a
	d.Order = append(d.Order, s.ID)
	return true
}

// Incomplete returns up to limit activities still lacking enrichment,
// oldest first by start date, so the backlog drains from the tail.
func (d *Document) Incomplete(limit int) []*Activity {
	var out []*Activity
	for _, a := range d.Activities {
		if !a.Complete() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartDate.Before(out[j].StartDate)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// All returns every activity in listing order (newest first for ids
// discovered by the newest-first listing call). Activities missing from
// Order are appended at the end.
func (d *Document) All() []*Activity {
	seen := make(map[int64]bool, len(d.Order))
	out := make([]*Activity, 0, len(d.Activities))
	for _, id := range d.Order {
		if a := d.Get(id); a != nil && !seen[id] {
			out = append(out, a)
			seen[id] = true
		}
	}
	// Defensive sweep for records that lost their Order entry.
	if len(out) < len(d.Activities) {
		var rest []*Activity
		for _, a := range d.Activities {
			if !seen[a.ID] {
				rest = append(rest, a)
			}
		}
		sort.Slice(rest, func(i, j int) bool { return rest[i].ID < rest[j].ID })
		out = append(out, rest...)
	}
	return out
}

// Clone returns a deep copy of the document, safe to hand to readers
// while a batch keeps mutating the original.
func (d *Document) Clone() *Document {
	c := &Document{
		SchemaVersion: d.SchemaVersion,
		Activities:    make(map[string]*Activity, len(d.Activities)),
		Order:         append([]int64(nil), d.Order...),
		LastRefreshAt: d.LastRefreshAt,
	}
	for k, a := range d.Activities {
		c.Activities[k] = a.Clone()
	}
	return c
}
