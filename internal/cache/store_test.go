package cache

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "activities.json")
	return NewStore(path, zerolog.Nop())
}

func TestLoadMissing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Load(); !errors.Is(err, ErrCacheMissing) {
		t.Fatalf("Load() = %v, want ErrCacheMissing", err)
	}
	if s.Ready() {
		t.Error("store ready after failed load")
	}
}

func TestLoadCorrupt(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "{{{"},
		{"wrong schema", `{"schema_version": 99, "activities": {}}`},
		{"empty file", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			if err := os.WriteFile(s.path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			if err := s.Load(); !errors.Is(err, ErrCorruptCache) {
				t.Fatalf("Load() = %v, want ErrCorruptCache", err)
			}
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	s := newTestStore(t)

	s.Update(func(d *Document) bool {
		changed := d.UpsertSummary(testSummary(1, now.Add(-time.Hour)), now)
		d.Get(1).Apply(Enrichment{Route: testRoute(), Photos: &Photos{Count: 1}, Comments: []Comment{}}, now)
		d.LastRefreshAt = now
		return changed
	})
	if err := s.Save(); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	reopened := NewStore(s.path, zerolog.Nop())
	if err := reopened.Load(); err != nil {
		t.Fatalf("Load() after save: %v", err)
	}
	a, ok := reopened.Get(1)
	if !ok {
		t.Fatal("activity missing after round trip")
	}
	if !a.Complete() {
		t.Error("enrichment lost in round trip")
	}
	if got := reopened.LastRefreshAt(); !got.Equal(now) {
		t.Errorf("LastRefreshAt = %v, want %v", got, now)
	}
}

func TestSaveSkipsWhenClean(t *testing.T) {
	now := time.Now().UTC()
	s := newTestStore(t)
	s.Update(func(d *Document) bool {
		return d.UpsertSummary(testSummary(1, now.Add(-time.Hour)), now)
	})
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}

	before, err := os.ReadFile(s.path)
	if err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(s.path)
	if err != nil {
		t.Fatal(err)
	}

	// An update that changes nothing must not rewrite the file.
	s.Update(func(d *Document) bool {
		return d.UpsertSummary(testSummary(1, now.Add(-time.Hour)), now)
	})
	if s.Dirty() {
		t.Error("no-op update marked store dirty")
	}
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}

	after, err := os.ReadFile(s.path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Error("clean save rewrote the document")
	}
	info2, err := os.Stat(s.path)
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(info2.ModTime()) {
		t.Error("clean save touched the file")
	}
}

func TestLoadRepairsBadRecords(t *testing.T) {
	content := `{
  "schema_version": 1,
  "activities": {
    "1": {"id": 1, "name": "Morning Run", "type": "Run", "start_date": "2026-08-01T07:00:00Z", "fetched_at": "2026-08-01T08:00:00Z"},
    "2": {"id": 2, "name": "", "type": "Run", "start_date": "2026-08-02T07:00:00Z", "fetched_at": "2026-08-02T08:00:00Z"},
    "3": {"id": 99, "name": "Mismatched", "type": "Ride", "start_date": "2026-08-03T07:00:00Z", "fetched_at": "2026-08-03T08:00:00Z"}
  },
  "order": [3, 2, 1],
  "last_refresh_at": "2026-08-03T09:00:00Z"
}`

	s := newTestStore(t)
	if err := os.WriteFile(s.path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.Load(); err != nil {
		t.Fatalf("Load() = %v, want repaired document", err)
	}

	doc := s.Snapshot()
	if doc.Len() != 1 {
		t.Fatalf("repaired document has %d records, want 1", doc.Len())
	}
	if doc.Get(1) == nil {
		t.Error("valid record dropped during repair")
	}
	if len(doc.Order) != 1 || doc.Order[0] != 1 {
		t.Errorf("order = %v after repair, want [1]", doc.Order)
	}
}

func TestCrashMidSaveLeavesOldDocument(t *testing.T) {
	now := time.Now().UTC()
	s := newTestStore(t)
	s.Update(func(d *Document) bool {
		return d.UpsertSummary(testSummary(1, now.Add(-time.Hour)), now)
	})
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}

	// Simulate a crash mid-write: a half-written temp file next to the
	// real document. The loader must never see it.
	tmp := filepath.Join(filepath.Dir(s.path), ".cache-crash.json")
	if err := os.WriteFile(tmp, []byte(`{"schema_version": 1, "activ`), 0o600); err != nil {
		t.Fatal(err)
	}

	reopened := NewStore(s.path, zerolog.Nop())
	if err := reopened.Load(); err != nil {
		t.Fatalf("Load() after simulated crash: %v", err)
	}
	if _, ok := reopened.Get(1); !ok {
		t.Error("previous durable state lost")
	}
}

func TestSnapshotIsolation(t *testing.T) {
	now := time.Now().UTC()
	s := newTestStore(t)
	s.Update(func(d *Document) bool {
		return d.UpsertSummary(testSummary(1, now.Add(-time.Hour)), now)
	})

	snap := s.Snapshot()

	// Mutations after the snapshot must not leak into it.
	s.Update(func(d *Document) bool {
		return d.Get(1).Apply(Enrichment{Photos: &Photos{Count: 5}}, now)
	})

	if snap.Get(1).Photos != nil {
		t.Error("snapshot observed a mutation made after it was taken")
	}
}
