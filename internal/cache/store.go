package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Sentinel errors.
var (
	// ErrCacheMissing is returned by Load when no cache file exists yet.
	// Callers seed the cache with an emergency refresh.
	ErrCacheMissing = errors.New("cache file missing")

	// ErrCorruptCache is returned by Load when the cache file exists but
	// cannot be parsed or fails document-level validation. Callers fall
	// back to an emergency reseed; this is never fatal.
	ErrCorruptCache = errors.New("corrupt cache")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Store owns the durable cache document. One logical writer (the batch
// processor, serialized by the scheduler) mutates it through Update;
// readers take deep snapshots and are never blocked by a save.
type Store struct {
	path string
	log  zerolog.Logger

	mu    sync.RWMutex
	doc   *Document
	dirty bool
}

// NewStore creates a store backed by the JSON document at path. No I/O
// happens until Load or Save.
func NewStore(path string, log zerolog.Logger) *Store {
	return &Store{path: path, log: log}
}

// Load reads and validates the cache document. Returns ErrCacheMissing
// when no file exists and ErrCorruptCache when the content is
// unparsable or fails validation; both leave the store empty so the
// caller can reseed.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return ErrCacheMissing
	}
	if err != nil {
		return fmt.Errorf("reading cache file: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: parsing %s: %v", ErrCorruptCache, s.path, err)
	}
	if doc.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: schema version %d, want %d", ErrCorruptCache, doc.SchemaVersion, SchemaVersion)
	}
	if doc.Activities == nil {
		doc.Activities = make(map[string]*Activity)
	}

	if dropped := s.repair(&doc); dropped > 0 {
		s.log.Warn().Int("dropped", dropped).Msg("dropped malformed activity records during load")
	}

	s.mu.Lock()
	s.doc = &doc
	s.dirty = false
	s.mu.Unlock()
	return nil
}

// Reset installs a fresh empty document, discarding any loaded state.
// Used when an emergency reseed starts from nothing.
func (s *Store) Reset() {
	s.mu.Lock()
	s.doc = NewDocument()
	s.dirty = false
	s.mu.Unlock()
}

// Ready reports whether a document is loaded and holds at least one
// activity. An unloaded or empty store sends readers through the
// emergency path.
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc != nil && s.doc.Len() > 0
}

// LastRefreshAt returns the last successful commit time, or the zero
// time when nothing has been committed.
func (s *Store) LastRefreshAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc == nil {
		return time.Time{}
	}
	return s.doc.LastRefreshAt
}

// Snapshot returns a deep copy of the current document. The copy is
// safe to serve while a batch mutates the original.
func (s *Store) Snapshot() *Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc == nil {
		return NewDocument()
	}
	return s.doc.Clone()
}

// Get returns a copy of one activity.
func (s *Store) Get(id int64) (*Activity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc == nil {
		return nil, false
	}
	a := s.doc.Get(id)
	if a == nil {
		return nil, false
	}
	return a.Clone(), true
}

// Update applies fn to the document under the write lock. fn reports
// whether it changed anything; the store accumulates that into its
// dirty flag so an unchanged batch never rewrites the file. A nil
// document is created on first use.
func (s *Store) Update(fn func(*Document) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		s.doc = NewDocument()
	}
	if fn(s.doc) {
		s.dirty = true
	}
}

// Dirty reports whether there are unsaved changes.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// Save persists the document atomically: validate, write a temp file in
// the same directory, fsync, then rename over the old file, so a crash
// mid-write never leaves a half-written document. Saving a clean store
// is a no-op, which keeps back-to-back unchanged batches byte-stable on
// disk.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc == nil || !s.dirty {
		return nil
	}

	// The same checks the loader applies; a document that would be
	// rejected on load must never reach disk.
	if dropped := s.repair(s.doc); dropped > 0 {
		s.log.Warn().Int("dropped", dropped).Msg("dropped malformed activity records before save")
	}

	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cache document: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".cache-*.json")
	if err != nil {
		return fmt.Errorf("creating temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp cache file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp cache file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("setting cache file mode: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing cache file: %w", err)
	}

	s.dirty = false
	return nil
}

// repair drops individual malformed activity records and reconciles the
// iteration order, leaving the rest of the document intact. It never
// fabricates data.
func (s *Store) repair(doc *Document) int {
	dropped := 0
	for k, a := range doc.Activities {
		if err := validActivityRecord(k, a); err != nil {
			s.log.Warn().Str("key", k).Err(err).Msg("dropping malformed activity record")
			delete(doc.Activities, k)
			dropped++
		}
	}

	// Order must reference exactly the surviving records, once each.
	seen := make(map[int64]bool, len(doc.Activities))
	order := doc.Order[:0]
	for _, id := range doc.Order {
		if doc.Get(id) != nil && !seen[id] {
			order = append(order, id)
			seen[id] = true
		}
	}
	for _, a := range doc.Activities {
		if !seen[a.ID] {
			order = append(order, a.ID)
			seen[a.ID] = true
		}
	}
	doc.Order = order
	return dropped
}

// validActivityRecord checks one stored record: key/id agreement, the
// structural invariants expressed as validate tags, and route sanity.
func validActivityRecord(k string, a *Activity) error {
	if a == nil {
		return errors.New("nil record")
	}
	id, err := strconv.ParseInt(k, 10, 64)
	if err != nil || id != a.ID {
		return fmt.Errorf("key %q does not match id %d", k, a.ID)
	}
	if err := validate.Struct(a); err != nil {
		return fmt.Errorf("invalid fields: %w", err)
	}
	return nil
}
