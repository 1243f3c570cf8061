package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tobyhaynes/strideline/internal/cache"
)

type fakeRefresher struct {
	ensureCalls  int
	triggerCalls int
	triggerOK    bool
}

func (f *fakeRefresher) EnsureReady(ctx context.Context) { f.ensureCalls++ }

func (f *fakeRefresher) TriggerManual() bool {
	f.triggerCalls++
	return f.triggerOK
}

func newTestServer(t *testing.T, seed int) (*Server, *cache.Store, *fakeRefresher) {
	t.Helper()

	store := cache.NewStore(filepath.Join(t.TempDir(), "cache.json"), zerolog.Nop())
	store.Reset()
	store.Update(func(doc *cache.Document) bool {
		now := time.Now()
		for i := 1; i <= seed; i++ {
			doc.UpsertSummary(cache.Summary{
				ID:             int64(i),
				Name:           "Morning Run",
				Type:           "Run",
				DistanceMeters: 5000,
				MovingTimeSec:  1500,
				ElapsedTimeSec: 1600,
				StartDate:      now.Add(-time.Duration(i) * time.Hour),
			}, now)
		}
		return seed > 0
	})

	ref := &fakeRefresher{triggerOK: true}
	srv := NewServer(ServerConfig{Addr: ":0"}, store, ref, nil, zerolog.Nop())
	return srv, store, ref
}

type fakeMirror struct {
	rows int
	err  error
}

func (m *fakeMirror) Count(ctx context.Context) (int, error) {
	return m.rows, m.err
}

func TestListActivities(t *testing.T) {
	srv, _, ref := newTestServer(t, 3)

	req := httptest.NewRequest(http.MethodGet, "/api/activities", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ref.ensureCalls != 1 {
		t.Errorf("EnsureReady calls = %d, want 1", ref.ensureCalls)
	}

	var resp activityListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Count != 3 {
		t.Errorf("count = %d, want 3", resp.Count)
	}
	if len(resp.Activities) != 3 {
		t.Errorf("activities = %d, want 3", len(resp.Activities))
	}
}

func TestGetActivity(t *testing.T) {
	srv, _, _ := newTestServer(t, 2)

	req := httptest.NewRequest(http.MethodGet, "/api/activities/2", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var activity cache.Activity
	if err := json.Unmarshal(rec.Body.Bytes(), &activity); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if activity.ID != 2 {
		t.Errorf("id = %d, want 2", activity.ID)
	}
}

func TestGetActivityNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t, 1)

	req := httptest.NewRequest(http.MethodGet, "/api/activities/99", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestGetActivityBadID(t *testing.T) {
	srv, _, _ := newTestServer(t, 1)

	req := httptest.NewRequest(http.MethodGet, "/api/activities/abc", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestRefreshAccepted(t *testing.T) {
	srv, _, ref := newTestServer(t, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/refresh", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	if ref.triggerCalls != 1 {
		t.Errorf("TriggerManual calls = %d, want 1", ref.triggerCalls)
	}
}

func TestRefreshAlreadyRunning(t *testing.T) {
	srv, _, ref := newTestServer(t, 0)
	ref.triggerOK = false

	req := httptest.NewRequest(http.MethodPost, "/api/refresh", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t, 1)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestHealthReportsMirrorRows(t *testing.T) {
	_, store, ref := newTestServer(t, 2)
	srv := NewServer(ServerConfig{Addr: ":0"}, store, ref, &fakeMirror{rows: 42}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.MirrorRows == nil || *resp.MirrorRows != 42 {
		t.Errorf("mirror_rows = %v, want 42", resp.MirrorRows)
	}
	if resp.Activities != 2 {
		t.Errorf("activities = %d, want 2", resp.Activities)
	}
}

func TestHealthToleratesMirrorFailure(t *testing.T) {
	_, store, ref := newTestServer(t, 1)
	srv := NewServer(ServerConfig{Addr: ":0"}, store, ref, &fakeMirror{err: context.DeadlineExceeded}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d despite mirror failure", rec.Code, http.StatusOK)
	}

	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.MirrorRows != nil {
		t.Errorf("mirror_rows = %v, want omitted on failure", *resp.MirrorRows)
	}
}

func TestHealthWarming(t *testing.T) {
	srv, _, _ := newTestServer(t, 0)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
