package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tobyhaynes/strideline/internal/cache"
)

// Refresher is the scheduler surface the handlers depend on.
type Refresher interface {
	// EnsureReady blocks until the cache can serve reads or the context
	// expires.
	EnsureReady(ctx context.Context)

	// TriggerManual requests a refresh run. It reports false when a run
	// is already in progress or queued.
	TriggerManual() bool
}

// Mirror reports on the optional downstream activity mirror. Nil means
// no mirror is configured.
type Mirror interface {
	Count(ctx context.Context) (int, error)
}

// Handlers contains the HTTP handlers for the activity API.
type Handlers struct {
	store  *cache.Store
	sched  Refresher
	mirror Mirror
	log    zerolog.Logger
}

// NewHandlers creates a new Handlers instance. mirror may be nil.
func NewHandlers(store *cache.Store, sched Refresher, mirror Mirror, log zerolog.Logger) *Handlers {
	return &Handlers{store: store, sched: sched, mirror: mirror, log: log}
}

type activityListResponse struct {
	Count         int               `json:"count"`
	LastRefreshAt time.Time         `json:"last_refresh_at"`
	Activities    []*cache.Activity `json:"activities"`
}

type refreshResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ListActivities serves GET /api/activities.
func (h *Handlers) ListActivities(w http.ResponseWriter, r *http.Request) {
	h.sched.EnsureReady(r.Context())

	doc := h.store.Snapshot()
	if doc == nil {
		h.writeError(w, http.StatusServiceUnavailable, "cache not ready")
		return
	}

	h.writeJSON(w, http.StatusOK, activityListResponse{
		Count:         doc.Len(),
		LastRefreshAt: doc.LastRefreshAt,
		Activities:    doc.All(),
	})
}

// GetActivity serves GET /api/activities/{id}.
func (h *Handlers) GetActivity(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid activity id")
		return
	}

	h.sched.EnsureReady(r.Context())

	activity, ok := h.store.Get(id)
	if !ok {
		h.writeError(w, http.StatusNotFound, "activity not found")
		return
	}
	h.writeJSON(w, http.StatusOK, activity)
}

// Refresh serves POST /api/refresh.
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	if h.sched.TriggerManual() {
		h.writeJSON(w, http.StatusAccepted, refreshResponse{Status: "accepted"})
		return
	}
	h.writeJSON(w, http.StatusConflict, refreshResponse{Status: "already running"})
}

type healthResponse struct {
	Status        string    `json:"status"`
	Activities    int       `json:"activities"`
	LastRefreshAt time.Time `json:"last_refresh_at"`
	MirrorRows    *int      `json:"mirror_rows,omitempty"`
}

// Health serves GET /healthz.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		Activities:    h.store.Snapshot().Len(),
		LastRefreshAt: h.store.LastRefreshAt(),
	}
	code := http.StatusOK
	if !h.store.Ready() {
		resp.Status = "warming"
		code = http.StatusServiceUnavailable
	}

	// The mirror row count is informational; an unreachable database
	// does not make the service unhealthy.
	if h.mirror != nil {
		if n, err := h.mirror.Count(r.Context()); err != nil {
			h.log.Warn().Err(err).Msg("mirror count failed")
		} else {
			resp.MirrorRows = &n
		}
	}

	h.writeJSON(w, code, resp)
}

func (h *Handlers) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("encoding response")
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, code int, msg string) {
	h.writeJSON(w, code, errorResponse{Error: msg})
}
