package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/neexbeast/culturalcompass/internal/discovery"
	"github.com/neexbeast/culturalcompass/internal/geo"
)

const maxBodyBytes = 1 << 20

// Handlers holds the dependencies for all HTTP handlers.
type Handlers struct {
	sessions  *Registry
	favorites FavoriteStore
	log       *slog.Logger
}

// NewHandlers constructs Handlers with all required dependencies.
func NewHandlers(sessions *Registry, favorites FavoriteStore, log *slog.Logger) *Handlers {
	return &Handlers{
		sessions:  sessions,
		favorites: favorites,
		log:       log,
	}
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding request body: %w", err)
	}
	return nil
}

// ---- sessions ----

type createSessionRequest struct {
	UserID     string          `json:"user_id"`
	Categories []string        `json:"categories"`
	Sort       string          `json:"sort"`
	Location   *geo.Coordinate `json:"location,omitempty"`
}

type sessionResponse struct {
	ID             string              `json:"id"`
	UserID         string              `json:"user_id"`
	State          discovery.State     `json:"state"`
	Seq            uint64              `json:"seq"`
	FollowLocation bool                `json:"follow_location"`
	Categories     []string            `json:"categories"`
	Sort           discovery.SortMode  `json:"sort"`
	LastFetch      *geo.Coordinate     `json:"last_fetch,omitempty"`
	Snapshot       *discovery.Snapshot `json:"snapshot,omitempty"`
}

// CreateSession handles POST /api/v1/sessions.
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	filter, err := discovery.NewCategoryFilter(req.Categories...)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mode, err := discovery.ParseSortMode(req.Sort)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Location != nil && !req.Location.Valid() {
		writeError(w, http.StatusBadRequest, "location is out of range")
		return
	}

	id, s := h.sessions.Create(req.UserID, discovery.NewFetchState(filter, mode))
	if req.Location != nil {
		if err := s.UpdateLocation(*req.Location); err != nil {
			h.log.Warn("initial location rejected", "session", id, "err", err)
		}
	}

	w.Header().Set("Location", "/api/v1/sessions/"+id)
	writeJSON(w, http.StatusCreated, map[string]string{"id": id, "user_id": req.UserID})
}

// GetSession handles GET /api/v1/sessions/{id}.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, ok := h.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	st, err := s.Status()
	if err != nil {
		h.sessionError(w, id, err)
		return
	}

	resp := sessionResponse{
		ID:             id,
		UserID:         s.UserID(),
		State:          st.State,
		Seq:            st.Seq,
		FollowLocation: st.Fetch.FollowLocation,
		Categories:     st.Fetch.Filter.IncludedCategoryKeys(),
		Sort:           st.Fetch.Sort,
	}
	if st.Fetch.HasLastFetch {
		lf := st.Fetch.LastFetch
		resp.LastFetch = &lf
	}
	resp.Snapshot = st.Latest
	writeJSON(w, http.StatusOK, resp)
}

// DeleteSession handles DELETE /api/v1/sessions/{id}.
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if !h.sessions.Remove(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateLocation handles POST /api/v1/sessions/{id}/location.
func (h *Handlers) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	h.withCoordinate(w, r, (*discovery.Session).UpdateLocation)
}

// SearchAt handles POST /api/v1/sessions/{id}/search.
func (h *Handlers) SearchAt(w http.ResponseWriter, r *http.Request) {
	h.withCoordinate(w, r, (*discovery.Session).SearchAt)
}

// ResumeFollow handles POST /api/v1/sessions/{id}/follow.
func (h *Handlers) ResumeFollow(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, (*discovery.Session).ResumeFollow)
}

// Refresh handles POST /api/v1/sessions/{id}/refresh.
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, (*discovery.Session).Refresh)
}

type filterRequest struct {
	Categories *[]string `json:"categories"`
}

// SetFilter handles PUT /api/v1/sessions/{id}/filter. An empty list disables
// every category; ["all"] enables them all.
func (h *Handlers) SetFilter(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Categories == nil {
		writeError(w, http.StatusBadRequest, "categories is required")
		return
	}

	var filter discovery.CategoryFilter
	if len(*req.Categories) > 0 {
		f, err := discovery.NewCategoryFilter(*req.Categories...)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter = f
	}

	h.withSession(w, r, func(s *discovery.Session) error { return s.SetFilter(filter) })
}

type sortRequest struct {
	Sort string `json:"sort"`
}

// SetSort handles PUT /api/v1/sessions/{id}/sort.
func (h *Handlers) SetSort(w http.ResponseWriter, r *http.Request) {
	var req sortRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	mode, err := discovery.ParseSortMode(req.Sort)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.withSession(w, r, func(s *discovery.Session) error { return s.SetSort(mode) })
}

func (h *Handlers) withCoordinate(w http.ResponseWriter, r *http.Request, op func(*discovery.Session, geo.Coordinate) error) {
	var c geo.Coordinate
	if err := decodeJSON(w, r, &c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	h.withSession(w, r, func(s *discovery.Session) error { return op(s, c) })
}

// withSession runs op against the session named in the URL and answers 202:
// the effect shows up in the session's snapshot stream.
func (h *Handlers) withSession(w http.ResponseWriter, r *http.Request, op func(*discovery.Session) error) {
	id := chi.URLParam(r, "id")
	s, ok := h.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err := op(s); err != nil {
		h.sessionError(w, id, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *Handlers) sessionError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, geo.ErrInvalidCoordinate):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, discovery.ErrSessionClosed):
		writeError(w, http.StatusGone, "session closed")
	default:
		h.log.Error("session operation failed", "session", id, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// ---- favorites ----

// ListFavorites handles GET /api/v1/users/{user}/favorites[?category=].
func (h *Handlers) ListFavorites(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	category := strings.TrimSpace(r.URL.Query().Get("category"))
	if category != "" && !discovery.KnownCategory(category) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown category %q", category))
		return
	}

	favs, err := h.favorites.ListFavorites(r.Context(), user, category)
	if err != nil {
		h.log.Error("list favorites failed", "user", user, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, favs)
}

// GetFavorite handles GET /api/v1/users/{user}/favorites/{placeID}.
func (h *Handlers) GetFavorite(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	placeID := chi.URLParam(r, "placeID")

	rec, err := h.favorites.GetFavorite(r.Context(), user, placeID)
	if err != nil {
		h.log.Error("get favorite failed", "user", user, "place", placeID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "favorite not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// PutFavorite handles PUT /api/v1/users/{user}/favorites/{placeID}.
// The body is the attraction snapshot to keep.
func (h *Handlers) PutFavorite(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	placeID := chi.URLParam(r, "placeID")

	var a discovery.Attraction
	if err := decodeJSON(w, r, &a); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if a.ID != "" && a.ID != placeID {
		writeError(w, http.StatusBadRequest, "attraction id does not match URL")
		return
	}
	if !a.Location.Valid() {
		writeError(w, http.StatusBadRequest, "attraction location is out of range")
		return
	}

	if err := h.favorites.SetFavorite(r.Context(), user, placeID, &a); err != nil {
		h.log.Error("set favorite failed", "user", user, "place", placeID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to store favorite")
		return
	}
	h.sessions.NotifyFavorite(user, placeID, true)

	rec, err := h.favorites.GetFavorite(r.Context(), user, placeID)
	if err != nil || rec == nil {
		if err != nil {
			h.log.Warn("reading back favorite failed", "user", user, "place", placeID, "err", err)
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DeleteFavorite handles DELETE /api/v1/users/{user}/favorites/{placeID}.
func (h *Handlers) DeleteFavorite(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	placeID := chi.URLParam(r, "placeID")

	if err := h.favorites.SetFavorite(r.Context(), user, placeID, nil); err != nil {
		h.log.Error("delete favorite failed", "user", user, "place", placeID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to delete favorite")
		return
	}
	h.sessions.NotifyFavorite(user, placeID, false)
	w.WriteHeader(http.StatusNoContent)
}

// ---- health ----

// HealthCheck is one dependency probed by the health endpoint. A failing
// non-critical check reports degraded but keeps the endpoint at 200.
type HealthCheck struct {
	Name     string
	Pinger   pinger
	Critical bool
}

// HealthHandlerFunc returns an http.HandlerFunc that probes every check.
// Any failing critical check answers 503.
func HealthHandlerFunc(checks []HealthCheck, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		overall := "ok"
		body := map[string]string{}

		for _, c := range checks {
			body[c.Name] = "ok"
			if sr, ok := c.Pinger.(stateReporter); ok {
				body[c.Name+"_state"] = sr.State()
			}
			if err := c.Pinger.Ping(ctx); err != nil {
				log.Error("health check failed", "check", c.Name, "err", err)
				body[c.Name] = "error"
				overall = "degraded"
				if c.Critical {
					status = http.StatusServiceUnavailable
				}
			}
		}

		body["status"] = overall
		writeJSON(w, status, body)
	}
}
