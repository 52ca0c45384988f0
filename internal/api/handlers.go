package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/couchpilot/couchpilot/internal/auth"
	"github.com/couchpilot/couchpilot/internal/models"
	"github.com/couchpilot/couchpilot/internal/state"
	couchsync "github.com/couchpilot/couchpilot/internal/sync"
)

type Handler struct {
	profiles *state.Profiles
	addons   *state.Addons
	plugins  *state.Plugins
	library  *state.Library
	progress *state.Progress
	watched  *state.Watched
	session  *auth.Session
	engine   *couchsync.Orchestrator
}

func NewHandler(
	profiles *state.Profiles,
	addons *state.Addons,
	plugins *state.Plugins,
	library *state.Library,
	progress *state.Progress,
	watched *state.Watched,
	session *auth.Session,
	engine *couchsync.Orchestrator,
) *Handler {
	return &Handler{
		profiles: profiles,
		addons:   addons,
		plugins:  plugins,
		library:  library,
		progress: progress,
		watched:  watched,
		session:  session,
		engine:   engine,
	}
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// RootHandler handles GET /
func (h *Handler) RootHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"name":    "CouchPilot",
		"version": "1.0.0",
	})
}

// HealthCheck handles GET /api/v1/health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"auth_state":   h.session.State().String(),
		"sync_running": h.engine.Running(),
	})
}

// --- Auth ---

// SignIn handles POST /api/v1/auth/login
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	if err := h.session.SignIn(r.Context(), req.Email, req.Password); err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"state": h.session.State().String()})
}

// SignOut handles POST /api/v1/auth/logout
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	h.session.SignOut()
	respondJSON(w, http.StatusOK, map[string]string{"state": h.session.State().String()})
}

// AuthStatus handles GET /api/v1/auth/status
func (h *Handler) AuthStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"state": h.session.State().String(),
	}
	if expiry := h.session.TokenExpiry(); !expiry.IsZero() {
		resp["token_expiry"] = expiry
	}
	respondJSON(w, http.StatusOK, resp)
}

// RefreshSession handles POST /api/v1/auth/refresh
func (h *Handler) RefreshSession(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Refresh(r.Context()); err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"state": h.session.State().String()})
}

// --- Sync ---

// SyncStatus handles GET /api/v1/sync/status
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"running":  h.engine.Running(),
		"services": h.engine.Status(),
	})
}

// TriggerSync handles POST /api/v1/sync/trigger
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if !h.engine.Running() {
		respondError(w, http.StatusConflict, "sync engine is not running")
		return
	}
	h.engine.TriggerCycle()
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

// --- Profiles ---

// ListProfiles handles GET /api/v1/profiles
func (h *Handler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"profiles":     h.profiles.List(),
		"active_scope": h.profiles.ActiveScopeID(),
	})
}

// UpsertProfile handles POST /api/v1/profiles
func (h *Handler) UpsertProfile(w http.ResponseWriter, r *http.Request) {
	var profile models.Profile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if profile.Index < 1 {
		respondError(w, http.StatusBadRequest, "profile index must be >= 1")
		return
	}
	if err := h.profiles.Upsert(profile); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.profiles.List())
}

// DeleteProfile handles DELETE /api/v1/profiles/{index}
func (h *Handler) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid profile index")
		return
	}
	if err := h.profiles.Remove(index); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.profiles.List())
}

// SelectProfile handles POST /api/v1/profiles/{index}/select
func (h *Handler) SelectProfile(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid profile index")
		return
	}
	if err := h.profiles.SetActiveScope(strconv.Itoa(index)); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"active_scope": h.profiles.ActiveScopeID()})
}

// SetProfilePIN handles PUT /api/v1/profiles/{index}/pin
func (h *Handler) SetProfilePIN(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid profile index")
		return
	}
	var req struct {
		PIN string `json:"pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.profiles.SetPIN(index, req.PIN); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CheckProfilePIN handles POST /api/v1/profiles/{index}/pin/check
func (h *Handler) CheckProfilePIN(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid profile index")
		return
	}
	var req struct {
		PIN string `json:"pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"valid": h.profiles.CheckPIN(index, req.PIN)})
}

// --- Addons ---

// ListAddons handles GET /api/v1/addons
func (h *Handler) ListAddons(w http.ResponseWriter, r *http.Request) {
	scope := h.profiles.AddonScopeID()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"scope":  scope,
		"addons": h.addons.ListForScope(scope),
	})
}

// ReplaceAddons handles PUT /api/v1/addons
func (h *Handler) ReplaceAddons(w http.ResponseWriter, r *http.Request) {
	var urls []string
	if err := json.NewDecoder(r.Body).Decode(&urls); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	scope := h.profiles.AddonScopeID()
	if err := h.addons.ReplaceForScope(scope, urls); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.addons.ListForScope(scope))
}

// AddAddon handles POST /api/v1/addons
func (h *Handler) AddAddon(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		respondError(w, http.StatusBadRequest, "url is required")
		return
	}
	scope := h.profiles.AddonScopeID()
	if err := h.addons.Add(req.URL, scope); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.addons.ListForScope(scope))
}

// DeleteAddon handles DELETE /api/v1/addons
func (h *Handler) DeleteAddon(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		respondError(w, http.StatusBadRequest, "url query parameter is required")
		return
	}
	scope := h.profiles.AddonScopeID()
	if err := h.addons.Remove(url, scope); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.addons.ListForScope(scope))
}

// --- Plugins ---

// ListPlugins handles GET /api/v1/plugins
func (h *Handler) ListPlugins(w http.ResponseWriter, r *http.Request) {
	scope := h.profiles.PluginScopeID()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"scope":   scope,
		"plugins": h.plugins.ListForScope(scope),
	})
}

// ReplacePlugins handles PUT /api/v1/plugins
func (h *Handler) ReplacePlugins(w http.ResponseWriter, r *http.Request) {
	var sources []models.PluginSource
	if err := json.NewDecoder(r.Body).Decode(&sources); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	scope := h.profiles.PluginScopeID()
	if err := h.plugins.ReplaceForScope(scope, sources); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.plugins.ListForScope(scope))
}

// UpsertPlugin handles POST /api/v1/plugins
func (h *Handler) UpsertPlugin(w http.ResponseWriter, r *http.Request) {
	var src models.PluginSource
	if err := json.NewDecoder(r.Body).Decode(&src); err != nil || src.URL == "" {
		respondError(w, http.StatusBadRequest, "plugin url is required")
		return
	}
	scope := h.profiles.PluginScopeID()
	if err := h.plugins.Upsert(src, scope); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.plugins.ListForScope(scope))
}

// DeletePlugin handles DELETE /api/v1/plugins
func (h *Handler) DeletePlugin(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		respondError(w, http.StatusBadRequest, "url query parameter is required")
		return
	}
	scope := h.profiles.PluginScopeID()
	if err := h.plugins.Remove(url, scope); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.plugins.ListForScope(scope))
}

// SetPluginEnabled handles PUT /api/v1/plugins/enabled
func (h *Handler) SetPluginEnabled(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL     string `json:"url"`
		Enabled bool   `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		respondError(w, http.StatusBadRequest, "plugin url is required")
		return
	}
	scope := h.profiles.PluginScopeID()
	if err := h.plugins.SetEnabled(req.URL, scope, req.Enabled); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.plugins.ListForScope(scope))
}

// --- Library ---

// ListLibrary handles GET /api/v1/library
func (h *Handler) ListLibrary(w http.ResponseWriter, r *http.Request) {
	scope := h.profiles.ActiveScopeID()
	respondJSON(w, http.StatusOK, h.library.ListForScope(scope))
}

// SaveLibraryItem handles POST /api/v1/library
func (h *Handler) SaveLibraryItem(w http.ResponseWriter, r *http.Request) {
	var item models.LibraryItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if item.ContentType == "" || item.ContentID == "" {
		respondError(w, http.StatusBadRequest, "content_type and content_id are required")
		return
	}
	scope := h.profiles.ActiveScopeID()
	if err := h.library.Upsert(item, scope); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// DeleteLibraryItem handles DELETE /api/v1/library
func (h *Handler) DeleteLibraryItem(w http.ResponseWriter, r *http.Request) {
	contentType := r.URL.Query().Get("type")
	contentID := r.URL.Query().Get("id")
	if contentType == "" || contentID == "" {
		respondError(w, http.StatusBadRequest, "type and id query parameters are required")
		return
	}
	scope := h.profiles.ActiveScopeID()
	key := contentType + ":" + contentID
	if err := h.library.Remove(key, scope); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// --- Progress ---

// ListProgress handles GET /api/v1/progress
func (h *Handler) ListProgress(w http.ResponseWriter, r *http.Request) {
	scope := h.profiles.ActiveScopeID()
	respondJSON(w, http.StatusOK, h.progress.ListForScope(scope))
}

// SaveProgress handles PUT /api/v1/progress. Crossing the completion
// threshold converts the entry into a watched item.
func (h *Handler) SaveProgress(w http.ResponseWriter, r *http.Request) {
	var entry models.ProgressEntry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if entry.ContentID == "" {
		respondError(w, http.StatusBadRequest, "content_id is required")
		return
	}
	scope := h.profiles.ActiveScopeID()
	completed, err := h.progress.Save(entry, scope)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if completed {
		item := models.WatchedItem{
			ContentID: entry.ContentID,
			Season:    entry.Season,
			Episode:   entry.Episode,
		}
		if err := h.watched.Upsert(item, scope); err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]bool{"completed": completed})
}

// DeleteProgress handles DELETE /api/v1/progress
func (h *Handler) DeleteProgress(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	contentID := q.Get("content_id")
	if contentID == "" {
		respondError(w, http.StatusBadRequest, "content_id query parameter is required")
		return
	}
	videoID := q.Get("video_id")
	if videoID == "" {
		videoID = "main"
	}
	season, _ := strconv.Atoi(q.Get("season"))
	episode, _ := strconv.Atoi(q.Get("episode"))

	entry := models.ProgressEntry{ContentID: contentID, VideoID: videoID, Season: season, Episode: episode}
	scope := h.profiles.ActiveScopeID()
	if err := h.progress.Remove(entry.Key(), scope); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// --- Watched ---

// ListWatched handles GET /api/v1/watched
func (h *Handler) ListWatched(w http.ResponseWriter, r *http.Request) {
	scope := h.profiles.ActiveScopeID()
	respondJSON(w, http.StatusOK, h.watched.ListForScope(scope))
}

// SaveWatched handles POST /api/v1/watched
func (h *Handler) SaveWatched(w http.ResponseWriter, r *http.Request) {
	var item models.WatchedItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if item.ContentID == "" {
		respondError(w, http.StatusBadRequest, "content_id is required")
		return
	}
	scope := h.profiles.ActiveScopeID()
	if err := h.watched.Upsert(item, scope); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// DeleteWatched handles DELETE /api/v1/watched
func (h *Handler) DeleteWatched(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	contentID := q.Get("content_id")
	if contentID == "" {
		respondError(w, http.StatusBadRequest, "content_id query parameter is required")
		return
	}
	season, _ := strconv.Atoi(q.Get("season"))
	episode, _ := strconv.Atoi(q.Get("episode"))

	item := models.WatchedItem{ContentID: contentID, Season: season, Episode: episode}
	scope := h.profiles.ActiveScopeID()
	if err := h.watched.Remove(item.Key(), scope); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}
