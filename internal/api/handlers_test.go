package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/couchpilot/couchpilot/internal/auth"
	"github.com/couchpilot/couchpilot/internal/state"
	"github.com/couchpilot/couchpilot/internal/storage"
	couchsync "github.com/couchpilot/couchpilot/internal/sync"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	session := auth.NewSession(store, "http://127.0.0.1:1", "pub")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := couchsync.NewOrchestrator(nil, nil, nil, couchsync.OrchestratorConfig{
		Interval: time.Hour,
	}, logger)

	handler := NewHandler(
		state.NewProfiles(store),
		state.NewAddons(store),
		state.NewPlugins(store),
		state.NewLibrary(store),
		state.NewProgress(store),
		state.NewWatched(store),
		session,
		engine,
	)
	return SetupRoutes(handler)
}

func doRequest(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	router := newTestHandler(t)
	rec := doRequest(t, router, "GET", "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if resp["status"] != "ok" || resp["auth_state"] != "signed_out" {
		t.Errorf("unexpected response %v", resp)
	}
}

func TestProfilesEndpoints(t *testing.T) {
	router := newTestHandler(t)

	rec := doRequest(t, router, "POST", "/api/v1/profiles", `{"index":2,"name":"Kids","avatar_color":"#00FF00"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert status %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, router, "GET", "/api/v1/profiles", "")
	var listResp struct {
		Profiles    []map[string]any `json:"profiles"`
		ActiveScope string           `json:"active_scope"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if len(listResp.Profiles) != 2 {
		t.Fatalf("expected default + new profile, got %d", len(listResp.Profiles))
	}

	rec = doRequest(t, router, "POST", "/api/v1/profiles/2/select", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("select status %d", rec.Code)
	}

	rec = doRequest(t, router, "DELETE", "/api/v1/profiles/1", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("deleting the primary profile must fail, got %d", rec.Code)
	}

	rec = doRequest(t, router, "DELETE", "/api/v1/profiles/2", "")
	if rec.Code != http.StatusOK {
		t.Errorf("delete status %d", rec.Code)
	}
}

func TestProfilePINEndpoints(t *testing.T) {
	router := newTestHandler(t)

	rec := doRequest(t, router, "PUT", "/api/v1/profiles/1/pin", `{"pin":"1234"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("set pin status %d", rec.Code)
	}

	rec = doRequest(t, router, "POST", "/api/v1/profiles/1/pin/check", `{"pin":"1234"}`)
	var resp map[string]bool
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp["valid"] {
		t.Error("correct PIN reported invalid")
	}

	rec = doRequest(t, router, "POST", "/api/v1/profiles/1/pin/check", `{"pin":"0000"}`)
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["valid"] {
		t.Error("wrong PIN reported valid")
	}
}

func TestAddonEndpoints(t *testing.T) {
	router := newTestHandler(t)

	rec := doRequest(t, router, "POST", "/api/v1/addons", `{"url":"https://cinemeta.example/manifest.json"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("add status %d: %s", rec.Code, rec.Body.String())
	}
	var urls []string
	_ = json.Unmarshal(rec.Body.Bytes(), &urls)
	if len(urls) != 1 || urls[0] != "https://cinemeta.example" {
		t.Errorf("expected canonicalized url, got %v", urls)
	}

	rec = doRequest(t, router, "DELETE", "/api/v1/addons?url=https%3A%2F%2Fcinemeta.example", "")
	_ = json.Unmarshal(rec.Body.Bytes(), &urls)
	if len(urls) != 0 {
		t.Errorf("expected empty list after delete, got %v", urls)
	}
}

func TestProgressCompletionCreatesWatched(t *testing.T) {
	router := newTestHandler(t)

	rec := doRequest(t, router, "PUT", "/api/v1/progress",
		`{"content_id":"tt1","season":1,"episode":2,"position_ms":97000,"duration_ms":100000}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("save status %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]bool
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp["completed"] {
		t.Fatal("97% must complete")
	}

	rec = doRequest(t, router, "GET", "/api/v1/watched", "")
	var watched []map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &watched)
	if len(watched) != 1 {
		t.Errorf("completion must record a watched item, got %v", watched)
	}

	rec = doRequest(t, router, "GET", "/api/v1/progress", "")
	var progress []map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &progress)
	if len(progress) != 0 {
		t.Errorf("completed progress must not be listed, got %v", progress)
	}
}

func TestSyncTriggerWhileStopped(t *testing.T) {
	router := newTestHandler(t)
	rec := doRequest(t, router, "POST", "/api/v1/sync/trigger", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("triggering a stopped engine must conflict, got %d", rec.Code)
	}
}
