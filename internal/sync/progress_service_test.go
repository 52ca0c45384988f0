package sync

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/couchpilot/couchpilot/internal/models"
	"github.com/couchpilot/couchpilot/internal/state"
	"github.com/couchpilot/couchpilot/internal/storage"
)

func TestSplitProgressKey(t *testing.T) {
	tests := []struct {
		key       string
		contentID string
		videoID   string
		season    int
		episode   int
		ok        bool
	}{
		{"tt123:main:0:0", "tt123", "main", 0, 0, true},
		{"tt123:vid:2:5", "tt123", "vid", 2, 5, true},
		// Video ids may themselves contain colons.
		{"tt123:ep:v2:1:4", "tt123", "ep:v2", 1, 4, true},
		{"tt123:main:x:1", "", "", 0, 0, false},
		{"tt123:main", "", "", 0, 0, false},
	}
	for _, tt := range tests {
		contentID, videoID, season, episode, ok := splitProgressKey(tt.key)
		if ok != tt.ok {
			t.Errorf("%q: ok = %v, want %v", tt.key, ok, tt.ok)
			continue
		}
		if !ok {
			continue
		}
		if contentID != tt.contentID || videoID != tt.videoID || season != tt.season || episode != tt.episode {
			t.Errorf("%q: got (%q, %q, %d, %d)", tt.key, contentID, videoID, season, episode)
		}
	}
}

func TestSplitWatchedKey(t *testing.T) {
	contentID, season, episode, ok := splitWatchedKey("tt123:2:7")
	if !ok || contentID != "tt123" || season != 2 || episode != 7 {
		t.Errorf("got (%q, %d, %d, %v)", contentID, season, episode, ok)
	}
	if _, _, _, ok := splitWatchedKey("tt123:2"); ok {
		t.Error("short key must be rejected")
	}
}

func TestSplitLibraryKey(t *testing.T) {
	contentType, contentID, ok := splitLibraryKey("movie:tt0111161")
	if !ok || contentType != "movie" || contentID != "tt0111161" {
		t.Errorf("got (%q, %q, %v)", contentType, contentID, ok)
	}
	if _, _, ok := splitLibraryKey("noseparator"); ok {
		t.Error("key without separator must be rejected")
	}
}

func TestProgressPullPrunesCompletedEntries(t *testing.T) {
	transport := &fakeTransport{
		callProcedure: func(ctx context.Context, name string, args any, sessionAuth bool) ([]byte, error) {
			if name != "progress_pull" {
				return nil, notFound()
			}
			return json.Marshal(map[string]any{
				"entries": []progressRow{
					{ContentID: "done", VideoID: "main", PositionMs: 98000, DurationMs: 100000, UpdatedAt: 100},
					{ContentID: "active", VideoID: "main", PositionMs: 40000, DurationMs: 100000, UpdatedAt: 100},
				},
			})
		},
	}
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	progress := state.NewProgress(store)
	svc := NewProgressService(transport, &fakeAuth{authenticated: true, ownerID: "owner-1"},
		&fakeScopes{scope: "1"}, progress, discardLogger())

	got := svc.Pull(context.Background())
	if len(got) != 1 || got[0].ContentID != "active" {
		t.Errorf("completed remote entries must be pruned, got %+v", got)
	}
}

func TestProgressPullRespectsTombstones(t *testing.T) {
	transport := &fakeTransport{
		callProcedure: func(ctx context.Context, name string, args any, sessionAuth bool) ([]byte, error) {
			if name != "progress_pull" {
				return nil, notFound()
			}
			return json.Marshal(map[string]any{
				"entries": []progressRow{
					{ContentID: "dismissed", VideoID: "main", PositionMs: 40000, DurationMs: 100000, UpdatedAt: 100},
				},
			})
		},
	}
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	progress := state.NewProgress(store)
	_ = progress.Upsert(models.ProgressEntry{ContentID: "dismissed", VideoID: "main", PositionMs: 1000, DurationMs: 100000, UpdatedAt: 50}, "1")
	_ = progress.Remove("dismissed:main:0:0", "1")

	svc := NewProgressService(transport, &fakeAuth{authenticated: true, ownerID: "owner-1"},
		&fakeScopes{scope: "1"}, progress, discardLogger())

	got := svc.Pull(context.Background())
	if len(got) != 0 {
		t.Errorf("a locally dismissed entry must not be resurrected by a pull, got %+v", got)
	}
}

func TestProgressPullLegacyTimestampPrecedence(t *testing.T) {
	updated := int64(0)
	lastWatched := int64(777)
	transport := &fakeTransport{
		selectRows: func(ctx context.Context, table, query string, sessionAuth bool) ([]byte, error) {
			if table != "watch_progress" {
				return nil, notFound()
			}
			return json.Marshal([]legacyProgressRow{
				{ContentID: "m", VideoID: "main", Position: 1000, Duration: 100000,
					UpdatedAt: &updated, LastWatched: &lastWatched},
			})
		},
	}
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	progress := state.NewProgress(store)
	svc := NewProgressService(transport, &fakeAuth{authenticated: true, ownerID: "owner-1"},
		&fakeScopes{scope: "1"}, progress, discardLogger())

	got := svc.Pull(context.Background())
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	// A zero updated_at falls through to the next timestamp column.
	if got[0].UpdatedAt != 777 {
		t.Errorf("expected last_watched fallback 777, got %d", got[0].UpdatedAt)
	}
}
