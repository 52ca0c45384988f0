package sync

import (
	"reflect"
	"testing"

	"github.com/couchpilot/couchpilot/internal/models"
)

func libItem(id string, ts int64, title string) models.LibraryItem {
	return models.LibraryItem{ContentType: "movie", ContentID: id, Title: title, UpdatedAt: ts}
}

func TestMergeTimestampedNewerWins(t *testing.T) {
	key := func(i models.LibraryItem) string { return i.Key() }
	ts := func(i models.LibraryItem) int64 { return i.UpdatedAt }

	local := []models.LibraryItem{libItem("a", 100, "old title")}
	remote := []models.LibraryItem{libItem("a", 200, "new title"), libItem("b", 50, "b")}

	merged := mergeTimestamped(local, remote, key, ts, remoteWins)
	if len(merged) != 2 {
		t.Fatalf("expected 2 items, got %d", len(merged))
	}
	if merged[0].Title != "new title" {
		t.Errorf("expected remote item with newer timestamp to win, got %q", merged[0].Title)
	}
	if merged[1].ContentID != "b" {
		t.Errorf("expected result sorted newest-first, got %q last", merged[1].ContentID)
	}
}

func TestMergeTimestampedLocalNewerKept(t *testing.T) {
	key := func(i models.LibraryItem) string { return i.Key() }
	ts := func(i models.LibraryItem) int64 { return i.UpdatedAt }

	local := []models.LibraryItem{libItem("a", 300, "local")}
	remote := []models.LibraryItem{libItem("a", 200, "remote")}

	merged := mergeTimestamped(local, remote, key, ts, remoteWins)
	if merged[0].Title != "local" {
		t.Errorf("local item with newer timestamp must survive, got %q", merged[0].Title)
	}
}

func TestMergeTimestampedTieRemoteWins(t *testing.T) {
	key := func(i models.LibraryItem) string { return i.Key() }
	ts := func(i models.LibraryItem) int64 { return i.UpdatedAt }

	local := []models.LibraryItem{libItem("a", 200, "local")}
	remote := []models.LibraryItem{libItem("a", 200, "remote")}

	merged := mergeTimestamped(local, remote, key, ts, remoteWins)
	if merged[0].Title != "remote" {
		t.Errorf("exact timestamp tie should keep the remote item, got %q", merged[0].Title)
	}
}

func TestMergeTimestampedIdempotent(t *testing.T) {
	key := func(i models.LibraryItem) string { return i.Key() }
	ts := func(i models.LibraryItem) int64 { return i.UpdatedAt }

	local := []models.LibraryItem{libItem("a", 100, "a"), libItem("b", 300, "b")}
	remote := []models.LibraryItem{libItem("a", 200, "a2")}

	once := mergeTimestamped(local, remote, key, ts, remoteWins)
	twice := mergeTimestamped(once, remote, key, ts, remoteWins)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("merging the same remote twice changed the result:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestFurthestProgressTieBreak(t *testing.T) {
	local := models.ProgressEntry{ContentID: "m", VideoID: "main", PositionMs: 45000, UpdatedAt: 100}
	remote := models.ProgressEntry{ContentID: "m", VideoID: "main", PositionMs: 30000, UpdatedAt: 100}

	key := func(e models.ProgressEntry) string { return e.Key() }
	ts := func(e models.ProgressEntry) int64 { return e.UpdatedAt }

	merged := mergeTimestamped([]models.ProgressEntry{local}, []models.ProgressEntry{remote}, key, ts, furthestProgress)
	if merged[0].PositionMs != 45000 {
		t.Errorf("expected furthest position 45000 to win the tie, got %d", merged[0].PositionMs)
	}
}

func TestMergeOrderedURLsEmptyRemotePreservesLocal(t *testing.T) {
	local := []string{"https://a.com", "https://b.com"}
	merged := mergeOrderedURLs(local, nil)
	if !reflect.DeepEqual(merged, local) {
		t.Errorf("empty remote must not erase local list, got %v", merged)
	}
}

func TestMergeOrderedURLsRemoteOrderFirst(t *testing.T) {
	local := []string{"https://a.com", "https://only-local.com"}
	remote := []string{"https://b.com", "https://a.com"}

	merged := mergeOrderedURLs(local, remote)
	want := []string{"https://b.com", "https://a.com", "https://only-local.com"}
	if !reflect.DeepEqual(merged, want) {
		t.Errorf("got %v, want %v", merged, want)
	}
}

func TestMergeOrderedPluginsKeepsLocalEnabledFlag(t *testing.T) {
	local := []models.PluginSource{
		{URL: "https://p1.com", Name: "p1", Enabled: false},
	}
	remote := []models.PluginSource{
		{URL: "https://p1.com", Name: "p1 renamed"},
		{URL: "https://p2.com", Name: "p2"},
	}

	merged := mergeOrderedPlugins(local, remote)
	if len(merged) != 2 {
		t.Fatalf("expected 2 plugins, got %d", len(merged))
	}
	if merged[0].Enabled {
		t.Errorf("locally disabled plugin must stay disabled after merge")
	}
	if merged[0].Name != "p1 renamed" {
		t.Errorf("remote name should win, got %q", merged[0].Name)
	}
	if !merged[1].Enabled {
		t.Errorf("a plugin new from remote defaults to enabled")
	}
}

func TestDropKeys(t *testing.T) {
	items := []models.WatchedItem{
		{ContentID: "a", Season: 1, Episode: 1},
		{ContentID: "b", Season: 0, Episode: 0},
	}
	key := func(i models.WatchedItem) string { return i.Key() }

	out := dropKeys(items, key, []string{"a:1:1"})
	if len(out) != 1 || out[0].ContentID != "b" {
		t.Errorf("tombstoned key should be filtered, got %+v", out)
	}
}
