package state

import (
	"fmt"
	"testing"

	"github.com/couchpilot/couchpilot/internal/models"
)

func TestLibraryUpsertAndList(t *testing.T) {
	l := NewLibrary(newTestStore(t))

	_ = l.Upsert(models.LibraryItem{ContentType: "movie", ContentID: "a", Title: "A", UpdatedAt: 100}, "1")
	_ = l.Upsert(models.LibraryItem{ContentType: "movie", ContentID: "b", Title: "B", UpdatedAt: 200}, "1")

	items := l.ListForScope("1")
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].ContentID != "b" {
		t.Errorf("list must be newest-first, got %q first", items[0].ContentID)
	}
}

func TestLibraryDedupeKeepsNewest(t *testing.T) {
	l := NewLibrary(newTestStore(t))

	_ = l.ReplaceForScope("1", []models.LibraryItem{
		{ContentType: "movie", ContentID: "a", Title: "old", UpdatedAt: 100},
		{ContentType: "movie", ContentID: "a", Title: "new", UpdatedAt: 200},
	})
	items := l.ListForScope("1")
	if len(items) != 1 || items[0].Title != "new" {
		t.Errorf("duplicate keys must collapse keeping the newest, got %+v", items)
	}
}

func TestLibraryRemoveRecordsTombstone(t *testing.T) {
	l := NewLibrary(newTestStore(t))
	_ = l.Upsert(models.LibraryItem{ContentType: "movie", ContentID: "a", UpdatedAt: 100}, "1")

	if err := l.Remove("movie:a", "1"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if len(l.ListForScope("1")) != 0 {
		t.Error("item still listed after removal")
	}
	stones := l.Tombstones("1")
	if len(stones) != 1 || stones[0] != "movie:a" {
		t.Errorf("expected tombstone for movie:a, got %v", stones)
	}

	l.ClearTombstones("1")
	if len(l.Tombstones("1")) != 0 {
		t.Error("tombstones must clear after a successful push")
	}
}

func TestLibraryRemoveMissingNoTombstone(t *testing.T) {
	l := NewLibrary(newTestStore(t))
	if err := l.Remove("movie:never", "1"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if len(l.Tombstones("1")) != 0 {
		t.Error("removing a missing key must not record a tombstone")
	}
}

func TestLibraryCapDropsOldest(t *testing.T) {
	l := NewLibrary(newTestStore(t))

	items := make([]models.LibraryItem, 0, libraryCap+10)
	for i := 0; i < libraryCap+10; i++ {
		items = append(items, models.LibraryItem{
			ContentType: "movie",
			ContentID:   fmt.Sprintf("id-%d", i),
			UpdatedAt:   int64(i),
		})
	}
	_ = l.ReplaceForScope("1", items)

	got := l.ListForScope("1")
	if len(got) != libraryCap {
		t.Fatalf("expected cap at %d, got %d", libraryCap, len(got))
	}
	// The oldest 10 must be the ones dropped.
	if got[len(got)-1].UpdatedAt != 10 {
		t.Errorf("expected oldest surviving ts 10, got %d", got[len(got)-1].UpdatedAt)
	}
}

func TestLibraryScopeIsolation(t *testing.T) {
	l := NewLibrary(newTestStore(t))
	_ = l.Upsert(models.LibraryItem{ContentType: "movie", ContentID: "a", UpdatedAt: 1}, "1")
	_ = l.Upsert(models.LibraryItem{ContentType: "movie", ContentID: "b", UpdatedAt: 2}, "2")

	if len(l.ListForScope("1")) != 1 || len(l.ListForScope("2")) != 1 {
		t.Error("scopes must not share data")
	}
	if len(l.ListAll()) != 2 {
		t.Errorf("ListAll must cover every known scope, got %d", len(l.ListAll()))
	}
}
