package state

import (
	"github.com/couchpilot/couchpilot/internal/models"
	"github.com/couchpilot/couchpilot/internal/storage"
)

// libraryCap bounds saved titles per scope; oldest entries fall off first.
const libraryCap = 2000

// Library is the saved-title store, a timestamped set keyed by
// (content type, content id).
type Library struct {
	store storage.Store
}

func NewLibrary(store storage.Store) *Library {
	return &Library{store: store}
}

func libraryKey(scope string) string   { return "library.scope." + scope }
func libraryDeleted(scope string) string { return "library.deleted.scope." + scope }

// ListForScope returns saved titles newest-first.
func (l *Library) ListForScope(scope string) []models.LibraryItem {
	items := loadList[models.LibraryItem](l.store, libraryKey(scope))
	sortByTsDesc(items, func(i models.LibraryItem) int64 { return i.UpdatedAt })
	return items
}

// ListAll returns saved titles across every scope that has data.
func (l *Library) ListAll() []models.LibraryItem {
	var all []models.LibraryItem
	for _, scope := range knownScopes(l.store, "library.scopes") {
		all = append(all, l.ListForScope(scope)...)
	}
	return all
}

// Upsert saves a title, keeping the newer entry on key collision and
// enforcing the per-scope cap.
func (l *Library) Upsert(item models.LibraryItem, scope string) error {
	if item.UpdatedAt == 0 {
		item.UpdatedAt = models.NowMs()
	}
	items := append(loadList[models.LibraryItem](l.store, libraryKey(scope)), item)
	return l.ReplaceForScope(scope, items)
}

// Remove drops a title and records a tombstone for the next push.
func (l *Library) Remove(key, scope string) error {
	items := loadList[models.LibraryItem](l.store, libraryKey(scope))
	out := items[:0]
	removed := false
	for _, existing := range items {
		if existing.Key() == key {
			removed = true
			continue
		}
		out = append(out, existing)
	}
	if !removed {
		return nil
	}
	addTombstone(l.store, libraryDeleted(scope), key)
	return saveList(l.store, libraryKey(scope), out)
}

// ReplaceForScope writes the full set, deduping by key (newest wins) and
// capping to libraryCap.
func (l *Library) ReplaceForScope(scope string, items []models.LibraryItem) error {
	key := func(i models.LibraryItem) string { return i.Key() }
	ts := func(i models.LibraryItem) int64 { return i.UpdatedAt }
	items = capOldest(dedupeByKey(items, key, ts), libraryCap, ts)
	sortByTsDesc(items, ts)
	rememberScope(l.store, "library.scopes", scope)
	return saveList(l.store, libraryKey(scope), items)
}

// Tombstones lists composite keys removed locally since the last push.
func (l *Library) Tombstones(scope string) []string {
	return loadList[string](l.store, libraryDeleted(scope))
}

// ClearTombstones forgets recorded removals after a successful push.
func (l *Library) ClearTombstones(scope string) {
	_ = l.store.Remove(libraryDeleted(scope))
}
