package state

import (
	"github.com/couchpilot/couchpilot/internal/models"
	"github.com/couchpilot/couchpilot/internal/storage"
)

// watchedCap bounds watched-item history per scope.
const watchedCap = 2000

// Watched is the watched-item history store, keyed by
// (content id, season, episode).
type Watched struct {
	store storage.Store
}

func NewWatched(store storage.Store) *Watched {
	return &Watched{store: store}
}

func watchedKey(scope string) string     { return "watched.scope." + scope }
func watchedDeleted(scope string) string { return "watched.deleted.scope." + scope }

// ListForScope returns watched items newest-first.
func (w *Watched) ListForScope(scope string) []models.WatchedItem {
	items := loadList[models.WatchedItem](w.store, watchedKey(scope))
	sortByTsDesc(items, func(i models.WatchedItem) int64 { return i.WatchedAt })
	return items
}

// ListAll returns watched items across every scope that has data.
func (w *Watched) ListAll() []models.WatchedItem {
	var all []models.WatchedItem
	for _, scope := range knownScopes(w.store, "watched.scopes") {
		all = append(all, w.ListForScope(scope)...)
	}
	return all
}

// Upsert records a watched item, keeping the newer entry on key collision.
func (w *Watched) Upsert(item models.WatchedItem, scope string) error {
	if item.WatchedAt == 0 {
		item.WatchedAt = models.NowMs()
	}
	items := append(loadList[models.WatchedItem](w.store, watchedKey(scope)), item)
	return w.ReplaceForScope(scope, items)
}

// Remove drops an item and records a tombstone for the next push.
func (w *Watched) Remove(key, scope string) error {
	items := loadList[models.WatchedItem](w.store, watchedKey(scope))
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
	addTombstone(w.store, watchedDeleted(scope), key)
	return saveList(w.store, watchedKey(scope), out)
}

// ReplaceForScope writes the full set, deduping by key (newest wins) and
// capping to watchedCap.
func (w *Watched) ReplaceForScope(scope string, items []models.WatchedItem) error {
	key := func(i models.WatchedItem) string { return i.Key() }
	ts := func(i models.WatchedItem) int64 { return i.WatchedAt }
	items = capOldest(dedupeByKey(items, key, ts), watchedCap, ts)
	sortByTsDesc(items, ts)
	rememberScope(w.store, "watched.scopes", scope)
	return saveList(w.store, watchedKey(scope), items)
}

// Tombstones lists composite keys removed locally since the last push.
func (w *Watched) Tombstones(scope string) []string {
	return loadList[string](w.store, watchedDeleted(scope))
}

// ClearTombstones forgets recorded removals after a successful push.
func (w *Watched) ClearTombstones(scope string) {
	_ = w.store.Remove(watchedDeleted(scope))
}
