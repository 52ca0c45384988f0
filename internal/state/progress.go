package state

import (
	"github.com/couchpilot/couchpilot/internal/models"
	"github.com/couchpilot/couchpilot/internal/storage"
)

// progressCap bounds progress entries per scope.
const progressCap = 1000

// Progress is the watch-progress store, keyed by
// (content id, video id, season, episode).
type Progress struct {
	store storage.Store
}

func NewProgress(store storage.Store) *Progress {
	return &Progress{store: store}
}

func progressKey(scope string) string     { return "progress.scope." + scope }
func progressDeleted(scope string) string { return "progress.deleted.scope." + scope }

// ListForScope returns progress entries newest-first.
func (p *Progress) ListForScope(scope string) []models.ProgressEntry {
	entries := loadList[models.ProgressEntry](p.store, progressKey(scope))
	sortByTsDesc(entries, func(e models.ProgressEntry) int64 { return e.UpdatedAt })
	return entries
}

// ListAll returns progress entries across every scope that has data.
func (p *Progress) ListAll() []models.ProgressEntry {
	var all []models.ProgressEntry
	for _, scope := range knownScopes(p.store, "progress.scopes") {
		all = append(all, p.ListForScope(scope)...)
	}
	return all
}

// Save records a playback position. Position is clamped to the duration, and
// an entry past the completion threshold is deleted rather than stored; the
// returned flag tells the caller to record a watched item instead.
func (p *Progress) Save(entry models.ProgressEntry, scope string) (completed bool, err error) {
	if entry.VideoID == "" {
		entry.VideoID = "main"
	}
	if entry.UpdatedAt == 0 {
		entry.UpdatedAt = models.NowMs()
	}
	if entry.DurationMs > 0 && entry.PositionMs > entry.DurationMs {
		entry.PositionMs = entry.DurationMs
	}
	if entry.Complete() {
		return true, p.Remove(entry.Key(), scope)
	}
	return false, p.Upsert(entry, scope)
}

// Upsert writes an entry, keeping the newer one on key collision.
func (p *Progress) Upsert(entry models.ProgressEntry, scope string) error {
	if entry.VideoID == "" {
		entry.VideoID = "main"
	}
	if entry.UpdatedAt == 0 {
		entry.UpdatedAt = models.NowMs()
	}
	entries := append(loadList[models.ProgressEntry](p.store, progressKey(scope)), entry)
	return p.ReplaceForScope(scope, entries)
}

// Remove drops an entry and records a tombstone for the next push. Used for
// explicit "mark as watched" / completion as well as manual dismissal.
func (p *Progress) Remove(key, scope string) error {
	entries := loadList[models.ProgressEntry](p.store, progressKey(scope))
	out := entries[:0]
	removed := false
	for _, existing := range entries {
		if existing.Key() == key {
			removed = true
			continue
		}
		out = append(out, existing)
	}
	if !removed {
		return nil
	}
	addTombstone(p.store, progressDeleted(scope), key)
	return saveList(p.store, progressKey(scope), out)
}

// ReplaceForScope writes the full set, deduping by key (newest wins) and
// capping to progressCap.
func (p *Progress) ReplaceForScope(scope string, entries []models.ProgressEntry) error {
	key := func(e models.ProgressEntry) string { return e.Key() }
	ts := func(e models.ProgressEntry) int64 { return e.UpdatedAt }
	entries = capOldest(dedupeByKey(entries, key, ts), progressCap, ts)
	sortByTsDesc(entries, ts)
	rememberScope(p.store, "progress.scopes", scope)
	return saveList(p.store, progressKey(scope), entries)
}

// Tombstones lists composite keys removed locally since the last push.
func (p *Progress) Tombstones(scope string) []string {
	return loadList[string](p.store, progressDeleted(scope))
}

// ClearTombstones forgets recorded removals after a successful push.
func (p *Progress) ClearTombstones(scope string) {
	_ = p.store.Remove(progressDeleted(scope))
}
