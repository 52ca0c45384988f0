// Package state holds the device-authoritative entity stores. Every store is
// a thin layer over the key-value device store: each operation is a single
// synchronous read-modify-write, so no store needs its own locking beyond
// what the storage driver provides.
package state

import (
	"encoding/json"
	"sort"

	"github.com/couchpilot/couchpilot/internal/storage"
)

// loadList reads a JSON-encoded slice. Missing or corrupt values degrade to
// an empty slice so a bad store never surfaces as an error to the UI.
func loadList[T any](s storage.Store, key string) []T {
	raw := s.Get(key, "")
	if raw == "" {
		return nil
	}
	var items []T
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil
	}
	return items
}

func saveList[T any](s storage.Store, key string, items []T) error {
	if items == nil {
		items = []T{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return s.Set(key, string(raw))
}

// dedupeByKey collapses duplicate composite keys, keeping the entry with the
// greatest timestamp. First-seen order is preserved for the survivors.
func dedupeByKey[T any](items []T, key func(T) string, ts func(T) int64) []T {
	index := make(map[string]int, len(items))
	out := make([]T, 0, len(items))
	for _, item := range items {
		k := key(item)
		if at, ok := index[k]; ok {
			if ts(item) > ts(out[at]) {
				out[at] = item
			}
			continue
		}
		index[k] = len(out)
		out = append(out, item)
	}
	return out
}

// capOldest drops the oldest entries beyond limit.
func capOldest[T any](items []T, limit int, ts func(T) int64) []T {
	if limit <= 0 || len(items) <= limit {
		return items
	}
	sortByTsDesc(items, ts)
	return items[:limit]
}

func sortByTsDesc[T any](items []T, ts func(T) int64) {
	sort.SliceStable(items, func(i, j int) bool {
		return ts(items[i]) > ts(items[j])
	})
}

// rememberScope records that a scope has data under this store so ListAll can
// enumerate it later. The key-value store has no key scan.
func rememberScope(s storage.Store, scopesKey, scope string) {
	scopes := loadList[string](s, scopesKey)
	for _, known := range scopes {
		if known == scope {
			return
		}
	}
	scopes = append(scopes, scope)
	_ = saveList(s, scopesKey, scopes)
}

func knownScopes(s storage.Store, scopesKey string) []string {
	return loadList[string](s, scopesKey)
}

// tombstone bookkeeping: composite keys removed locally since the last
// successful push, so the push can delete them remotely.
func addTombstone(s storage.Store, key, compositeKey string) {
	stones := loadList[string](s, key)
	for _, existing := range stones {
		if existing == compositeKey {
			return
		}
	}
	stones = append(stones, compositeKey)
	_ = saveList(s, key, stones)
}
