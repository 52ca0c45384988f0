package sync

import (
	"sort"

	"github.com/couchpilot/couchpilot/internal/models"
)

// mergeTimestamped is the one generic merge for timestamped-set entities:
// union by composite key, strictly greater timestamp wins a collision, and
// the per-entity tie comparator decides exact-timestamp ties. The result is
// sorted descending by timestamp for "recent" lists.
func mergeTimestamped[T any](local, remote []T, key func(T) string, ts func(T) int64, tie func(local, remote T) T) []T {
	index := make(map[string]int, len(local))
	out := make([]T, 0, len(local)+len(remote))
	for _, item := range local {
		index[key(item)] = len(out)
		out = append(out, item)
	}
	for _, item := range remote {
		at, ok := index[key(item)]
		if !ok {
			index[key(item)] = len(out)
			out = append(out, item)
			continue
		}
		switch {
		case ts(item) > ts(out[at]):
			out[at] = item
		case ts(item) == ts(out[at]):
			out[at] = tie(out[at], item)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return ts(out[i]) > ts(out[j])
	})
	return out
}

// remoteWins is the default tie comparator: on an exact timestamp tie the
// remote-sourced item is kept.
func remoteWins[T any](_, remote T) T {
	return remote
}

// furthestProgress is the watch-progress tie comparator: on an exact
// timestamp tie the entry with the larger playback position wins.
func furthestProgress(local, remote models.ProgressEntry) models.ProgressEntry {
	if local.PositionMs > remote.PositionMs {
		return local
	}
	return remote
}

// mergeOrderedURLs merges ordered-list entities keyed by URL. An empty remote
// list never erases a populated local one (a newly provisioned backend has no
// rows yet). Otherwise remote order comes first and local-only keys are
// appended after all remote keys, keeping their relative order.
func mergeOrderedURLs(local, remote []string) []string {
	if len(remote) == 0 {
		return local
	}
	seen := make(map[string]bool, len(remote))
	out := make([]string, 0, len(remote)+len(local))
	for _, url := range remote {
		if url == "" || seen[url] {
			continue
		}
		seen[url] = true
		out = append(out, url)
	}
	for _, url := range local {
		if url == "" || seen[url] {
			continue
		}
		seen[url] = true
		out = append(out, url)
	}
	return out
}

// mergeOrderedPlugins is the plugin variant of the ordered merge: remote
// rows carry URL and name, while the enabled flag is device-local metadata
// carried over from the matching local entry.
func mergeOrderedPlugins(local, remote []models.PluginSource) []models.PluginSource {
	if len(remote) == 0 {
		return local
	}
	byURL := make(map[string]models.PluginSource, len(local))
	for _, src := range local {
		byURL[src.URL] = src
	}
	seen := make(map[string]bool, len(remote))
	out := make([]models.PluginSource, 0, len(remote)+len(local))
	for _, src := range remote {
		if src.URL == "" || seen[src.URL] {
			continue
		}
		seen[src.URL] = true
		if existing, ok := byURL[src.URL]; ok {
			src.Enabled = existing.Enabled
		} else {
			src.Enabled = true
		}
		out = append(out, src)
	}
	for _, src := range local {
		if src.URL == "" || seen[src.URL] {
			continue
		}
		seen[src.URL] = true
		out = append(out, src)
	}
	return out
}

// dropKeys filters out items whose composite key is in the exclusion set.
// Used to keep locally deleted entries from being resurrected by a pull that
// lands before the deletion has been pushed.
func dropKeys[T any](items []T, key func(T) string, excluded []string) []T {
	if len(excluded) == 0 {
		return items
	}
	drop := make(map[string]bool, len(excluded))
	for _, k := range excluded {
		drop[k] = true
	}
	out := items[:0]
	for _, item := range items {
		if !drop[key(item)] {
			out = append(out, item)
		}
	}
	return out
}
