package models

import "testing"

func TestCanonicalAddonURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://addon.example/manifest.json", "https://addon.example"},
		{"https://addon.example/", "https://addon.example"},
		{"https://addon.example", "https://addon.example"},
		{"  https://addon.example/sub/manifest.json  ", "https://addon.example/sub"},
		{"https://addon.example//", "https://addon.example"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CanonicalAddonURL(tt.in); got != tt.want {
			t.Errorf("CanonicalAddonURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestProgressEntryKeyDefaultsVideoID(t *testing.T) {
	e := ProgressEntry{ContentID: "tt123", Season: 2, Episode: 5}
	if got := e.Key(); got != "tt123:main:2:5" {
		t.Errorf("got %q", got)
	}
}

func TestProgressEntryComplete(t *testing.T) {
	tests := []struct {
		name     string
		position int64
		duration int64
		want     bool
	}{
		{"below threshold", 94, 100, false},
		{"at threshold", 95, 100, true},
		{"above threshold", 100, 100, true},
		{"zero duration never completes", 100, 0, false},
	}
	for _, tt := range tests {
		e := ProgressEntry{PositionMs: tt.position, DurationMs: tt.duration}
		if got := e.Complete(); got != tt.want {
			t.Errorf("%s: Complete() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestLibraryItemKey(t *testing.T) {
	item := LibraryItem{ContentType: "movie", ContentID: "tt0111161"}
	if got := item.Key(); got != "movie:tt0111161" {
		t.Errorf("got %q", got)
	}
}

func TestWatchedItemKey(t *testing.T) {
	item := WatchedItem{ContentID: "tt123", Season: 1, Episode: 3}
	if got := item.Key(); got != "tt123:1:3" {
		t.Errorf("got %q", got)
	}
}

func TestProfileScopeID(t *testing.T) {
	p := Profile{Index: 3}
	if got := p.ScopeID(); got != "3" {
		t.Errorf("got %q", got)
	}
}
