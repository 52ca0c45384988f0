package models

import (
	"fmt"
	"strings"
	"time"
)

// Profile represents a device profile. Profile 1 is the primary profile and
// owns the shared addon/plugin scope; secondary profiles may opt into it.
type Profile struct {
	Index              int    `json:"index"`
	Name               string `json:"name"`
	AvatarColor        string `json:"avatar_color"`
	IsPrimary          bool   `json:"is_primary"`
	UsesPrimaryAddons  bool   `json:"uses_primary_addons"`
	UsesPrimaryPlugins bool   `json:"uses_primary_plugins"`
	PinHash            string `json:"pin_hash,omitempty"`
}

// ScopeID returns the scope identifier owned by this profile.
func (p Profile) ScopeID() string {
	return fmt.Sprintf("%d", p.Index)
}

// PluginSource represents an installed plugin catalog source.
type PluginSource struct {
	URL     string `json:"url"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// LibraryItem is a saved title. Keyed by (content type, content id) within a scope.
type LibraryItem struct {
	ContentType string   `json:"content_type"` // movie | series
	ContentID   string   `json:"content_id"`
	Title       string   `json:"title"`
	Poster      string   `json:"poster,omitempty"`
	Background  string   `json:"background,omitempty"`
	Description string   `json:"description,omitempty"`
	ReleaseInfo string   `json:"release_info,omitempty"`
	Rating      float64  `json:"rating,omitempty"`
	Genres      []string `json:"genres,omitempty"`
	OriginURL   string   `json:"origin_url,omitempty"`
	UpdatedAt   int64    `json:"updated_at"` // ms epoch
}

// Key returns the composite key unique within a scope.
func (l LibraryItem) Key() string {
	return l.ContentType + ":" + l.ContentID
}

// ProgressEntry records playback position for one video.
// VideoID is "main" for single-video content.
type ProgressEntry struct {
	ContentID  string `json:"content_id"`
	VideoID    string `json:"video_id"`
	Season     int    `json:"season"`
	Episode    int    `json:"episode"`
	PositionMs int64  `json:"position_ms"`
	DurationMs int64  `json:"duration_ms"`
	UpdatedAt  int64  `json:"updated_at"` // ms epoch
}

// Key returns the composite key unique within a scope.
func (p ProgressEntry) Key() string {
	video := p.VideoID
	if video == "" {
		video = "main"
	}
	return fmt.Sprintf("%s:%s:%d:%d", p.ContentID, video, p.Season, p.Episode)
}

// Complete reports whether playback passed the completion threshold (95%).
func (p ProgressEntry) Complete() bool {
	return p.DurationMs > 0 && p.PositionMs*100 >= p.DurationMs*95
}

// WatchedItem marks one title or episode as seen.
type WatchedItem struct {
	ContentID string `json:"content_id"`
	Season    int    `json:"season"`
	Episode   int    `json:"episode"`
	Title     string `json:"title,omitempty"`
	WatchedAt int64  `json:"watched_at"` // ms epoch
}

// Key returns the composite key unique within a scope.
func (w WatchedItem) Key() string {
	return fmt.Sprintf("%s:%d:%d", w.ContentID, w.Season, w.Episode)
}

// CanonicalAddonURL normalizes an addon base URL so the same addon installed
// from slightly different URLs dedupes to one entry. Strips a trailing
// /manifest.json and any trailing slash.
func CanonicalAddonURL(raw string) string {
	u := strings.TrimSpace(raw)
	u = strings.TrimSuffix(u, "/manifest.json")
	u = strings.TrimRight(u, "/")
	return u
}

// NowMs returns the current time as a ms epoch, the timestamp unit used by
// every synced entity.
func NowMs() int64 {
	return time.Now().UnixMilli()
}
