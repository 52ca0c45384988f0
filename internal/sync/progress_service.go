package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/couchpilot/couchpilot/internal/backend"
	"github.com/couchpilot/couchpilot/internal/models"
	"github.com/couchpilot/couchpilot/internal/state"
)

// ProgressService syncs watch progress. Its tie-break differs from the other
// timestamped sets: on an exact timestamp tie the entry with the larger
// playback position wins, so a device that watched further never loses.
type ProgressService struct {
	transport backend.Transport
	auth      authProvider
	scopes    scopeProvider
	store     *state.Progress
	logger    *slog.Logger
}

func NewProgressService(transport backend.Transport, auth authProvider, scopes scopeProvider, store *state.Progress, logger *slog.Logger) *ProgressService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProgressService{transport: transport, auth: auth, scopes: scopes, store: store, logger: logger}
}

func (s *ProgressService) Name() string { return "progress" }

type progressRow struct {
	AccountID  string `json:"account_id,omitempty"`
	ProfileID  string `json:"profile_id,omitempty"`
	ContentID  string `json:"content_id"`
	VideoID    string `json:"video_id"`
	Season     int    `json:"season"`
	Episode    int    `json:"episode"`
	PositionMs int64  `json:"position_ms"`
	DurationMs int64  `json:"duration_ms"`
	UpdatedAt  int64  `json:"updated_at"`
}

func (r progressRow) toModel() models.ProgressEntry {
	video := r.VideoID
	if video == "" {
		video = "main"
	}
	return models.ProgressEntry{
		ContentID:  r.ContentID,
		VideoID:    video,
		Season:     r.Season,
		Episode:    r.Episode,
		PositionMs: r.PositionMs,
		DurationMs: r.DurationMs,
		UpdatedAt:  r.UpdatedAt,
	}
}

// legacyProgressRow carries the older column names, including the
// last_watched timestamp variant.
type legacyProgressRow struct {
	ContentID   string `json:"content_id"`
	VideoID     string `json:"video_id"`
	Season      int    `json:"season"`
	Episode     int    `json:"episode"`
	Position    int64  `json:"position"`
	Duration    int64  `json:"duration"`
	UpdatedAt   *int64 `json:"updated_at,omitempty"`
	LastWatched *int64 `json:"last_watched,omitempty"`
}

func (r legacyProgressRow) toModel(tsFields []string) models.ProgressEntry {
	video := r.VideoID
	if video == "" {
		video = "main"
	}
	entry := models.ProgressEntry{
		ContentID:  r.ContentID,
		VideoID:    video,
		Season:     r.Season,
		Episode:    r.Episode,
		PositionMs: r.Position,
		DurationMs: r.Duration,
	}
	byName := map[string]*int64{
		"updated_at":   r.UpdatedAt,
		"last_watched": r.LastWatched,
	}
	for _, field := range tsFields {
		if v := byName[field]; v != nil && *v != 0 {
			entry.UpdatedAt = *v
			break
		}
	}
	return entry
}

// Pull fetches remote progress, merges and returns the result newest-first.
// Never fails.
func (s *ProgressService) Pull(ctx context.Context) []models.ProgressEntry {
	merged, err := s.pull(ctx)
	if err != nil {
		if !errors.Is(err, backend.ErrNotAuthenticated) {
			s.logger.Warn("progress pull failed", "error", err)
		}
		return s.store.ListForScope(s.scopes.ActiveScopeID())
	}
	return merged
}

func (s *ProgressService) Refresh(ctx context.Context) error {
	_, err := s.pull(ctx)
	if errors.Is(err, backend.ErrNotAuthenticated) {
		return nil
	}
	return err
}

func (s *ProgressService) pull(ctx context.Context) ([]models.ProgressEntry, error) {
	if !s.auth.IsAuthenticated() {
		return nil, backend.ErrNotAuthenticated
	}
	owner, err := s.auth.EffectiveOwnerID(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve owner: %w", err)
	}
	scope := s.scopes.ActiveScopeID()

	var remote []models.ProgressEntry
	steps := []chainStep{
		{name: "rpc progress_pull", run: func(ctx context.Context) error {
			raw, err := s.transport.CallProcedure(ctx, "progress_pull",
				map[string]string{"profile_id": scope}, true)
			if err != nil {
				return err
			}
			var resp struct {
				Entries []progressRow `json:"entries"`
			}
			if err := json.Unmarshal(raw, &resp); err != nil {
				return fmt.Errorf("failed to unmarshal progress entries: %w", err)
			}
			remote = remote[:0]
			for _, row := range resp.Entries {
				remote = append(remote, row.toModel())
			}
			return nil
		}},
		{name: "table user_progress", run: func(ctx context.Context) error {
			query := fmt.Sprintf("account_id=eq.%s&profile_id=eq.%s",
				url.QueryEscape(owner), url.QueryEscape(scope))
			raw, err := s.transport.SelectRows(ctx, "user_progress", query, true)
			if err != nil {
				return err
			}
			var rows []progressRow
			if err := json.Unmarshal(raw, &rows); err != nil {
				return fmt.Errorf("failed to unmarshal user_progress rows: %w", err)
			}
			remote = remote[:0]
			for _, row := range rows {
				remote = append(remote, row.toModel())
			}
			return nil
		}},
		{name: "legacy table watch_progress", run: func(ctx context.Context) error {
			query := fmt.Sprintf("user_id=eq.%s", url.QueryEscape(owner))
			raw, err := s.transport.SelectRows(ctx, "watch_progress", query, true)
			if err != nil {
				return err
			}
			var rows []legacyProgressRow
			if err := json.Unmarshal(raw, &rows); err != nil {
				return fmt.Errorf("failed to unmarshal watch_progress rows: %w", err)
			}
			remote = remote[:0]
			for _, row := range rows {
				remote = append(remote, row.toModel([]string{"updated_at", "last_watched"}))
			}
			return nil
		}},
	}
	if err := runChain(ctx, s.logger, s.Name(), "pull", steps); err != nil {
		return nil, err
	}

	key := func(e models.ProgressEntry) string { return e.Key() }
	ts := func(e models.ProgressEntry) int64 { return e.UpdatedAt }
	remote = dropKeys(remote, key, s.store.Tombstones(scope))
	merged := mergeTimestamped(s.store.ListForScope(scope), remote, key, ts, furthestProgress)
	// Entries past the completion threshold coming from another device are
	// pruned here the same way a local save would be.
	active := merged[:0]
	for _, entry := range merged {
		if !entry.Complete() {
			active = append(active, entry)
		}
	}
	if err := s.store.ReplaceForScope(scope, active); err != nil {
		s.logger.Warn("failed to persist merged progress", "error", err)
	}
	return s.store.ListForScope(scope), nil
}

// Push upserts local progress and deletes remotely what was completed or
// dismissed locally since the last successful push.
func (s *ProgressService) Push(ctx context.Context) bool {
	if !s.auth.IsAuthenticated() {
		return false
	}
	owner, err := s.auth.EffectiveOwnerID(ctx)
	if err != nil {
		s.logger.Warn("progress push failed", "error", err)
		return false
	}
	scope := s.scopes.ActiveScopeID()
	entries := s.store.ListForScope(scope)
	removed := s.store.Tombstones(scope)

	steps := []chainStep{
		{name: "rpc progress_push", run: func(ctx context.Context) error {
			rows := make([]progressRow, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, progressRow{
					ContentID: e.ContentID, VideoID: e.VideoID,
					Season: e.Season, Episode: e.Episode,
					PositionMs: e.PositionMs, DurationMs: e.DurationMs,
					UpdatedAt: e.UpdatedAt,
				})
			}
			_, err := s.transport.CallProcedure(ctx, "progress_push", map[string]any{
				"profile_id": scope,
				"entries":    rows,
				"removed":    removed,
			}, true)
			return err
		}},
		{name: "table user_progress", run: func(ctx context.Context) error {
			rows := make([]progressRow, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, progressRow{
					AccountID: owner, ProfileID: scope,
					ContentID: e.ContentID, VideoID: e.VideoID,
					Season: e.Season, Episode: e.Episode,
					PositionMs: e.PositionMs, DurationMs: e.DurationMs,
					UpdatedAt: e.UpdatedAt,
				})
			}
			if len(rows) > 0 {
				if err := upsertRows(ctx, s.transport, "user_progress", rows,
					"account_id,profile_id,content_id,video_id,season,episode"); err != nil {
					return err
				}
			}
			for _, k := range removed {
				contentID, videoID, season, episode, ok := splitProgressKey(k)
				if !ok {
					continue
				}
				filter := fmt.Sprintf("account_id=eq.%s&profile_id=eq.%s&content_id=eq.%s&video_id=eq.%s&season=eq.%d&episode=eq.%d",
					url.QueryEscape(owner), url.QueryEscape(scope),
					url.QueryEscape(contentID), url.QueryEscape(videoID), season, episode)
				if err := s.transport.DeleteRows(ctx, "user_progress", filter, true); err != nil {
					return err
				}
			}
			return nil
		}},
		{name: "legacy table watch_progress", run: func(ctx context.Context) error {
			type legacyWrite struct {
				UserID    string `json:"user_id"`
				ContentID string `json:"content_id"`
				VideoID   string `json:"video_id"`
				Season    int    `json:"season"`
				Episode   int    `json:"episode"`
				Position  int64  `json:"position"`
				Duration  int64  `json:"duration"`
				UpdatedAt int64  `json:"updated_at"`
			}
			rows := make([]legacyWrite, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, legacyWrite{
					UserID: owner, ContentID: e.ContentID, VideoID: e.VideoID,
					Season: e.Season, Episode: e.Episode,
					Position: e.PositionMs, Duration: e.DurationMs,
					UpdatedAt: e.UpdatedAt,
				})
			}
			if len(rows) > 0 {
				if err := upsertRows(ctx, s.transport, "watch_progress", rows,
					"user_id,content_id,video_id,season,episode"); err != nil {
					return err
				}
			}
			for _, k := range removed {
				contentID, videoID, season, episode, ok := splitProgressKey(k)
				if !ok {
					continue
				}
				filter := fmt.Sprintf("user_id=eq.%s&content_id=eq.%s&video_id=eq.%s&season=eq.%d&episode=eq.%d",
					url.QueryEscape(owner), url.QueryEscape(contentID),
					url.QueryEscape(videoID), season, episode)
				if err := s.transport.DeleteRows(ctx, "watch_progress", filter, true); err != nil {
					return err
				}
			}
			return nil
		}},
	}
	if err := runChain(ctx, s.logger, s.Name(), "push", steps); err != nil {
		s.logger.Warn("progress push failed", "error", err)
		return false
	}
	s.store.ClearTombstones(scope)
	return true
}

// splitProgressKey splits a "contentID:videoID:season:episode" composite key.
// Season and episode are taken from the right since video ids may themselves
// contain colons; the content id never does.
func splitProgressKey(key string) (contentID, videoID string, season, episode int, ok bool) {
	parts := strings.Split(key, ":")
	if len(parts) < 4 {
		return "", "", 0, 0, false
	}
	episode, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return "", "", 0, 0, false
	}
	season, err = strconv.Atoi(parts[len(parts)-2])
	if err != nil {
		return "", "", 0, 0, false
	}
	contentID = parts[0]
	videoID = strings.Join(parts[1:len(parts)-2], ":")
	if contentID == "" || videoID == "" {
		return "", "", 0, 0, false
	}
	return contentID, videoID, season, episode, true
}
