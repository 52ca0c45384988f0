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

// WatchedService syncs watched-item history: a timestamped set with the
// default remote-wins tie-break.
type WatchedService struct {
	transport backend.Transport
	auth      authProvider
	scopes    scopeProvider
	store     *state.Watched
	logger    *slog.Logger
}

func NewWatchedService(transport backend.Transport, auth authProvider, scopes scopeProvider, store *state.Watched, logger *slog.Logger) *WatchedService {
	if logger == nil {
		logger = slog.Default()
	}
	return &WatchedService{transport: transport, auth: auth, scopes: scopes, store: store, logger: logger}
}

func (s *WatchedService) Name() string { return "watched" }

type watchedRow struct {
	AccountID string `json:"account_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	ProfileID string `json:"profile_id,omitempty"`
	ContentID string `json:"content_id"`
	Season    int    `json:"season"`
	Episode   int    `json:"episode"`
	Title     string `json:"title,omitempty"`
	WatchedAt int64  `json:"watched_at"`
}

func (r watchedRow) toModel() models.WatchedItem {
	return models.WatchedItem{
		ContentID: r.ContentID,
		Season:    r.Season,
		Episode:   r.Episode,
		Title:     r.Title,
		WatchedAt: r.WatchedAt,
	}
}

// Pull fetches remote watched history, merges and returns it newest-first.
// Never fails.
func (s *WatchedService) Pull(ctx context.Context) []models.WatchedItem {
	merged, err := s.pull(ctx)
	if err != nil {
		if !errors.Is(err, backend.ErrNotAuthenticated) {
			s.logger.Warn("watched pull failed", "error", err)
		}
		return s.store.ListForScope(s.scopes.ActiveScopeID())
	}
	return merged
}

func (s *WatchedService) Refresh(ctx context.Context) error {
	_, err := s.pull(ctx)
	if errors.Is(err, backend.ErrNotAuthenticated) {
		return nil
	}
	return err
}

func (s *WatchedService) pull(ctx context.Context) ([]models.WatchedItem, error) {
	if !s.auth.IsAuthenticated() {
		return nil, backend.ErrNotAuthenticated
	}
	owner, err := s.auth.EffectiveOwnerID(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve owner: %w", err)
	}
	scope := s.scopes.ActiveScopeID()

	var remote []models.WatchedItem
	fromRows := func(rows []watchedRow) {
		remote = remote[:0]
		for _, row := range rows {
			remote = append(remote, row.toModel())
		}
	}
	steps := []chainStep{
		{name: "rpc watched_pull", run: func(ctx context.Context) error {
			raw, err := s.transport.CallProcedure(ctx, "watched_pull",
				map[string]string{"profile_id": scope}, true)
			if err != nil {
				return err
			}
			var resp struct {
				Items []watchedRow `json:"items"`
			}
			if err := json.Unmarshal(raw, &resp); err != nil {
				return fmt.Errorf("failed to unmarshal watched items: %w", err)
			}
			fromRows(resp.Items)
			return nil
		}},
		{name: "table user_watched", run: func(ctx context.Context) error {
			query := fmt.Sprintf("account_id=eq.%s&profile_id=eq.%s",
				url.QueryEscape(owner), url.QueryEscape(scope))
			raw, err := s.transport.SelectRows(ctx, "user_watched", query, true)
			if err != nil {
				return err
			}
			var rows []watchedRow
			if err := json.Unmarshal(raw, &rows); err != nil {
				return fmt.Errorf("failed to unmarshal user_watched rows: %w", err)
			}
			fromRows(rows)
			return nil
		}},
		{name: "legacy table watched_items", run: func(ctx context.Context) error {
			query := fmt.Sprintf("user_id=eq.%s", url.QueryEscape(owner))
			raw, err := s.transport.SelectRows(ctx, "watched_items", query, true)
			if err != nil {
				return err
			}
			var rows []watchedRow
			if err := json.Unmarshal(raw, &rows); err != nil {
				return fmt.Errorf("failed to unmarshal watched_items rows: %w", err)
			}
			fromRows(rows)
			return nil
		}},
	}
	if err := runChain(ctx, s.logger, s.Name(), "pull", steps); err != nil {
		return nil, err
	}

	key := func(i models.WatchedItem) string { return i.Key() }
	ts := func(i models.WatchedItem) int64 { return i.WatchedAt }
	remote = dropKeys(remote, key, s.store.Tombstones(scope))
	merged := mergeTimestamped(s.store.ListForScope(scope), remote, key, ts, remoteWins)
	if err := s.store.ReplaceForScope(scope, merged); err != nil {
		s.logger.Warn("failed to persist merged watched items", "error", err)
	}
	return s.store.ListForScope(scope), nil
}

// Push upserts local watched history and deletes remotely what was removed
// locally since the last successful push.
func (s *WatchedService) Push(ctx context.Context) bool {
	if !s.auth.IsAuthenticated() {
		return false
	}
	owner, err := s.auth.EffectiveOwnerID(ctx)
	if err != nil {
		s.logger.Warn("watched push failed", "error", err)
		return false
	}
	scope := s.scopes.ActiveScopeID()
	items := s.store.ListForScope(scope)
	removed := s.store.Tombstones(scope)

	steps := []chainStep{
		{name: "rpc watched_push", run: func(ctx context.Context) error {
			rows := make([]watchedRow, 0, len(items))
			for _, item := range items {
				rows = append(rows, watchedRow{
					ContentID: item.ContentID, Season: item.Season, Episode: item.Episode,
					Title: item.Title, WatchedAt: item.WatchedAt,
				})
			}
			_, err := s.transport.CallProcedure(ctx, "watched_push", map[string]any{
				"profile_id": scope,
				"items":      rows,
				"removed":    removed,
			}, true)
			return err
		}},
		{name: "table user_watched", run: func(ctx context.Context) error {
			rows := make([]watchedRow, 0, len(items))
			for _, item := range items {
				rows = append(rows, watchedRow{
					AccountID: owner, ProfileID: scope,
					ContentID: item.ContentID, Season: item.Season, Episode: item.Episode,
					Title: item.Title, WatchedAt: item.WatchedAt,
				})
			}
			if len(rows) > 0 {
				if err := upsertRows(ctx, s.transport, "user_watched", rows,
					"account_id,profile_id,content_id,season,episode"); err != nil {
					return err
				}
			}
			for _, k := range removed {
				contentID, season, episode, ok := splitWatchedKey(k)
				if !ok {
					continue
				}
				filter := fmt.Sprintf("account_id=eq.%s&profile_id=eq.%s&content_id=eq.%s&season=eq.%d&episode=eq.%d",
					url.QueryEscape(owner), url.QueryEscape(scope),
					url.QueryEscape(contentID), season, episode)
				if err := s.transport.DeleteRows(ctx, "user_watched", filter, true); err != nil {
					return err
				}
			}
			return nil
		}},
		{name: "legacy table watched_items", run: func(ctx context.Context) error {
			rows := make([]watchedRow, 0, len(items))
			for _, item := range items {
				rows = append(rows, watchedRow{
					UserID:    owner,
					ContentID: item.ContentID, Season: item.Season, Episode: item.Episode,
					Title: item.Title, WatchedAt: item.WatchedAt,
				})
			}
			if len(rows) > 0 {
				if err := upsertRows(ctx, s.transport, "watched_items", rows,
					"user_id,content_id,season,episode"); err != nil {
					return err
				}
			}
			for _, k := range removed {
				contentID, season, episode, ok := splitWatchedKey(k)
				if !ok {
					continue
				}
				filter := fmt.Sprintf("user_id=eq.%s&content_id=eq.%s&season=eq.%d&episode=eq.%d",
					url.QueryEscape(owner), url.QueryEscape(contentID), season, episode)
				if err := s.transport.DeleteRows(ctx, "watched_items", filter, true); err != nil {
					return err
				}
			}
			return nil
		}},
	}
	if err := runChain(ctx, s.logger, s.Name(), "push", steps); err != nil {
		s.logger.Warn("watched push failed", "error", err)
		return false
	}
	s.store.ClearTombstones(scope)
	return true
}

// splitWatchedKey splits a "contentID:season:episode" composite key, taking
// season and episode from the right.
func splitWatchedKey(key string) (contentID string, season, episode int, ok bool) {
	parts := strings.Split(key, ":")
	if len(parts) < 3 {
		return "", 0, 0, false
	}
	episode, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return "", 0, 0, false
	}
	season, err = strconv.Atoi(parts[len(parts)-2])
	if err != nil {
		return "", 0, 0, false
	}
	contentID = strings.Join(parts[:len(parts)-2], ":")
	if contentID == "" {
		return "", 0, 0, false
	}
	return contentID, season, episode, true
}
