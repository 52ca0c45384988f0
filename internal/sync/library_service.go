package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/couchpilot/couchpilot/internal/backend"
	"github.com/couchpilot/couchpilot/internal/models"
	"github.com/couchpilot/couchpilot/internal/state"
)

// LibraryService syncs saved titles: a timestamped set with last-write-wins
// merges and remote-wins tie-breaks.
type LibraryService struct {
	transport backend.Transport
	auth      authProvider
	scopes    scopeProvider
	store     *state.Library
	logger    *slog.Logger
}

func NewLibraryService(transport backend.Transport, auth authProvider, scopes scopeProvider, store *state.Library, logger *slog.Logger) *LibraryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LibraryService{transport: transport, auth: auth, scopes: scopes, store: store, logger: logger}
}

func (s *LibraryService) Name() string { return "library" }

type libraryRow struct {
	AccountID   string   `json:"account_id,omitempty"`
	ProfileID   string   `json:"profile_id,omitempty"`
	ContentType string   `json:"content_type"`
	ContentID   string   `json:"content_id"`
	Title       string   `json:"title"`
	Poster      string   `json:"poster,omitempty"`
	Background  string   `json:"background,omitempty"`
	Description string   `json:"description,omitempty"`
	ReleaseInfo string   `json:"release_info,omitempty"`
	Rating      float64  `json:"rating,omitempty"`
	Genres      []string `json:"genres,omitempty"`
	OriginURL   string   `json:"origin_url,omitempty"`
	UpdatedAt   int64    `json:"updated_at"`
}

func (r libraryRow) toModel() models.LibraryItem {
	return models.LibraryItem{
		ContentType: r.ContentType,
		ContentID:   r.ContentID,
		Title:       r.Title,
		Poster:      r.Poster,
		Background:  r.Background,
		Description: r.Description,
		ReleaseInfo: r.ReleaseInfo,
		Rating:      r.Rating,
		Genres:      r.Genres,
		OriginURL:   r.OriginURL,
		UpdatedAt:   r.UpdatedAt,
	}
}

// legacyLibraryRow is the pre-scoping generation with older column names and
// two competing timestamp columns.
type legacyLibraryRow struct {
	Type         string `json:"type"`
	ID           string `json:"id"`
	Name         string `json:"name"`
	Poster       string `json:"poster,omitempty"`
	UpdatedAt    *int64 `json:"updated_at,omitempty"`
	LastModified *int64 `json:"last_modified,omitempty"`
}

// toModel maps a legacy row; tsFields gives the timestamp column precedence
// for this candidate (the first present and non-zero field wins).
func (r legacyLibraryRow) toModel(tsFields []string) models.LibraryItem {
	item := models.LibraryItem{
		ContentType: r.Type,
		ContentID:   r.ID,
		Title:       r.Name,
		Poster:      r.Poster,
	}
	byName := map[string]*int64{
		"updated_at":    r.UpdatedAt,
		"last_modified": r.LastModified,
	}
	for _, field := range tsFields {
		if v := byName[field]; v != nil && *v != 0 {
			item.UpdatedAt = *v
			break
		}
	}
	return item
}

// Pull fetches remote saved titles, merges by key and timestamp, persists
// and returns the merged set. Never fails.
func (s *LibraryService) Pull(ctx context.Context) []models.LibraryItem {
	merged, err := s.pull(ctx)
	if err != nil {
		if !errors.Is(err, backend.ErrNotAuthenticated) {
			s.logger.Warn("library pull failed", "error", err)
		}
		return s.store.ListForScope(s.scopes.ActiveScopeID())
	}
	return merged
}

func (s *LibraryService) Refresh(ctx context.Context) error {
	_, err := s.pull(ctx)
	if errors.Is(err, backend.ErrNotAuthenticated) {
		return nil
	}
	return err
}

func (s *LibraryService) pull(ctx context.Context) ([]models.LibraryItem, error) {
	if !s.auth.IsAuthenticated() {
		return nil, backend.ErrNotAuthenticated
	}
	owner, err := s.auth.EffectiveOwnerID(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve owner: %w", err)
	}
	scope := s.scopes.ActiveScopeID()

	var remote []models.LibraryItem
	steps := []chainStep{
		{name: "rpc library_pull", run: func(ctx context.Context) error {
			raw, err := s.transport.CallProcedure(ctx, "library_pull",
				map[string]string{"profile_id": scope}, true)
			if err != nil {
				return err
			}
			var resp struct {
				Items []libraryRow `json:"items"`
			}
			if err := json.Unmarshal(raw, &resp); err != nil {
				return fmt.Errorf("failed to unmarshal library items: %w", err)
			}
			remote = remote[:0]
			for _, row := range resp.Items {
				remote = append(remote, row.toModel())
			}
			return nil
		}},
		{name: "table user_library", run: func(ctx context.Context) error {
			query := fmt.Sprintf("account_id=eq.%s&profile_id=eq.%s",
				url.QueryEscape(owner), url.QueryEscape(scope))
			raw, err := s.transport.SelectRows(ctx, "user_library", query, true)
			if err != nil {
				return err
			}
			var rows []libraryRow
			if err := json.Unmarshal(raw, &rows); err != nil {
				return fmt.Errorf("failed to unmarshal user_library rows: %w", err)
			}
			remote = remote[:0]
			for _, row := range rows {
				remote = append(remote, row.toModel())
			}
			return nil
		}},
		{name: "legacy table library_items", run: func(ctx context.Context) error {
			query := fmt.Sprintf("user_id=eq.%s", url.QueryEscape(owner))
			raw, err := s.transport.SelectRows(ctx, "library_items", query, true)
			if err != nil {
				return err
			}
			var rows []legacyLibraryRow
			if err := json.Unmarshal(raw, &rows); err != nil {
				return fmt.Errorf("failed to unmarshal library_items rows: %w", err)
			}
			remote = remote[:0]
			for _, row := range rows {
				remote = append(remote, row.toModel([]string{"updated_at", "last_modified"}))
			}
			return nil
		}},
	}
	if err := runChain(ctx, s.logger, s.Name(), "pull", steps); err != nil {
		return nil, err
	}

	key := func(i models.LibraryItem) string { return i.Key() }
	ts := func(i models.LibraryItem) int64 { return i.UpdatedAt }
	remote = dropKeys(remote, key, s.store.Tombstones(scope))
	merged := mergeTimestamped(s.store.ListForScope(scope), remote, key, ts, remoteWins)
	if err := s.store.ReplaceForScope(scope, merged); err != nil {
		s.logger.Warn("failed to persist merged library", "error", err)
	}
	return s.store.ListForScope(scope), nil
}

// Push upserts local saved titles and deletes remotely what was removed
// locally since the last successful push.
func (s *LibraryService) Push(ctx context.Context) bool {
	if !s.auth.IsAuthenticated() {
		return false
	}
	owner, err := s.auth.EffectiveOwnerID(ctx)
	if err != nil {
		s.logger.Warn("library push failed", "error", err)
		return false
	}
	scope := s.scopes.ActiveScopeID()
	items := s.store.ListForScope(scope)
	removed := s.store.Tombstones(scope)

	toRow := func(i models.LibraryItem) libraryRow {
		return libraryRow{
			ContentType: i.ContentType,
			ContentID:   i.ContentID,
			Title:       i.Title,
			Poster:      i.Poster,
			Background:  i.Background,
			Description: i.Description,
			ReleaseInfo: i.ReleaseInfo,
			Rating:      i.Rating,
			Genres:      i.Genres,
			OriginURL:   i.OriginURL,
			UpdatedAt:   i.UpdatedAt,
		}
	}

	steps := []chainStep{
		{name: "rpc library_push", run: func(ctx context.Context) error {
			rows := make([]libraryRow, 0, len(items))
			for _, item := range items {
				rows = append(rows, toRow(item))
			}
			_, err := s.transport.CallProcedure(ctx, "library_push", map[string]any{
				"profile_id": scope,
				"items":      rows,
				"removed":    removed,
			}, true)
			return err
		}},
		{name: "table user_library", run: func(ctx context.Context) error {
			rows := make([]libraryRow, 0, len(items))
			for _, item := range items {
				row := toRow(item)
				row.AccountID = owner
				row.ProfileID = scope
				rows = append(rows, row)
			}
			if len(rows) > 0 {
				if err := upsertRows(ctx, s.transport, "user_library", rows,
					"account_id,profile_id,content_type,content_id"); err != nil {
					return err
				}
			}
			for _, k := range removed {
				contentType, contentID, ok := splitLibraryKey(k)
				if !ok {
					continue
				}
				filter := fmt.Sprintf("account_id=eq.%s&profile_id=eq.%s&content_type=eq.%s&content_id=eq.%s",
					url.QueryEscape(owner), url.QueryEscape(scope),
					url.QueryEscape(contentType), url.QueryEscape(contentID))
				if err := s.transport.DeleteRows(ctx, "user_library", filter, true); err != nil {
					return err
				}
			}
			return nil
		}},
		{name: "legacy table library_items", run: func(ctx context.Context) error {
			type legacyWrite struct {
				UserID    string `json:"user_id"`
				Type      string `json:"type"`
				ID        string `json:"id"`
				Name      string `json:"name"`
				Poster    string `json:"poster,omitempty"`
				UpdatedAt int64  `json:"updated_at"`
			}
			rows := make([]legacyWrite, 0, len(items))
			for _, item := range items {
				rows = append(rows, legacyWrite{
					UserID:    owner,
					Type:      item.ContentType,
					ID:        item.ContentID,
					Name:      item.Title,
					Poster:    item.Poster,
					UpdatedAt: item.UpdatedAt,
				})
			}
			if len(rows) > 0 {
				if err := upsertRows(ctx, s.transport, "library_items", rows, "user_id,type,id"); err != nil {
					return err
				}
			}
			for _, k := range removed {
				contentType, contentID, ok := splitLibraryKey(k)
				if !ok {
					continue
				}
				filter := fmt.Sprintf("user_id=eq.%s&type=eq.%s&id=eq.%s",
					url.QueryEscape(owner), url.QueryEscape(contentType), url.QueryEscape(contentID))
				if err := s.transport.DeleteRows(ctx, "library_items", filter, true); err != nil {
					return err
				}
			}
			return nil
		}},
	}
	if err := runChain(ctx, s.logger, s.Name(), "push", steps); err != nil {
		s.logger.Warn("library push failed", "error", err)
		return false
	}
	s.store.ClearTombstones(scope)
	return true
}

// splitLibraryKey splits a "contentType:contentID" composite key.
func splitLibraryKey(key string) (contentType, contentID string, ok bool) {
	parts := strings.SplitN(key, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
