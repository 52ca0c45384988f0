package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/couchpilot/couchpilot/internal/backend"
	"github.com/couchpilot/couchpilot/internal/models"
	"github.com/couchpilot/couchpilot/internal/state"
)

// PluginService syncs the ordered plugin-source list. The enabled flag is
// device-local metadata: it is carried through merges but never pushed.
type PluginService struct {
	transport backend.Transport
	auth      authProvider
	scopes    scopeProvider
	store     *state.Plugins
	logger    *slog.Logger
}

func NewPluginService(transport backend.Transport, auth authProvider, scopes scopeProvider, store *state.Plugins, logger *slog.Logger) *PluginService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PluginService{transport: transport, auth: auth, scopes: scopes, store: store, logger: logger}
}

func (s *PluginService) Name() string { return "plugins" }

type pluginRow struct {
	AccountID string `json:"account_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	ProfileID string `json:"profile_id,omitempty"`
	URL       string `json:"url"`
	Name      string `json:"name"`
	Position  int    `json:"position"`
}

// Pull fetches the remote plugin list, merges it with local order and
// local-only metadata, and returns the result. Never fails.
func (s *PluginService) Pull(ctx context.Context) []models.PluginSource {
	merged, err := s.pull(ctx)
	if err != nil {
		if !errors.Is(err, backend.ErrNotAuthenticated) {
			s.logger.Warn("plugin pull failed", "error", err)
		}
		return s.store.ListForScope(s.scopes.PluginScopeID())
	}
	return merged
}

func (s *PluginService) Refresh(ctx context.Context) error {
	_, err := s.pull(ctx)
	if errors.Is(err, backend.ErrNotAuthenticated) {
		return nil
	}
	return err
}

func (s *PluginService) pull(ctx context.Context) ([]models.PluginSource, error) {
	if !s.auth.IsAuthenticated() {
		return nil, backend.ErrNotAuthenticated
	}
	owner, err := s.auth.EffectiveOwnerID(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve owner: %w", err)
	}
	scope := s.scopes.PluginScopeID()

	var remote []models.PluginSource
	fromRows := func(rows []pluginRow) {
		remote = remote[:0]
		for _, row := range rows {
			remote = append(remote, models.PluginSource{URL: row.URL, Name: row.Name})
		}
	}
	steps := []chainStep{
		{name: "rpc plugin_collection_get", run: func(ctx context.Context) error {
			raw, err := s.transport.CallProcedure(ctx, "plugin_collection_get",
				map[string]string{"profile_id": scope}, true)
			if err != nil {
				return err
			}
			var resp struct {
				Plugins []pluginRow `json:"plugins"`
			}
			if err := json.Unmarshal(raw, &resp); err != nil {
				return fmt.Errorf("failed to unmarshal plugin collection: %w", err)
			}
			fromRows(resp.Plugins)
			return nil
		}},
		{name: "table user_plugins", run: func(ctx context.Context) error {
			query := fmt.Sprintf("select=url,name,position&account_id=eq.%s&profile_id=eq.%s&order=position.asc",
				url.QueryEscape(owner), url.QueryEscape(scope))
			raw, err := s.transport.SelectRows(ctx, "user_plugins", query, true)
			if err != nil {
				return err
			}
			var rows []pluginRow
			if err := json.Unmarshal(raw, &rows); err != nil {
				return fmt.Errorf("failed to unmarshal user_plugins rows: %w", err)
			}
			fromRows(rows)
			return nil
		}},
		{name: "legacy table plugin_sources", run: func(ctx context.Context) error {
			query := fmt.Sprintf("select=url,name,position&user_id=eq.%s&order=position.asc",
				url.QueryEscape(owner))
			raw, err := s.transport.SelectRows(ctx, "plugin_sources", query, true)
			if err != nil {
				return err
			}
			var rows []pluginRow
			if err := json.Unmarshal(raw, &rows); err != nil {
				return fmt.Errorf("failed to unmarshal plugin_sources rows: %w", err)
			}
			fromRows(rows)
			return nil
		}},
	}
	if err := runChain(ctx, s.logger, s.Name(), "pull", steps); err != nil {
		return nil, err
	}

	merged := mergeOrderedPlugins(s.store.ListForScope(scope), remote)
	if err := s.store.ReplaceForScope(scope, merged); err != nil {
		s.logger.Warn("failed to persist merged plugins", "error", err)
	}
	return merged, nil
}

// Push writes the local plugin order through the fallback chain.
func (s *PluginService) Push(ctx context.Context) bool {
	if !s.auth.IsAuthenticated() {
		return false
	}
	owner, err := s.auth.EffectiveOwnerID(ctx)
	if err != nil {
		s.logger.Warn("plugin push failed", "error", err)
		return false
	}
	scope := s.scopes.PluginScopeID()
	sources := s.store.ListForScope(scope)

	steps := []chainStep{
		{name: "rpc plugin_collection_set", run: func(ctx context.Context) error {
			rows := make([]pluginRow, 0, len(sources))
			for i, src := range sources {
				rows = append(rows, pluginRow{URL: src.URL, Name: src.Name, Position: i})
			}
			_, err := s.transport.CallProcedure(ctx, "plugin_collection_set", map[string]any{
				"profile_id": scope,
				"plugins":    rows,
			}, true)
			return err
		}},
		{name: "table user_plugins", run: func(ctx context.Context) error {
			rows := make([]pluginRow, 0, len(sources))
			for i, src := range sources {
				rows = append(rows, pluginRow{AccountID: owner, ProfileID: scope, URL: src.URL, Name: src.Name, Position: i})
			}
			filter := fmt.Sprintf("account_id=eq.%s&profile_id=eq.%s",
				url.QueryEscape(owner), url.QueryEscape(scope))
			if err := s.transport.DeleteRows(ctx, "user_plugins", filter, true); err != nil {
				return err
			}
			if len(rows) == 0 {
				return nil
			}
			return upsertRows(ctx, s.transport, "user_plugins", rows, "account_id,profile_id,url")
		}},
		{name: "legacy table plugin_sources", run: func(ctx context.Context) error {
			rows := make([]pluginRow, 0, len(sources))
			for i, src := range sources {
				rows = append(rows, pluginRow{UserID: owner, URL: src.URL, Name: src.Name, Position: i})
			}
			filter := fmt.Sprintf("user_id=eq.%s", url.QueryEscape(owner))
			if err := s.transport.DeleteRows(ctx, "plugin_sources", filter, true); err != nil {
				return err
			}
			if len(rows) == 0 {
				return nil
			}
			return upsertRows(ctx, s.transport, "plugin_sources", rows, "user_id,url")
		}},
	}
	if err := runChain(ctx, s.logger, s.Name(), "push", steps); err != nil {
		s.logger.Warn("plugin push failed", "error", err)
		return false
	}
	return true
}
