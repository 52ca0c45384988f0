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

// AddonService syncs the ordered addon-reference list. The addon chain is the
// only one with a fourth candidate: a second procedure kept for backends that
// predate the table schema entirely.
type AddonService struct {
	transport backend.Transport
	auth      authProvider
	scopes    scopeProvider
	store     *state.Addons
	logger    *slog.Logger
}

func NewAddonService(transport backend.Transport, auth authProvider, scopes scopeProvider, store *state.Addons, logger *slog.Logger) *AddonService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AddonService{transport: transport, auth: auth, scopes: scopes, store: store, logger: logger}
}

func (s *AddonService) Name() string { return "addons" }

type addonRow struct {
	AccountID string `json:"account_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	ProfileID string `json:"profile_id,omitempty"`
	URL       string `json:"url"`
	Position  int    `json:"position"`
}

// Pull fetches the remote addon list, merges it with the local order and
// returns the result. Never fails: unauthenticated or failed pulls return
// the local list untouched.
func (s *AddonService) Pull(ctx context.Context) []string {
	merged, err := s.pull(ctx)
	if err != nil {
		if !errors.Is(err, backend.ErrNotAuthenticated) {
			s.logger.Warn("addon pull failed", "error", err)
		}
		return s.store.ListForScope(s.scopes.AddonScopeID())
	}
	return merged
}

// Refresh is the orchestrator-facing pull; unauthenticated is not an error.
func (s *AddonService) Refresh(ctx context.Context) error {
	_, err := s.pull(ctx)
	if errors.Is(err, backend.ErrNotAuthenticated) {
		return nil
	}
	return err
}

func (s *AddonService) pull(ctx context.Context) ([]string, error) {
	if !s.auth.IsAuthenticated() {
		return nil, backend.ErrNotAuthenticated
	}
	owner, err := s.auth.EffectiveOwnerID(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve owner: %w", err)
	}
	scope := s.scopes.AddonScopeID()

	var remote []string
	steps := []chainStep{
		{name: "rpc addon_collection_get", run: func(ctx context.Context) error {
			raw, err := s.transport.CallProcedure(ctx, "addon_collection_get",
				map[string]string{"profile_id": scope}, true)
			if err != nil {
				return err
			}
			var resp struct {
				Addons []string `json:"addons"`
			}
			if err := json.Unmarshal(raw, &resp); err != nil {
				return fmt.Errorf("failed to unmarshal addon collection: %w", err)
			}
			remote = resp.Addons
			return nil
		}},
		{name: "table user_addons", run: func(ctx context.Context) error {
			query := fmt.Sprintf("select=url,position&account_id=eq.%s&profile_id=eq.%s&order=position.asc",
				url.QueryEscape(owner), url.QueryEscape(scope))
			raw, err := s.transport.SelectRows(ctx, "user_addons", query, true)
			if err != nil {
				return err
			}
			var rows []addonRow
			if err := json.Unmarshal(raw, &rows); err != nil {
				return fmt.Errorf("failed to unmarshal user_addons rows: %w", err)
			}
			remote = remote[:0]
			for _, row := range rows {
				remote = append(remote, row.URL)
			}
			return nil
		}},
		// Pre-scoping table generation: owner only, shared across profiles.
		{name: "legacy table addon_urls", run: func(ctx context.Context) error {
			query := fmt.Sprintf("select=url,position&user_id=eq.%s&order=position.asc",
				url.QueryEscape(owner))
			raw, err := s.transport.SelectRows(ctx, "addon_urls", query, true)
			if err != nil {
				return err
			}
			var rows []addonRow
			if err := json.Unmarshal(raw, &rows); err != nil {
				return fmt.Errorf("failed to unmarshal addon_urls rows: %w", err)
			}
			remote = remote[:0]
			for _, row := range rows {
				remote = append(remote, row.URL)
			}
			return nil
		}},
		{name: "rpc get_addon_collection", run: func(ctx context.Context) error {
			raw, err := s.transport.CallProcedure(ctx, "get_addon_collection",
				map[string]string{}, true)
			if err != nil {
				return err
			}
			var urls []string
			if err := json.Unmarshal(raw, &urls); err != nil {
				return fmt.Errorf("failed to unmarshal legacy addon collection: %w", err)
			}
			remote = urls
			return nil
		}},
	}
	if err := runChain(ctx, s.logger, s.Name(), "pull", steps); err != nil {
		return nil, err
	}

	for i := range remote {
		remote[i] = models.CanonicalAddonURL(remote[i])
	}
	merged := mergeOrderedURLs(s.store.ListForScope(scope), remote)
	// ApplyMerged writes without firing mutation listeners: a pull must not
	// schedule the debounced push it would otherwise trigger.
	if err := s.store.ApplyMerged(scope, merged); err != nil {
		s.logger.Warn("failed to persist merged addons", "error", err)
	}
	return merged, nil
}

// Push writes the local addon order through the fallback chain. Returns
// whether the write ultimately succeeded; never fails loudly.
func (s *AddonService) Push(ctx context.Context) bool {
	if !s.auth.IsAuthenticated() {
		return false
	}
	owner, err := s.auth.EffectiveOwnerID(ctx)
	if err != nil {
		s.logger.Warn("addon push failed", "error", err)
		return false
	}
	scope := s.scopes.AddonScopeID()
	urls := s.store.ListForScope(scope)

	steps := []chainStep{
		{name: "rpc addon_collection_set", run: func(ctx context.Context) error {
			_, err := s.transport.CallProcedure(ctx, "addon_collection_set", map[string]any{
				"profile_id": scope,
				"addons":     urls,
			}, true)
			return err
		}},
		{name: "table user_addons", run: func(ctx context.Context) error {
			rows := make([]addonRow, 0, len(urls))
			for i, u := range urls {
				rows = append(rows, addonRow{AccountID: owner, ProfileID: scope, URL: u, Position: i})
			}
			// The list is replaced wholesale: clear then upsert so removed
			// and reordered entries do not linger.
			filter := fmt.Sprintf("account_id=eq.%s&profile_id=eq.%s",
				url.QueryEscape(owner), url.QueryEscape(scope))
			if err := s.transport.DeleteRows(ctx, "user_addons", filter, true); err != nil {
				return err
			}
			if len(rows) == 0 {
				return nil
			}
			return upsertRows(ctx, s.transport, "user_addons", rows, "account_id,profile_id,url")
		}},
		{name: "legacy table addon_urls", run: func(ctx context.Context) error {
			rows := make([]addonRow, 0, len(urls))
			for i, u := range urls {
				rows = append(rows, addonRow{UserID: owner, URL: u, Position: i})
			}
			filter := fmt.Sprintf("user_id=eq.%s", url.QueryEscape(owner))
			if err := s.transport.DeleteRows(ctx, "addon_urls", filter, true); err != nil {
				return err
			}
			if len(rows) == 0 {
				return nil
			}
			return upsertRows(ctx, s.transport, "addon_urls", rows, "user_id,url")
		}},
		{name: "rpc set_addon_collection", run: func(ctx context.Context) error {
			_, err := s.transport.CallProcedure(ctx, "set_addon_collection",
				map[string]any{"addons": urls}, true)
			return err
		}},
	}
	if err := runChain(ctx, s.logger, s.Name(), "push", steps); err != nil {
		s.logger.Warn("addon push failed", "error", err)
		return false
	}
	return true
}
