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

// ProfileService syncs the profile set. Profiles are small and centrally
// owned, so a successful pull replaces the local set wholesale; there is no
// field-by-field merge.
type ProfileService struct {
	transport backend.Transport
	auth      authProvider
	store     *state.Profiles
	logger    *slog.Logger
}

func NewProfileService(transport backend.Transport, auth authProvider, store *state.Profiles, logger *slog.Logger) *ProfileService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProfileService{transport: transport, auth: auth, store: store, logger: logger}
}

func (s *ProfileService) Name() string { return "profiles" }

type profileRow struct {
	AccountID          string `json:"account_id,omitempty"`
	UserID             string `json:"user_id,omitempty"`
	ProfileIndex       int    `json:"profile_index"`
	Name               string `json:"name"`
	AvatarColor        string `json:"avatar_color"`
	UsesPrimaryAddons  bool   `json:"uses_primary_addons"`
	UsesPrimaryPlugins bool   `json:"uses_primary_plugins"`
	PinHash            string `json:"pin_hash,omitempty"`
}

func (r profileRow) toModel() models.Profile {
	return models.Profile{
		Index:              r.ProfileIndex,
		Name:               r.Name,
		AvatarColor:        r.AvatarColor,
		IsPrimary:          r.ProfileIndex == 1,
		UsesPrimaryAddons:  r.UsesPrimaryAddons,
		UsesPrimaryPlugins: r.UsesPrimaryPlugins,
		PinHash:            r.PinHash,
	}
}

// Pull fetches the remote profile set and replaces the local one when the
// pull succeeds with a non-empty result. Never fails.
func (s *ProfileService) Pull(ctx context.Context) []models.Profile {
	profiles, err := s.pull(ctx)
	if err != nil {
		if !errors.Is(err, backend.ErrNotAuthenticated) {
			s.logger.Warn("profile pull failed", "error", err)
		}
		return s.store.List()
	}
	return profiles
}

func (s *ProfileService) Refresh(ctx context.Context) error {
	_, err := s.pull(ctx)
	if errors.Is(err, backend.ErrNotAuthenticated) {
		return nil
	}
	return err
}

func (s *ProfileService) pull(ctx context.Context) ([]models.Profile, error) {
	if !s.auth.IsAuthenticated() {
		return nil, backend.ErrNotAuthenticated
	}
	owner, err := s.auth.EffectiveOwnerID(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve owner: %w", err)
	}

	var remote []models.Profile
	fromRows := func(rows []profileRow) {
		remote = remote[:0]
		for _, row := range rows {
			remote = append(remote, row.toModel())
		}
	}
	steps := []chainStep{
		{name: "rpc profiles_get", run: func(ctx context.Context) error {
			raw, err := s.transport.CallProcedure(ctx, "profiles_get", map[string]string{}, true)
			if err != nil {
				return err
			}
			var resp struct {
				Profiles []profileRow `json:"profiles"`
			}
			if err := json.Unmarshal(raw, &resp); err != nil {
				return fmt.Errorf("failed to unmarshal profiles: %w", err)
			}
			fromRows(resp.Profiles)
			return nil
		}},
		{name: "table user_profiles", run: func(ctx context.Context) error {
			query := fmt.Sprintf("select=profile_index,name,avatar_color,uses_primary_addons,uses_primary_plugins,pin_hash&account_id=eq.%s&order=profile_index.asc",
				url.QueryEscape(owner))
			raw, err := s.transport.SelectRows(ctx, "user_profiles", query, true)
			if err != nil {
				return err
			}
			var rows []profileRow
			if err := json.Unmarshal(raw, &rows); err != nil {
				return fmt.Errorf("failed to unmarshal user_profiles rows: %w", err)
			}
			fromRows(rows)
			return nil
		}},
		{name: "legacy table profiles", run: func(ctx context.Context) error {
			query := fmt.Sprintf("select=profile_index,name,avatar_color,uses_primary_addons,uses_primary_plugins&user_id=eq.%s&order=profile_index.asc",
				url.QueryEscape(owner))
			raw, err := s.transport.SelectRows(ctx, "profiles", query, true)
			if err != nil {
				return err
			}
			var rows []profileRow
			if err := json.Unmarshal(raw, &rows); err != nil {
				return fmt.Errorf("failed to unmarshal profiles rows: %w", err)
			}
			fromRows(rows)
			return nil
		}},
	}
	if err := runChain(ctx, s.logger, s.Name(), "pull", steps); err != nil {
		return nil, err
	}

	// An empty remote set means a not-yet-provisioned account; keep the
	// local default rather than erasing it.
	if len(remote) == 0 {
		return s.store.List(), nil
	}
	if err := s.store.Replace(remote); err != nil {
		s.logger.Warn("failed to persist profiles", "error", err)
	}
	return s.store.List(), nil
}

// Push writes the full local profile set through the fallback chain.
func (s *ProfileService) Push(ctx context.Context) bool {
	if !s.auth.IsAuthenticated() {
		return false
	}
	owner, err := s.auth.EffectiveOwnerID(ctx)
	if err != nil {
		s.logger.Warn("profile push failed", "error", err)
		return false
	}
	profiles := s.store.List()

	steps := []chainStep{
		{name: "rpc profiles_set", run: func(ctx context.Context) error {
			rows := make([]profileRow, 0, len(profiles))
			for _, p := range profiles {
				rows = append(rows, profileRow{
					ProfileIndex:       p.Index,
					Name:               p.Name,
					AvatarColor:        p.AvatarColor,
					UsesPrimaryAddons:  p.UsesPrimaryAddons,
					UsesPrimaryPlugins: p.UsesPrimaryPlugins,
					PinHash:            p.PinHash,
				})
			}
			_, err := s.transport.CallProcedure(ctx, "profiles_set",
				map[string]any{"profiles": rows}, true)
			return err
		}},
		{name: "table user_profiles", run: func(ctx context.Context) error {
			rows := make([]profileRow, 0, len(profiles))
			for _, p := range profiles {
				rows = append(rows, profileRow{
					AccountID:          owner,
					ProfileIndex:       p.Index,
					Name:               p.Name,
					AvatarColor:        p.AvatarColor,
					UsesPrimaryAddons:  p.UsesPrimaryAddons,
					UsesPrimaryPlugins: p.UsesPrimaryPlugins,
					PinHash:            p.PinHash,
				})
			}
			// Replace wholesale: locally removed profiles must disappear
			// remotely as well.
			filter := fmt.Sprintf("account_id=eq.%s", url.QueryEscape(owner))
			if err := s.transport.DeleteRows(ctx, "user_profiles", filter, true); err != nil {
				return err
			}
			return upsertRows(ctx, s.transport, "user_profiles", rows, "account_id,profile_index")
		}},
		{name: "legacy table profiles", run: func(ctx context.Context) error {
			rows := make([]profileRow, 0, len(profiles))
			for _, p := range profiles {
				rows = append(rows, profileRow{
					UserID:             owner,
					ProfileIndex:       p.Index,
					Name:               p.Name,
					AvatarColor:        p.AvatarColor,
					UsesPrimaryAddons:  p.UsesPrimaryAddons,
					UsesPrimaryPlugins: p.UsesPrimaryPlugins,
				})
			}
			filter := fmt.Sprintf("user_id=eq.%s", url.QueryEscape(owner))
			if err := s.transport.DeleteRows(ctx, "profiles", filter, true); err != nil {
				return err
			}
			return upsertRows(ctx, s.transport, "profiles", rows, "user_id,profile_index")
		}},
	}
	if err := runChain(ctx, s.logger, s.Name(), "push", steps); err != nil {
		s.logger.Warn("profile push failed", "error", err)
		return false
	}
	return true
}
