package state

import (
	"fmt"
	"strconv"

	"golang.org/x/crypto/bcrypt"

	"github.com/couchpilot/couchpilot/internal/models"
	"github.com/couchpilot/couchpilot/internal/storage"
)

const (
	profilesKey    = "profiles"
	activeScopeKey = "profiles.active"

	// PrimaryScopeID is the shared scope owned by profile 1.
	PrimaryScopeID = "1"
)

// Profiles is the profile store. It doubles as the active-scope provider read
// by every sync service.
type Profiles struct {
	store storage.Store
}

func NewProfiles(store storage.Store) *Profiles {
	return &Profiles{store: store}
}

// List returns all profiles, guaranteeing the primary profile exists.
func (p *Profiles) List() []models.Profile {
	profiles := loadList[models.Profile](p.store, profilesKey)
	if len(profiles) == 0 {
		profiles = []models.Profile{{
			Index:       1,
			Name:        "Default",
			AvatarColor: "#7B5BF5",
			IsPrimary:   true,
		}}
	}
	return profiles
}

// Get returns the profile with the given index.
func (p *Profiles) Get(index int) (models.Profile, bool) {
	for _, profile := range p.List() {
		if profile.Index == index {
			return profile, true
		}
	}
	return models.Profile{}, false
}

// Replace swaps the whole profile set. Profiles sync replace-wholesale, never
// field-by-field, so this is the only bulk write.
func (p *Profiles) Replace(profiles []models.Profile) error {
	seen := make(map[int]bool, len(profiles))
	out := make([]models.Profile, 0, len(profiles))
	for _, profile := range profiles {
		if profile.Index < 1 || seen[profile.Index] {
			continue
		}
		profile.IsPrimary = profile.Index == 1
		seen[profile.Index] = true
		out = append(out, profile)
	}
	return saveList(p.store, profilesKey, out)
}

// Upsert inserts or updates a single profile by index.
func (p *Profiles) Upsert(profile models.Profile) error {
	profiles := p.List()
	for i, existing := range profiles {
		if existing.Index == profile.Index {
			// The PIN hash is managed by SetPIN; an empty incoming hash
			// keeps the existing one.
			if profile.PinHash == "" {
				profile.PinHash = existing.PinHash
			}
			profiles[i] = profile
			return p.Replace(profiles)
		}
	}
	profiles = append(profiles, profile)
	return p.Replace(profiles)
}

// Remove deletes a profile. The primary profile cannot be removed.
func (p *Profiles) Remove(index int) error {
	if index == 1 {
		return fmt.Errorf("primary profile cannot be removed")
	}
	profiles := p.List()
	out := profiles[:0]
	for _, profile := range profiles {
		if profile.Index != index {
			out = append(out, profile)
		}
	}
	if p.ActiveScopeID() == fmt.Sprintf("%d", index) {
		_ = p.SetActiveScope(PrimaryScopeID)
	}
	return saveList(p.store, profilesKey, out)
}

// SetPIN stores a bcrypt hash of the profile PIN; an empty PIN clears the lock.
func (p *Profiles) SetPIN(index int, pin string) error {
	profile, ok := p.Get(index)
	if !ok {
		return fmt.Errorf("profile %d not found", index)
	}
	if pin == "" {
		profile.PinHash = ""
	} else {
		hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		profile.PinHash = string(hash)
	}
	profiles := p.List()
	for i := range profiles {
		if profiles[i].Index == index {
			profiles[i] = profile
		}
	}
	return saveList(p.store, profilesKey, profiles)
}

// CheckPIN verifies a PIN against the stored hash. Unlocked profiles accept
// any PIN.
func (p *Profiles) CheckPIN(index int, pin string) bool {
	profile, ok := p.Get(index)
	if !ok {
		return false
	}
	if profile.PinHash == "" {
		return true
	}
	return bcrypt.CompareHashAndPassword([]byte(profile.PinHash), []byte(pin)) == nil
}

// ActiveScopeID returns the scope of the selected profile, defaulting to the
// primary scope.
func (p *Profiles) ActiveScopeID() string {
	return p.store.Get(activeScopeKey, PrimaryScopeID)
}

// SetActiveScope selects a profile scope.
func (p *Profiles) SetActiveScope(scope string) error {
	index, err := strconv.Atoi(scope)
	if err != nil || index < 1 {
		return fmt.Errorf("invalid scope %q", scope)
	}
	if _, ok := p.Get(index); !ok {
		return fmt.Errorf("profile %d not found", index)
	}
	return p.store.Set(activeScopeKey, scope)
}

// Scopes returns every profile; callers use ScopeID() on each entry.
func (p *Profiles) Scopes() []models.Profile {
	return p.List()
}

// AddonScopeID resolves which scope's addon list the active profile uses.
// Secondary profiles may share the primary profile's addons.
func (p *Profiles) AddonScopeID() string {
	active := p.ActiveScopeID()
	if active == PrimaryScopeID {
		return active
	}
	if index, err := strconv.Atoi(active); err == nil {
		if profile, ok := p.Get(index); ok && profile.UsesPrimaryAddons {
			return PrimaryScopeID
		}
	}
	return active
}

// PluginScopeID resolves which scope's plugin list the active profile uses.
func (p *Profiles) PluginScopeID() string {
	active := p.ActiveScopeID()
	if active == PrimaryScopeID {
		return active
	}
	if index, err := strconv.Atoi(active); err == nil {
		if profile, ok := p.Get(index); ok && profile.UsesPrimaryPlugins {
			return PrimaryScopeID
		}
	}
	return active
}
