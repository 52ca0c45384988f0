package state

import (
	"testing"

	"github.com/couchpilot/couchpilot/internal/models"
	"github.com/couchpilot/couchpilot/internal/storage"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	return store
}

func TestProfilesDefaultPrimary(t *testing.T) {
	p := NewProfiles(newTestStore(t))

	profiles := p.List()
	if len(profiles) != 1 {
		t.Fatalf("expected the default profile, got %d", len(profiles))
	}
	if profiles[0].Index != 1 || !profiles[0].IsPrimary {
		t.Errorf("default profile must be primary index 1, got %+v", profiles[0])
	}
	if p.ActiveScopeID() != PrimaryScopeID {
		t.Errorf("default active scope must be %q, got %q", PrimaryScopeID, p.ActiveScopeID())
	}
}

func TestProfilesReplaceDedupesAndFixesPrimary(t *testing.T) {
	p := NewProfiles(newTestStore(t))

	err := p.Replace([]models.Profile{
		{Index: 1, Name: "Main", IsPrimary: false},
		{Index: 2, Name: "Kids"},
		{Index: 2, Name: "Duplicate"},
		{Index: 0, Name: "Invalid"},
	})
	if err != nil {
		t.Fatalf("replace failed: %v", err)
	}

	profiles := p.List()
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles after dedupe, got %d", len(profiles))
	}
	if !profiles[0].IsPrimary {
		t.Errorf("index 1 must be primary regardless of the incoming flag")
	}
	if profiles[1].Name != "Kids" {
		t.Errorf("first occurrence of a duplicate index wins, got %q", profiles[1].Name)
	}
}

func TestProfilesRemovePrimaryRejected(t *testing.T) {
	p := NewProfiles(newTestStore(t))
	if err := p.Remove(1); err == nil {
		t.Error("removing the primary profile must fail")
	}
}

func TestProfilesRemoveResetsActiveScope(t *testing.T) {
	p := NewProfiles(newTestStore(t))
	_ = p.Replace([]models.Profile{{Index: 1, Name: "Main"}, {Index: 2, Name: "Kids"}})
	if err := p.SetActiveScope("2"); err != nil {
		t.Fatalf("select failed: %v", err)
	}

	if err := p.Remove(2); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if p.ActiveScopeID() != PrimaryScopeID {
		t.Errorf("removing the active profile must fall back to the primary scope, got %q", p.ActiveScopeID())
	}
}

func TestProfilesPIN(t *testing.T) {
	p := NewProfiles(newTestStore(t))
	_ = p.Replace([]models.Profile{{Index: 1, Name: "Main"}, {Index: 2, Name: "Kids"}})

	if !p.CheckPIN(2, "anything") {
		t.Error("unlocked profile accepts any PIN")
	}

	if err := p.SetPIN(2, "1234"); err != nil {
		t.Fatalf("set pin failed: %v", err)
	}
	if !p.CheckPIN(2, "1234") {
		t.Error("correct PIN rejected")
	}
	if p.CheckPIN(2, "9999") {
		t.Error("wrong PIN accepted")
	}

	if err := p.SetPIN(2, ""); err != nil {
		t.Fatalf("clear pin failed: %v", err)
	}
	if !p.CheckPIN(2, "whatever") {
		t.Error("cleared PIN must unlock the profile")
	}
}

func TestProfilesUpsertKeepsPinHash(t *testing.T) {
	p := NewProfiles(newTestStore(t))
	_ = p.Replace([]models.Profile{{Index: 1, Name: "Main"}, {Index: 2, Name: "Kids"}})
	_ = p.SetPIN(2, "1234")

	if err := p.Upsert(models.Profile{Index: 2, Name: "Renamed"}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if !p.CheckPIN(2, "1234") {
		t.Error("upsert without a pin hash must keep the existing one")
	}
	profile, _ := p.Get(2)
	if profile.Name != "Renamed" {
		t.Errorf("got %q", profile.Name)
	}
}

func TestScopeSharingResolution(t *testing.T) {
	p := NewProfiles(newTestStore(t))
	_ = p.Replace([]models.Profile{
		{Index: 1, Name: "Main"},
		{Index: 2, Name: "Shared", UsesPrimaryAddons: true},
		{Index: 3, Name: "Own"},
	})

	_ = p.SetActiveScope("2")
	if got := p.AddonScopeID(); got != PrimaryScopeID {
		t.Errorf("sharing profile must resolve addon scope to primary, got %q", got)
	}
	if got := p.PluginScopeID(); got != "2" {
		t.Errorf("plugin sharing is independent of addon sharing, got %q", got)
	}

	_ = p.SetActiveScope("3")
	if got := p.AddonScopeID(); got != "3" {
		t.Errorf("non-sharing profile keeps its own scope, got %q", got)
	}
}

func TestSetActiveScopeValidation(t *testing.T) {
	p := NewProfiles(newTestStore(t))
	if err := p.SetActiveScope("99"); err == nil {
		t.Error("selecting a missing profile must fail")
	}
	if err := p.SetActiveScope("abc"); err == nil {
		t.Error("non-numeric scope must fail")
	}
}
