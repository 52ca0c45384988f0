package state

import (
	"github.com/couchpilot/couchpilot/internal/models"
	"github.com/couchpilot/couchpilot/internal/storage"
)

// Plugins is the ordered plugin-source store. Like addons, order is the
// payload; the enabled flag is device-local metadata carried through merges.
type Plugins struct {
	store storage.Store
}

func NewPlugins(store storage.Store) *Plugins {
	return &Plugins{store: store}
}

func pluginsKey(scope string) string {
	return "plugins.scope." + scope
}

// ListForScope returns the ordered plugin sources for a scope.
func (p *Plugins) ListForScope(scope string) []models.PluginSource {
	return loadList[models.PluginSource](p.store, pluginsKey(scope))
}

// ReplaceForScope writes the full ordered list, deduping by URL while
// preserving the first occurrence's position.
func (p *Plugins) ReplaceForScope(scope string, sources []models.PluginSource) error {
	seen := make(map[string]bool, len(sources))
	out := make([]models.PluginSource, 0, len(sources))
	for _, src := range sources {
		if src.URL == "" || seen[src.URL] {
			continue
		}
		seen[src.URL] = true
		out = append(out, src)
	}
	rememberScope(p.store, "plugins.scopes", scope)
	return saveList(p.store, pluginsKey(scope), out)
}

// Upsert inserts a source or updates it in place, keeping its position.
func (p *Plugins) Upsert(src models.PluginSource, scope string) error {
	sources := p.ListForScope(scope)
	for i, existing := range sources {
		if existing.URL == src.URL {
			sources[i] = src
			return p.ReplaceForScope(scope, sources)
		}
	}
	return p.ReplaceForScope(scope, append(sources, src))
}

// Remove deletes a source by URL.
func (p *Plugins) Remove(url, scope string) error {
	sources := p.ListForScope(scope)
	out := sources[:0]
	for _, existing := range sources {
		if existing.URL != url {
			out = append(out, existing)
		}
	}
	return p.ReplaceForScope(scope, out)
}

// SetEnabled toggles a source without changing its position.
func (p *Plugins) SetEnabled(url, scope string, enabled bool) error {
	sources := p.ListForScope(scope)
	for i := range sources {
		if sources[i].URL == url {
			sources[i].Enabled = enabled
			return saveList(p.store, pluginsKey(scope), sources)
		}
	}
	return nil
}
