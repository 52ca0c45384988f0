package state

import (
	"sync"

	"github.com/couchpilot/couchpilot/internal/models"
	"github.com/couchpilot/couchpilot/internal/storage"
)

// Addons is the ordered addon-reference store. The payload is the order of
// canonical base URLs; there are no timestamps.
type Addons struct {
	store storage.Store

	mu        sync.Mutex
	nextSub   int
	listeners map[int]func()
}

func NewAddons(store storage.Store) *Addons {
	return &Addons{
		store:     store,
		listeners: make(map[int]func()),
	}
}

func addonsKey(scope string) string {
	return "addons.scope." + scope
}

// ListForScope returns the ordered addon URLs for a scope.
func (a *Addons) ListForScope(scope string) []string {
	return loadList[string](a.store, addonsKey(scope))
}

// ReplaceForScope writes the full ordered list, canonicalizing and deduping
// while preserving the first occurrence's position.
func (a *Addons) ReplaceForScope(scope string, urls []string) error {
	out := canonicalizeAddonList(urls)
	rememberScope(a.store, "addons.scopes", scope)
	if err := saveList(a.store, addonsKey(scope), out); err != nil {
		return err
	}
	a.notify()
	return nil
}

// ApplyMerged writes a merged list without firing mutation listeners. Used
// by the sync pull so merging remote state never schedules a push of its own.
func (a *Addons) ApplyMerged(scope string, urls []string) error {
	rememberScope(a.store, "addons.scopes", scope)
	return saveList(a.store, addonsKey(scope), canonicalizeAddonList(urls))
}

// Add appends an addon URL if it is not already installed.
func (a *Addons) Add(url, scope string) error {
	canonical := models.CanonicalAddonURL(url)
	if canonical == "" {
		return nil
	}
	urls := a.ListForScope(scope)
	for _, existing := range urls {
		if existing == canonical {
			return nil
		}
	}
	return a.ReplaceForScope(scope, append(urls, canonical))
}

// Remove uninstalls an addon URL.
func (a *Addons) Remove(url, scope string) error {
	canonical := models.CanonicalAddonURL(url)
	urls := a.ListForScope(scope)
	out := urls[:0]
	for _, existing := range urls {
		if existing != canonical {
			out = append(out, existing)
		}
	}
	return a.ReplaceForScope(scope, out)
}

// Subscribe registers a mutation listener and returns its unsubscribe func.
// The orchestrator uses this to debounce pushes after addon edits.
func (a *Addons) Subscribe(fn func()) func() {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.nextSub
	a.nextSub++
	a.listeners[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.listeners, id)
	}
}

func (a *Addons) notify() {
	a.mu.Lock()
	fns := make([]func(), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func canonicalizeAddonList(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, url := range urls {
		canonical := models.CanonicalAddonURL(url)
		if canonical == "" || seen[canonical] {
			continue
		}
		seen[canonical] = true
		out = append(out, canonical)
	}
	return out
}
