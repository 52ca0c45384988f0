// Package sync implements the state synchronization engine: one service per
// entity with pull/push semantics, the schema fallback chain that lets the
// client talk to multiple generations of the same backend, and the
// orchestrator that schedules cycles around authentication state and local
// mutations.
package sync

import (
	"context"
)

// authProvider is the slice of the session the services depend on.
type authProvider interface {
	IsAuthenticated() bool
	EffectiveOwnerID(ctx context.Context) (string, error)
}

// scopeProvider resolves which profile scope's rows to read and write.
// Implemented by state.Profiles.
type scopeProvider interface {
	ActiveScopeID() string
	AddonScopeID() string
	PluginScopeID() string
}

// Service is the orchestrator-facing surface of an entity sync service.
// Refresh is the internal pull: unlike the public Pull methods it surfaces an
// error so the orchestrator can drive its retry logic. Push reports success.
type Service interface {
	Name() string
	Refresh(ctx context.Context) error
	Push(ctx context.Context) bool
}
