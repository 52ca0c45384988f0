package sync

import (
	"context"

	"github.com/couchpilot/couchpilot/internal/backend"
)

// fakeTransport implements backend.Transport with overridable functions.
// Unset methods report a missing resource so chains fall through.
type fakeTransport struct {
	callProcedure func(ctx context.Context, name string, args any, sessionAuth bool) ([]byte, error)
	selectRows    func(ctx context.Context, table, query string, sessionAuth bool) ([]byte, error)
	upsertRows    func(ctx context.Context, table string, rows any, conflictColumns string, sessionAuth bool) error
	deleteRows    func(ctx context.Context, table, query string, sessionAuth bool) error
}

func notFound() error {
	return &backend.APIError{StatusCode: 404, Code: "PGRST205", Message: "not found"}
}

func (f *fakeTransport) CallProcedure(ctx context.Context, name string, args any, sessionAuth bool) ([]byte, error) {
	if f.callProcedure != nil {
		return f.callProcedure(ctx, name, args, sessionAuth)
	}
	return nil, notFound()
}

func (f *fakeTransport) SelectRows(ctx context.Context, table, query string, sessionAuth bool) ([]byte, error) {
	if f.selectRows != nil {
		return f.selectRows(ctx, table, query, sessionAuth)
	}
	return nil, notFound()
}

func (f *fakeTransport) UpsertRows(ctx context.Context, table string, rows any, conflictColumns string, sessionAuth bool) error {
	if f.upsertRows != nil {
		return f.upsertRows(ctx, table, rows, conflictColumns, sessionAuth)
	}
	return notFound()
}

func (f *fakeTransport) DeleteRows(ctx context.Context, table, query string, sessionAuth bool) error {
	if f.deleteRows != nil {
		return f.deleteRows(ctx, table, query, sessionAuth)
	}
	return notFound()
}

// fakeAuth satisfies authProvider.
type fakeAuth struct {
	authenticated bool
	ownerID       string
	ownerErr      error
}

func (f *fakeAuth) IsAuthenticated() bool { return f.authenticated }

func (f *fakeAuth) EffectiveOwnerID(ctx context.Context) (string, error) {
	return f.ownerID, f.ownerErr
}

// fakeScopes satisfies scopeProvider with a single fixed scope.
type fakeScopes struct {
	scope string
}

func (f *fakeScopes) ActiveScopeID() string { return f.scope }
func (f *fakeScopes) AddonScopeID() string  { return f.scope }
func (f *fakeScopes) PluginScopeID() string { return f.scope }
