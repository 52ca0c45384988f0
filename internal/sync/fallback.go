package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchpilot/couchpilot/internal/backend"
)

// chainStep is one candidate backend shape. Steps run in priority order; the
// chain advances past a step only when it fails with a missing-resource
// error. Any other failure is terminal for the whole pull/push so real
// backend errors are never hidden behind a fallback attempt.
type chainStep struct {
	name string
	run  func(ctx context.Context) error
}

func runChain(ctx context.Context, logger *slog.Logger, entity, op string, steps []chainStep) error {
	var lastErr error
	for _, step := range steps {
		err := step.run(ctx)
		if err == nil {
			return nil
		}
		if backend.IsMissingResource(err) {
			logger.Debug("schema candidate missing",
				"entity", entity, "op", op, "candidate", step.name)
			lastErr = err
			continue
		}
		return fmt.Errorf("%s %s via %s: %w", entity, op, step.name, err)
	}
	if lastErr == nil {
		return fmt.Errorf("%s %s: no schema candidates", entity, op)
	}
	return fmt.Errorf("%s %s: all schema candidates missing: %w", entity, op, lastErr)
}

// upsertRows writes rows declaring a conflict target; if the backend rejects
// the target for lack of a matching unique/exclusion constraint, the same
// upsert is retried once without one, letting the backend's default conflict
// resolution apply.
func upsertRows(ctx context.Context, t backend.Transport, table string, rows any, conflictColumns string) error {
	err := t.UpsertRows(ctx, table, rows, conflictColumns, true)
	if err != nil && backend.IsConstraintMismatch(err) {
		return t.UpsertRows(ctx, table, rows, "", true)
	}
	return err
}
