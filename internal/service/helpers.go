// Package service implements the orchestration engine: coordinator, step
// executor, ticket resolution, SLA monitoring, and result reporting.
package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/gatewright/gatewright/internal/domain"
	"github.com/gatewright/gatewright/internal/domain/workflow"
	"github.com/gatewright/gatewright/internal/port/database"
)

// ErrSuperseded is returned when an instance was cancelled or force-timed-out
// while work for it was in flight; the in-flight result is discarded.
var ErrSuperseded = errors.New("instance superseded; result discarded")

// errNoChange signals that a mutation found nothing to apply; the caller
// treats it as success without writing.
var errNoChange = errors.New("no change to apply")

func generateID() string {
	return uuid.NewString()
}

// applyUpdate performs an optimistic read-modify-write: mutate is applied to
// the freshest copy of the instance and retried on version conflicts. mutate
// must re-check its preconditions every call and may return ErrSuperseded or
// errNoChange to abort. Returns the instance copy that was written.
func applyUpdate(ctx context.Context, store database.Store, in *workflow.Instance, mutate func(*workflow.Instance) error) (*workflow.Instance, error) {
	cur := in
	for {
		if err := mutate(cur); err != nil {
			if errors.Is(err, errNoChange) {
				return cur, nil
			}
			return cur, err
		}
		err := store.UpdateInstance(ctx, cur)
		if err == nil {
			return cur, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return cur, err
		}
		fresh, gerr := store.GetInstance(ctx, cur.ID)
		if gerr != nil {
			return cur, gerr
		}
		cur = fresh
	}
}
