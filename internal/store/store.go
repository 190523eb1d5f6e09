package store

import (
	"context"

	"github.com/seantiz/stepwise/internal/model"
)

// Store defines durable persistence for plan snapshots. The engine's
// in-memory registry is authoritative; a Store only has to remember the
// newest snapshot of each live plan so it can be restored after a restart.
type Store interface {
	// SavePlan upserts a snapshot. A snapshot whose Version is not greater
	// than the stored one is ignored, as is any snapshot of a deleted plan.
	SavePlan(ctx context.Context, p *model.Plan) error
	// DeletePlan tombstones a plan so that late snapshots cannot revive it.
	DeletePlan(ctx context.Context, id string) error
	// LoadPlans returns every live plan ordered by ID. Plan IDs are ULIDs
	// minted in registration order.
	LoadPlans(ctx context.Context) ([]*model.Plan, error)
	Close() error
}
