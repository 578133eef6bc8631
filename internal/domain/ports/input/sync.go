package input

import (
	"context"

	"ghscope/internal/domain/models"
)

type SyncInputPort interface {
	// EnsureSynced reconciles the request against the cache store and
	// reports a per-kind outcome. Kind failures are isolated; the map
	// always has an entry for every requested kind.
	EnsureSynced(ctx context.Context, req models.SyncRequest) (map[models.EntityKind]models.SyncOutcome, error)
}
