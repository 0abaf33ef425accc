package port

import (
	"context"

	"github.com/tmarlin/clipharvest/internal/domain"
)

// CheckpointStore persists batch progress. Save must be atomic from the
// caller's perspective: a subsequent Load observes either the full updated
// checkpoint or the previous one, never a partial write. Load returns
// domain.ErrNotFound for an unknown batch ID.
type CheckpointStore interface {
	Load(ctx context.Context, batchID string) (*domain.BatchCheckpoint, error)
	Save(ctx context.Context, checkpoint *domain.BatchCheckpoint) error
}
