package episode

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, e *Episode) error
	GetByID(ctx context.Context, id uuid.UUID) (*Episode, error)
	Update(ctx context.Context, e *Episode) error
	Delete(ctx context.Context, id uuid.UUID) error
	// ListByPathway returns the episodes of a pathway by episode date, oldest first.
	ListByPathway(ctx context.Context, pathwayID uuid.UUID, limit, offset int) ([]*Episode, int, error)
	// LatestCoded returns the most recently dated episode carrying an RTT
	// code, later-created first on the same day, or nil when there is none.
	LatestCoded(ctx context.Context, pathwayID uuid.UUID) (*Episode, error)
}
