package reporting

import "context"

type Repository interface {
	// Rows returns pathways joined with their patient, filtered by
	// specialty, type and status, ordered by clock start.
	Rows(ctx context.Context, f Filter) ([]*Row, error)
	CountByTypeStatus(ctx context.Context) ([]TypeStatusCount, error)
}
