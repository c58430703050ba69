package pathway

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Pathway) error
	GetByID(ctx context.Context, id uuid.UUID) (*Pathway, error)
	// Update writes the referral details. Clock columns are left alone.
	Update(ctx context.Context, p *Pathway) error
	// UpdateClock writes the clock columns, status, stop reason, last RTT
	// code and last reported breach status, guarded by the version.
	UpdateClock(ctx context.Context, p *Pathway) error
	UpdateBreachStatus(ctx context.Context, id uuid.UUID, status string) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Pathway, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Pathway, int, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Pathway, int, error)
	// ListOpen pages through open pathways ordered by id, starting after the given id.
	ListOpen(ctx context.Context, after uuid.UUID, limit int) ([]*Pathway, error)

	AddClockEvent(ctx context.Context, e *ClockEvent) error
	ListClockEvents(ctx context.Context, pathwayID uuid.UUID) ([]*ClockEvent, error)

	UpsertMilestone(ctx context.Context, m *Milestone) error
	ListMilestones(ctx context.Context, pathwayID uuid.UUID) ([]*Milestone, error)
}
