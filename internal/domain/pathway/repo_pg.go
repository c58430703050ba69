package pathway

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rtt/rtt/internal/platform/db"
	"github.com/rtt/rtt/pkg/apperr"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const pathwayCols = `id, patient_id, pathway_type, specialty_code, referral_source, referring_org_code,
	consultant, priority, referral_date, clock_start, clock_stop, pause_start, paused_days,
	status, clock_state, stop_reason, last_rtt_code, last_breach_status, version_id,
	created_at, updated_at`

func scanPathway(row pgx.Row) (*Pathway, error) {
	var p Pathway
	err := row.Scan(&p.ID, &p.PatientID, &p.PathwayType, &p.SpecialtyCode, &p.ReferralSource, &p.ReferringOrgCode,
		&p.Consultant, &p.Priority, &p.ReferralDate, &p.ClockStart, &p.ClockStop, &p.PauseStart, &p.PausedDays,
		&p.Status, &p.ClockState, &p.StopReason, &p.LastRTTCode, &p.LastBreachStatus, &p.VersionID,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("pathway not found")
	}
	return &p, err
}

func (r *repoPG) Create(ctx context.Context, p *Pathway) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO pathway (id, patient_id, pathway_type, specialty_code, referral_source, referring_org_code,
			consultant, priority, referral_date, clock_start, clock_stop, pause_start, paused_days,
			status, clock_state, stop_reason, last_rtt_code)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING version_id, created_at, updated_at`,
		p.ID, p.PatientID, p.PathwayType, p.SpecialtyCode, p.ReferralSource, p.ReferringOrgCode,
		p.Consultant, p.Priority, p.ReferralDate, p.ClockStart, p.ClockStop, p.PauseStart, p.PausedDays,
		p.Status, p.ClockState, p.StopReason, p.LastRTTCode,
	).Scan(&p.VersionID, &p.CreatedAt, &p.UpdatedAt)
	if db.IsForeignKeyViolation(err) {
		return apperr.Validation("patient %s does not exist", p.PatientID)
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Pathway, error) {
	return scanPathway(r.conn(ctx).QueryRow(ctx, `SELECT `+pathwayCols+` FROM pathway WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, p *Pathway) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE pathway SET specialty_code=$3, referral_source=$4, referring_org_code=$5,
			consultant=$6, priority=$7,
			version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND version_id = $2
		RETURNING version_id, updated_at`,
		p.ID, p.VersionID, p.SpecialtyCode, p.ReferralSource, p.ReferringOrgCode,
		p.Consultant, p.Priority,
	).Scan(&p.VersionID, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.Conflict("pathway %s was modified concurrently (version %d)", p.ID, p.VersionID)
	}
	return err
}

func (r *repoPG) UpdateClock(ctx context.Context, p *Pathway) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE pathway SET clock_start=$3, clock_stop=$4, pause_start=$5, paused_days=$6,
			status=$7, clock_state=$8, stop_reason=$9, last_rtt_code=$10, last_breach_status=$11,
			version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND version_id = $2
		RETURNING version_id, updated_at`,
		p.ID, p.VersionID, p.ClockStart, p.ClockStop, p.PauseStart, p.PausedDays,
		p.Status, p.ClockState, p.StopReason, p.LastRTTCode, p.LastBreachStatus,
	).Scan(&p.VersionID, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.Conflict("pathway %s was modified concurrently (version %d)", p.ID, p.VersionID)
	}
	return err
}

func (r *repoPG) UpdateBreachStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE pathway SET last_breach_status = $2 WHERE id = $1`, id, status)
	return err
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM pathway WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("pathway not found")
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Pathway, int, error) {
	return r.Search(ctx, nil, limit, offset)
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Pathway, int, error) {
	return r.Search(ctx, map[string]string{"patient": patientID.String()}, limit, offset)
}

func (r *repoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Pathway, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	for _, f := range []struct{ param, column string }{
		{"patient", "patient_id"},
		{"status", "status"},
		{"type", "pathway_type"},
		{"specialty", "specialty_code"},
		{"clock_state", "clock_state"},
		{"priority", "priority"},
	} {
		if v, ok := params[f.param]; ok {
			where += fmt.Sprintf(` AND %s = $%d`, f.column, idx)
			args = append(args, v)
			idx++
		}
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM pathway`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + pathwayCols + ` FROM pathway` + where +
		fmt.Sprintf(` ORDER BY clock_start, id LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Pathway
	for rows.Next() {
		p, err := scanPathway(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *repoPG) ListOpen(ctx context.Context, after uuid.UUID, limit int) ([]*Pathway, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+pathwayCols+` FROM pathway
		WHERE status = 'open' AND id > $1 ORDER BY id LIMIT $2`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Pathway
	for rows.Next() {
		p, err := scanPathway(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *repoPG) AddClockEvent(ctx context.Context, e *ClockEvent) error {
	e.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO pathway_clock_event (id, pathway_id, event_type, event_date, reason, rtt_code, recorded_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		e.ID, e.PathwayID, e.EventType, e.EventDate, e.Reason, e.RTTCode, e.RecordedBy,
	).Scan(&e.CreatedAt)
}

func (r *repoPG) ListClockEvents(ctx context.Context, pathwayID uuid.UUID) ([]*ClockEvent, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, pathway_id, event_type, event_date, reason, rtt_code, recorded_by, created_at
		FROM pathway_clock_event WHERE pathway_id = $1 ORDER BY created_at, event_date`, pathwayID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ClockEvent
	for rows.Next() {
		var e ClockEvent
		if err := rows.Scan(&e.ID, &e.PathwayID, &e.EventType, &e.EventDate, &e.Reason, &e.RTTCode,
			&e.RecordedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &e)
	}
	return items, rows.Err()
}

func (r *repoPG) UpsertMilestone(ctx context.Context, m *Milestone) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO pathway_milestone (id, pathway_id, milestone_type, target_date, achieved_date, notes)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (pathway_id, milestone_type) DO UPDATE
			SET target_date = EXCLUDED.target_date, achieved_date = EXCLUDED.achieved_date,
				notes = EXCLUDED.notes, updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		m.ID, m.PathwayID, m.MilestoneType, m.TargetDate, m.AchievedDate, m.Notes,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
}

func (r *repoPG) ListMilestones(ctx context.Context, pathwayID uuid.UUID) ([]*Milestone, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, pathway_id, milestone_type, target_date, achieved_date, notes, created_at, updated_at
		FROM pathway_milestone WHERE pathway_id = $1 ORDER BY target_date, milestone_type`, pathwayID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Milestone
	for rows.Next() {
		var m Milestone
		if err := rows.Scan(&m.ID, &m.PathwayID, &m.MilestoneType, &m.TargetDate, &m.AchievedDate,
			&m.Notes, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, &m)
	}
	return items, rows.Err()
}
