package episode

import (
	"context"
	"errors"

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

const episodeCols = `id, pathway_id, patient_id, episode_type, episode_date, clinician, rtt_code,
	outcome, procedure_code, test_name, notes, created_at, updated_at`

func scanEpisode(row pgx.Row) (*Episode, error) {
	var e Episode
	err := row.Scan(&e.ID, &e.PathwayID, &e.PatientID, &e.EpisodeType, &e.EpisodeDate, &e.Clinician, &e.RTTCode,
		&e.Outcome, &e.ProcedureCode, &e.TestName, &e.Notes, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("episode not found")
	}
	return &e, err
}

func (r *repoPG) Create(ctx context.Context, e *Episode) error {
	e.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO episode (id, pathway_id, patient_id, episode_type, episode_date, clinician, rtt_code,
			outcome, procedure_code, test_name, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		e.ID, e.PathwayID, e.PatientID, e.EpisodeType, e.EpisodeDate, e.Clinician, e.RTTCode,
		e.Outcome, e.ProcedureCode, e.TestName, e.Notes,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if db.IsForeignKeyViolation(err) {
		return apperr.NotFound("pathway not found")
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Episode, error) {
	return scanEpisode(r.conn(ctx).QueryRow(ctx, `SELECT `+episodeCols+` FROM episode WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, e *Episode) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE episode SET episode_type=$2, episode_date=$3, clinician=$4, rtt_code=$5,
			outcome=$6, procedure_code=$7, test_name=$8, notes=$9, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		e.ID, e.EpisodeType, e.EpisodeDate, e.Clinician, e.RTTCode,
		e.Outcome, e.ProcedureCode, e.TestName, e.Notes,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("episode not found")
	}
	return err
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM episode WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("episode not found")
	}
	return nil
}

func (r *repoPG) ListByPathway(ctx context.Context, pathwayID uuid.UUID, limit, offset int) ([]*Episode, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM episode WHERE pathway_id = $1`, pathwayID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+episodeCols+` FROM episode WHERE pathway_id = $1
		ORDER BY episode_date, created_at LIMIT $2 OFFSET $3`, pathwayID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

func (r *repoPG) LatestCoded(ctx context.Context, pathwayID uuid.UUID) (*Episode, error) {
	e, err := scanEpisode(r.conn(ctx).QueryRow(ctx, `SELECT `+episodeCols+` FROM episode
		WHERE pathway_id = $1 AND rtt_code IS NOT NULL AND rtt_code <> ''
		ORDER BY episode_date DESC, created_at DESC LIMIT 1`, pathwayID))
	if apperr.IsNotFound(err) {
		return nil, nil
	}
	return e, err
}
