package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"

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

const patientCols = `id, nhs_number, given_name, family_name, birth_date, sex,
	postcode, gp_practice_code, active, version_id, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.NHSNumber, &p.GivenName, &p.FamilyName, &p.BirthDate, &p.Sex,
		&p.Postcode, &p.GPPracticeCode, &p.Active, &p.VersionID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("patient not found")
	}
	return &p, err
}

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (id, nhs_number, given_name, family_name, birth_date, sex,
			postcode, gp_practice_code, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING version_id, created_at, updated_at`,
		p.ID, p.NHSNumber, p.GivenName, p.FamilyName, p.BirthDate, p.Sex,
		p.Postcode, p.GPPracticeCode, p.Active,
	).Scan(&p.VersionID, &p.CreatedAt, &p.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("NHS number %s is already registered", p.NHSNumber)
	}
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
}

func (r *repoPG) GetByNHSNumber(ctx context.Context, nhsNumber string) (*Patient, error) {
	return scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE nhs_number = $1`, nhsNumber))
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patient SET nhs_number=$3, given_name=$4, family_name=$5, birth_date=$6, sex=$7,
			postcode=$8, gp_practice_code=$9, active=$10,
			version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND version_id = $2
		RETURNING version_id, created_at, updated_at`,
		p.ID, p.VersionID, p.NHSNumber, p.GivenName, p.FamilyName, p.BirthDate, p.Sex,
		p.Postcode, p.GPPracticeCode, p.Active,
	).Scan(&p.VersionID, &p.CreatedAt, &p.UpdatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return apperr.Conflict("patient %s was modified concurrently (version %d)", p.ID, p.VersionID)
	case db.IsUniqueViolation(err):
		return apperr.Conflict("NHS number %s is already registered", p.NHSNumber)
	}
	return err
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patient WHERE id = $1`, id)
	if db.IsForeignKeyViolation(err) {
		return apperr.Conflict("patient %s still has pathways", id)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("patient not found")
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return r.Search(ctx, nil, limit, offset)
}

func (r *repoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if v, ok := params["nhs_number"]; ok {
		where += fmt.Sprintf(` AND nhs_number = $%d`, idx)
		args = append(args, v)
		idx++
	}
	if v, ok := params["family"]; ok {
		where += fmt.Sprintf(` AND lower(family_name) LIKE $%d`, idx)
		args = append(args, strings.ToLower(v)+"%")
		idx++
	}
	if v, ok := params["postcode"]; ok {
		where += fmt.Sprintf(` AND replace(upper(postcode), ' ', '') = $%d`, idx)
		args = append(args, strings.ToUpper(strings.ReplaceAll(v, " ", "")))
		idx++
	}
	if v, ok := params["active"]; ok {
		where += fmt.Sprintf(` AND active = $%d`, idx)
		args = append(args, v == "true")
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + patientCols + ` FROM patient` + where +
		fmt.Sprintf(` ORDER BY family_name, given_name, id LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}
