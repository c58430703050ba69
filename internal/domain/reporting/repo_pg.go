package reporting

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rtt/rtt/internal/platform/db"
)

var dialect = goqu.Dialect("postgres")

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

// rowsQuery builds the waiting-list select for f.
func rowsQuery(f Filter) (string, []interface{}, error) {
	ds := dialect.From(goqu.T("pathway").As("pw")).
		Join(goqu.T("patient").As("pt"), goqu.On(goqu.I("pt.id").Eq(goqu.I("pw.patient_id")))).
		Select(
			goqu.I("pw.id"), goqu.I("pw.patient_id"), goqu.I("pt.nhs_number"),
			goqu.I("pt.given_name"), goqu.I("pt.family_name"), goqu.I("pw.pathway_type"),
			goqu.I("pw.specialty_code"), goqu.I("pw.priority"), goqu.I("pw.status"),
			goqu.I("pw.clock_start"), goqu.I("pw.clock_stop"), goqu.I("pw.pause_start"),
			goqu.I("pw.paused_days"),
		).
		Order(goqu.I("pw.clock_start").Asc(), goqu.I("pw.id").Asc()).
		Prepared(true)

	if f.Specialty != "" {
		ds = ds.Where(goqu.I("pw.specialty_code").Eq(f.Specialty))
	}
	if f.PathwayType != "" {
		ds = ds.Where(goqu.I("pw.pathway_type").Eq(f.PathwayType))
	}
	if f.Status != "" {
		ds = ds.Where(goqu.I("pw.status").Eq(f.Status))
	}
	return ds.ToSQL()
}

func (r *repoPG) Rows(ctx context.Context, f Filter) ([]*Row, error) {
	query, args, err := rowsQuery(f)
	if err != nil {
		return nil, fmt.Errorf("build waiting list query: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Row
	for rows.Next() {
		var row Row
		if err := rows.Scan(&row.PathwayID, &row.PatientID, &row.NHSNumber,
			&row.GivenName, &row.FamilyName, &row.PathwayType,
			&row.SpecialtyCode, &row.Priority, &row.Status,
			&row.ClockStart, &row.ClockStop, &row.PauseStart,
			&row.PausedDays); err != nil {
			return nil, err
		}
		items = append(items, &row)
	}
	return items, rows.Err()
}

func countQuery() (string, []interface{}, error) {
	return dialect.From("pathway").
		Select(goqu.C("pathway_type"), goqu.C("status"), goqu.COUNT("*").As("total")).
		GroupBy(goqu.C("pathway_type"), goqu.C("status")).
		Order(goqu.C("pathway_type").Asc(), goqu.C("status").Asc()).
		ToSQL()
}

func (r *repoPG) CountByTypeStatus(ctx context.Context) ([]TypeStatusCount, error) {
	query, args, err := countQuery()
	if err != nil {
		return nil, fmt.Errorf("build count query: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TypeStatusCount
	for rows.Next() {
		var c TypeStatusCount
		if err := rows.Scan(&c.PathwayType, &c.Status, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
