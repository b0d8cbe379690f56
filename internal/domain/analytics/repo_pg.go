package analytics

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/casewatch/casewatch/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

// countSQL computes every category in one pass over the monitorees.
// Overall totals cover closed records too; the other categories only
// count active monitoring. $1 is the reference date.
const countSQL = `
WITH m AS (
	SELECT jurisdiction_id,
		CASE WHEN isolation THEN 'Isolation' ELSE 'Exposure' END AS status,
		isolation,
		monitoring AS active,
		COALESCE(NULLIF(exposure_risk_assessment, ''), 'Missing') AS risk,
		COALESCE(NULLIF(sex, ''), 'Missing') AS sex,
		COALESCE(NULLIF(potential_exposure_country, ''), 'Missing') AS country,
		date_of_birth,
		last_date_of_exposure
	FROM patients
	WHERE NOT purged
)
SELECT jurisdiction_id, status, active, 'Overall Total', 'Total', risk, COUNT(*)
FROM m GROUP BY jurisdiction_id, status, active, risk
UNION ALL
SELECT jurisdiction_id, status, TRUE, 'Age Group',
	CASE
		WHEN date_of_birth IS NULL THEN 'FALSE'
		WHEN date_part('year', age($1::date, date_of_birth)) < 20 THEN '0-19'
		WHEN date_part('year', age($1::date, date_of_birth)) < 30 THEN '20-29'
		WHEN date_part('year', age($1::date, date_of_birth)) < 40 THEN '30-39'
		WHEN date_part('year', age($1::date, date_of_birth)) < 50 THEN '40-49'
		WHEN date_part('year', age($1::date, date_of_birth)) < 60 THEN '50-59'
		WHEN date_part('year', age($1::date, date_of_birth)) < 70 THEN '60-69'
		WHEN date_part('year', age($1::date, date_of_birth)) < 80 THEN '70-79'
		ELSE '>=80'
	END AS age_group,
	risk, COUNT(*)
FROM m WHERE active GROUP BY jurisdiction_id, status, age_group, risk
UNION ALL
SELECT jurisdiction_id, status, TRUE, 'Sex', sex, risk, COUNT(*)
FROM m WHERE active GROUP BY jurisdiction_id, status, sex, risk
UNION ALL
SELECT jurisdiction_id, status, TRUE, 'Exposure Country', country, risk, COUNT(*)
FROM m WHERE active AND NOT isolation GROUP BY jurisdiction_id, status, country, risk
UNION ALL
SELECT jurisdiction_id, status, TRUE, 'Last Exposure Date', to_char(last_date_of_exposure, 'YYYY-MM-DD') AS d, risk, COUNT(*)
FROM m
WHERE active AND NOT isolation AND last_date_of_exposure > $1::date - 14
GROUP BY jurisdiction_id, status, d, risk
UNION ALL
SELECT jurisdiction_id, status, TRUE, 'Last Exposure Week', to_char(date_trunc('week', last_date_of_exposure), 'YYYY-MM-DD') AS w, risk, COUNT(*)
FROM m
WHERE active AND NOT isolation AND last_date_of_exposure >= date_trunc('week', $1::date) - interval '51 weeks'
GROUP BY jurisdiction_id, status, w, risk
UNION ALL
SELECT jurisdiction_id, status, TRUE, 'Last Exposure Month', to_char(date_trunc('month', last_date_of_exposure), 'YYYY-MM') AS mo, risk, COUNT(*)
FROM m
WHERE active AND NOT isolation AND last_date_of_exposure >= date_trunc('month', $1::date) - interval '11 months'
GROUP BY jurisdiction_id, status, mo, risk`

func (r *repoPG) CountRows(ctx context.Context, now time.Time) ([]CountRow, error) {
	rows, err := r.conn(ctx).Query(ctx, countSQL, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CountRow
	for rows.Next() {
		var c CountRow
		if err := rows.Scan(&c.JurisdictionID, &c.Key.Status, &c.Key.ActiveMonitoring, &c.Key.CategoryType,
			&c.Key.Category, &c.Key.RiskLevel, &c.Total); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *repoPG) LocationRows(ctx context.Context) ([]LocationRow, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT jurisdiction_id,
			CASE WHEN isolation THEN 'Isolation' ELSE 'Exposure' END,
			COALESCE(NULLIF(address_state, ''), 'Unknown'),
			COALESCE(NULLIF(address_county, ''), 'Unknown'),
			COUNT(*)
		FROM patients
		WHERE monitoring AND NOT purged
		GROUP BY 1, 2, 3, 4`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LocationRow
	for rows.Next() {
		var l LocationRow
		if err := rows.Scan(&l.JurisdictionID, &l.Workflow, &l.State, &l.County, &l.Total); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

const snapshotSQL = `
WITH frames AS (
	SELECT * FROM unnest($2::text[], $3::timestamptz[]) WITH ORDINALITY AS f(label, since, ord)
),
flows(status, iso) AS (VALUES ('Exposure', FALSE), ('Isolation', TRUE))
SELECT w.status, f.label,
	(SELECT COUNT(*) FROM patients p
		WHERE p.jurisdiction_id = ANY($1) AND NOT p.purged AND p.isolation = w.iso
		AND p.created_at >= f.since),
	(SELECT COUNT(*) FROM transfers t JOIN patients p ON p.id = t.patient_id
		WHERE t.to_jurisdiction_id = ANY($1) AND t.from_jurisdiction_id <> ALL($1)
		AND p.isolation = w.iso AND t.created_at >= f.since),
	(SELECT COUNT(*) FROM transfers t JOIN patients p ON p.id = t.patient_id
		WHERE t.from_jurisdiction_id = ANY($1) AND t.to_jurisdiction_id <> ALL($1)
		AND p.isolation = w.iso AND t.created_at >= f.since),
	(SELECT COUNT(*) FROM patients p
		WHERE p.jurisdiction_id = ANY($1) AND NOT p.purged AND p.isolation = w.iso
		AND NOT p.monitoring AND p.closed_at >= f.since)
FROM flows w CROSS JOIN frames f
ORDER BY w.status, f.ord`

func (r *repoPG) Snapshots(ctx context.Context, subtree []uuid.UUID, frames []TimeFrame, now time.Time) ([]MonitoreeSnapshot, error) {
	labels := make([]string, len(frames))
	since := make([]time.Time, len(frames))
	for i, f := range frames {
		labels[i] = f.Label
		since[i] = f.Since(now)
	}
	rows, err := r.conn(ctx).Query(ctx, snapshotSQL, subtree, labels, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MonitoreeSnapshot
	for rows.Next() {
		var s MonitoreeSnapshot
		if err := rows.Scan(&s.Status, &s.TimeFrame, &s.NewEnrollments, &s.TransferredIn, &s.TransferredOut, &s.Closed); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *repoPG) Save(ctx context.Context, a *Analytic) error {
	a.ID = uuid.New()
	q := r.conn(ctx)
	if err := q.QueryRow(ctx,
		`INSERT INTO analytics (id, jurisdiction_id, created_at) VALUES ($1, $2, $3) RETURNING created_at`,
		a.ID, a.JurisdictionID, a.CreatedAt,
	).Scan(&a.CreatedAt); err != nil {
		return err
	}

	_, err := q.CopyFrom(ctx, pgx.Identifier{"monitoree_counts"},
		[]string{"analytic_id", "status", "active_monitoring", "category_type", "category", "risk_level", "total"},
		pgx.CopyFromSlice(len(a.Counts), func(i int) ([]any, error) {
			c := a.Counts[i]
			return []any{a.ID, c.Status, c.ActiveMonitoring, c.CategoryType, c.Category, c.RiskLevel, c.Total}, nil
		}))
	if err != nil {
		return err
	}
	_, err = q.CopyFrom(ctx, pgx.Identifier{"monitoree_snapshots"},
		[]string{"analytic_id", "status", "time_frame", "new_enrollments", "transferred_in", "transferred_out", "closed"},
		pgx.CopyFromSlice(len(a.Snapshots), func(i int) ([]any, error) {
			s := a.Snapshots[i]
			return []any{a.ID, s.Status, s.TimeFrame, s.NewEnrollments, s.TransferredIn, s.TransferredOut, s.Closed}, nil
		}))
	if err != nil {
		return err
	}
	_, err = q.CopyFrom(ctx, pgx.Identifier{"monitoree_maps"},
		[]string{"analytic_id", "level", "workflow", "state", "county", "total"},
		pgx.CopyFromSlice(len(a.Maps), func(i int) ([]any, error) {
			m := a.Maps[i]
			return []any{a.ID, m.Level, m.Workflow, m.State, m.County, m.Total}, nil
		}))
	return err
}

func (r *repoPG) Latest(ctx context.Context, jurisdictionID uuid.UUID) (*Analytic, error) {
	q := r.conn(ctx)
	a := &Analytic{}
	err := q.QueryRow(ctx, `
		SELECT id, jurisdiction_id, created_at FROM analytics
		WHERE jurisdiction_id = $1 ORDER BY created_at DESC LIMIT 1`, jurisdictionID,
	).Scan(&a.ID, &a.JurisdictionID, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `
		SELECT status, active_monitoring, category_type, category, risk_level, total
		FROM monitoree_counts WHERE analytic_id = $1
		ORDER BY status, active_monitoring DESC, category_type, category, risk_level`, a.ID)
	if err != nil {
		return nil, err
	}
	a.Counts, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (MonitoreeCount, error) {
		c := MonitoreeCount{AnalyticID: a.ID}
		err := row.Scan(&c.Status, &c.ActiveMonitoring, &c.CategoryType, &c.Category, &c.RiskLevel, &c.Total)
		return c, err
	})
	if err != nil {
		return nil, err
	}

	rows, err = q.Query(ctx, `
		SELECT status, time_frame, new_enrollments, transferred_in, transferred_out, closed
		FROM monitoree_snapshots WHERE analytic_id = $1`, a.ID)
	if err != nil {
		return nil, err
	}
	a.Snapshots, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (MonitoreeSnapshot, error) {
		s := MonitoreeSnapshot{AnalyticID: a.ID}
		err := row.Scan(&s.Status, &s.TimeFrame, &s.NewEnrollments, &s.TransferredIn, &s.TransferredOut, &s.Closed)
		return s, err
	})
	if err != nil {
		return nil, err
	}

	rows, err = q.Query(ctx, `
		SELECT level, workflow, state, county, total
		FROM monitoree_maps WHERE analytic_id = $1 ORDER BY level DESC, workflow, state, county`, a.ID)
	if err != nil {
		return nil, err
	}
	a.Maps, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (MonitoreeMap, error) {
		m := MonitoreeMap{AnalyticID: a.ID}
		err := row.Scan(&m.Level, &m.Workflow, &m.State, &m.County, &m.Total)
		return m, err
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *repoPG) DeleteStale(ctx context.Context) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		DELETE FROM analytics a
		USING (SELECT jurisdiction_id, MAX(created_at) AS newest FROM analytics GROUP BY jurisdiction_id) n
		WHERE a.jurisdiction_id = n.jurisdiction_id AND a.created_at < n.newest - interval '1 day'`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
