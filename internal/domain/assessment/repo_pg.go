package assessment

import (
	"context"

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

const cols = `id, patient_id, symptomatic, who_reported, reported_symptoms, created_at`

func (r *repoPG) Create(ctx context.Context, a *Assessment) error {
	a.ID = uuid.New()
	if a.ReportedSymptoms == nil {
		a.ReportedSymptoms = []Symptom{}
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO assessments (id, patient_id, symptomatic, who_reported, reported_symptoms)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		a.ID, a.PatientID, a.Symptomatic, a.WhoReported, a.ReportedSymptoms,
	).Scan(&a.CreatedAt)
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Assessment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM assessments WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+cols+` FROM assessments WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := collect(rows)
	return items, total, err
}

func (r *repoPG) ListByPatients(ctx context.Context, patientIDs []uuid.UUID) ([]*Assessment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+cols+` FROM assessments WHERE patient_id = ANY($1) ORDER BY patient_id, created_at`,
		patientIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

func collect(rows pgx.Rows) ([]*Assessment, error) {
	var out []*Assessment
	for rows.Next() {
		var a Assessment
		if err := rows.Scan(&a.ID, &a.PatientID, &a.Symptomatic, &a.WhoReported, &a.ReportedSymptoms, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (r *repoPG) CreateLab(ctx context.Context, l *Laboratory) error {
	l.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO laboratories (id, patient_id, lab_type, specimen_collection, result)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		l.ID, l.PatientID, l.LabType, l.SpecimenCollection, l.Result,
	).Scan(&l.CreatedAt)
}

func (r *repoPG) ListLabs(ctx context.Context, patientID uuid.UUID) ([]*Laboratory, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, patient_id, lab_type, specimen_collection, result, created_at
		FROM laboratories WHERE patient_id = $1 ORDER BY created_at DESC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Laboratory
	for rows.Next() {
		var l Laboratory
		if err := rows.Scan(&l.ID, &l.PatientID, &l.LabType, &l.SpecimenCollection, &l.Result, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}
