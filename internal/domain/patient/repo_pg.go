package patient

import (
	"context"
	"errors"
	"strconv"
	"strings"
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

const patientCols = `id, jurisdiction_id, responder_id, creator_id,
	first_name, last_name, date_of_birth, sex, email, primary_telephone,
	address_line_1, address_city, address_state, address_county, address_zip,
	isolation, monitoring, monitoring_reason, monitoring_plan, exposure_risk_assessment,
	public_health_action, case_status, continuous_exposure,
	last_date_of_exposure, symptom_onset, extended_isolation, potential_exposure_country,
	preferred_contact_method, preferred_contact_time, time_zone, submission_token,
	latest_assessment_at, latest_fever_or_fever_reducer_at, first_positive_lab_at,
	last_assessment_reminder_sent, closed_at, purged, notes, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	if p.ResponderID == uuid.Nil {
		p.ResponderID = p.ID
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (
			id, jurisdiction_id, responder_id, creator_id,
			first_name, last_name, date_of_birth, sex, email, primary_telephone,
			address_line_1, address_city, address_state, address_county, address_zip,
			isolation, monitoring, monitoring_reason, monitoring_plan, exposure_risk_assessment,
			public_health_action, case_status, continuous_exposure,
			last_date_of_exposure, symptom_onset, extended_isolation, potential_exposure_country,
			preferred_contact_method, preferred_contact_time, time_zone, submission_token,
			first_positive_lab_at, notes
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,
			$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
			$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,
			$31,$32,$33
		)
		RETURNING created_at, updated_at`,
		p.ID, p.JurisdictionID, p.ResponderID, p.CreatorID,
		p.FirstName, p.LastName, p.DateOfBirth, p.Sex, p.Email, p.PrimaryTelephone,
		p.AddressLine1, p.AddressCity, p.AddressState, p.AddressCounty, p.AddressZip,
		p.Isolation, p.Monitoring, p.MonitoringReason, p.MonitoringPlan, p.ExposureRiskAssessment,
		p.PublicHealthAction, p.CaseStatus, p.ContinuousExposure,
		p.LastDateOfExposure, p.SymptomOnset, p.ExtendedIsolation, p.PotentialExposureCountry,
		p.PreferredContactMethod, p.PreferredContactTime, p.TimeZone, p.SubmissionToken,
		p.FirstPositiveLabAt, p.Notes,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (r *repoPG) GetBySubmissionToken(ctx context.Context, token string) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE submission_token = $1 AND NOT purged`, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE patients SET
			jurisdiction_id=$2, responder_id=$3,
			first_name=$4, last_name=$5, date_of_birth=$6, sex=$7, email=$8, primary_telephone=$9,
			address_line_1=$10, address_city=$11, address_state=$12, address_county=$13, address_zip=$14,
			isolation=$15, monitoring=$16, monitoring_reason=$17, monitoring_plan=$18,
			exposure_risk_assessment=$19, public_health_action=$20, case_status=$21,
			continuous_exposure=$22, last_date_of_exposure=$23, symptom_onset=$24,
			extended_isolation=$25, potential_exposure_country=$26,
			preferred_contact_method=$27, preferred_contact_time=$28, time_zone=$29,
			submission_token=$30, latest_assessment_at=$31, latest_fever_or_fever_reducer_at=$32,
			first_positive_lab_at=$33, last_assessment_reminder_sent=$34, closed_at=$35,
			notes=$36, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.JurisdictionID, p.ResponderID,
		p.FirstName, p.LastName, p.DateOfBirth, p.Sex, p.Email, p.PrimaryTelephone,
		p.AddressLine1, p.AddressCity, p.AddressState, p.AddressCounty, p.AddressZip,
		p.Isolation, p.Monitoring, p.MonitoringReason, p.MonitoringPlan,
		p.ExposureRiskAssessment, p.PublicHealthAction, p.CaseStatus,
		p.ContinuousExposure, p.LastDateOfExposure, p.SymptomOnset,
		p.ExtendedIsolation, p.PotentialExposureCountry,
		p.PreferredContactMethod, p.PreferredContactTime, p.TimeZone,
		p.SubmissionToken, p.LatestAssessmentAt, p.LatestFeverOrFeverReducerAt,
		p.FirstPositiveLabAt, p.LastAssessmentReminderSent, p.ClosedAt,
		p.Notes,
	).Scan(&p.UpdatedAt)
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Patient, int, error) {
	where := []string{"purged = FALSE", "monitoring = $1"}
	args := []interface{}{!f.Closed}
	if f.JurisdictionIDs != nil {
		args = append(args, f.JurisdictionIDs)
		where = append(where, "jurisdiction_id = ANY($2)")
	}
	switch f.Workflow {
	case "exposure":
		where = append(where, "isolation = FALSE")
	case "isolation":
		where = append(where, "isolation = TRUE")
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patients WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	n := len(args)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+patientCols+` FROM patients WHERE `+cond+
			` ORDER BY last_name NULLS LAST, first_name NULLS LAST, id LIMIT $`+strconv.Itoa(n+1)+` OFFSET $`+strconv.Itoa(n+2),
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := collectPatients(rows)
	return items, total, err
}

func (r *repoPG) ListHousehold(ctx context.Context, responderID uuid.UUID) ([]*Patient, error) {
	return r.query(ctx, `SELECT `+patientCols+` FROM patients WHERE responder_id = $1 ORDER BY id`, responderID)
}

func (r *repoPG) CreateTransfer(ctx context.Context, t *Transfer) error {
	t.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO transfers (id, patient_id, from_jurisdiction_id, to_jurisdiction_id, who_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		t.ID, t.PatientID, t.FromJurisdictionID, t.ToJurisdictionID, t.WhoID,
	).Scan(&t.CreatedAt)
}

func (r *repoPG) ListCloseCandidates(ctx context.Context, after uuid.UUID, limit int) ([]*Patient, error) {
	return r.query(ctx, `SELECT `+patientCols+` FROM patients
		WHERE monitoring = TRUE AND purged = FALSE AND isolation = FALSE
		  AND continuous_exposure = FALSE AND symptom_onset IS NULL
		  AND latest_assessment_at IS NOT NULL
		  AND id > $1
		ORDER BY id LIMIT $2`, after, limit)
}

func (r *repoPG) ListPurgeCandidates(ctx context.Context, closedBefore time.Time, after uuid.UUID, limit int) ([]*Patient, error) {
	return r.query(ctx, `SELECT `+patientCols+` FROM patients
		WHERE monitoring = FALSE AND purged = FALSE
		  AND COALESCE(closed_at, updated_at) < $1
		  AND id > $2
		ORDER BY id LIMIT $3`, closedBefore, after, limit)
}

func (r *repoPG) ListReminderCandidates(ctx context.Context, after uuid.UUID, limit int) ([]*Patient, error) {
	return r.query(ctx, `SELECT `+patientCols+` FROM patients
		WHERE monitoring = TRUE AND purged = FALSE AND responder_id = id
		  AND preferred_contact_method NOT IN ('Opt-out', 'Unknown')
		  AND id > $1
		ORDER BY id LIMIT $2`, after, limit)
}

func (r *repoPG) ListForExport(ctx context.Context, jurisdictionIDs []uuid.UUID, after uuid.UUID, limit int) ([]*Patient, error) {
	if jurisdictionIDs == nil {
		return r.query(ctx, `SELECT `+patientCols+` FROM patients
			WHERE purged = FALSE AND id > $1 ORDER BY id LIMIT $2`, after, limit)
	}
	return r.query(ctx, `SELECT `+patientCols+` FROM patients
		WHERE purged = FALSE AND jurisdiction_id = ANY($1) AND id > $2
		ORDER BY id LIMIT $3`, jurisdictionIDs, after, limit)
}

func (r *repoPG) CountPurgeCandidates(ctx context.Context, closedBefore time.Time) (map[uuid.UUID]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT jurisdiction_id, COUNT(*) FROM patients
		WHERE monitoring = FALSE AND purged = FALSE AND COALESCE(closed_at, updated_at) < $1
		GROUP BY jurisdiction_id`, closedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID]int)
	for rows.Next() {
		var id uuid.UUID
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

func (r *repoPG) DeleteDependents(ctx context.Context, id uuid.UUID) error {
	for _, table := range []string{"assessments", "laboratories", "transfers", "histories"} {
		if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM `+table+` WHERE patient_id = $1`, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *repoPG) MarkPurged(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE patients SET purged = TRUE, updated_at = NOW() WHERE id = $1`, id)
	return err
}

func (r *repoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*Patient, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPatients(rows)
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID, &p.JurisdictionID, &p.ResponderID, &p.CreatorID,
		&p.FirstName, &p.LastName, &p.DateOfBirth, &p.Sex, &p.Email, &p.PrimaryTelephone,
		&p.AddressLine1, &p.AddressCity, &p.AddressState, &p.AddressCounty, &p.AddressZip,
		&p.Isolation, &p.Monitoring, &p.MonitoringReason, &p.MonitoringPlan, &p.ExposureRiskAssessment,
		&p.PublicHealthAction, &p.CaseStatus, &p.ContinuousExposure,
		&p.LastDateOfExposure, &p.SymptomOnset, &p.ExtendedIsolation, &p.PotentialExposureCountry,
		&p.PreferredContactMethod, &p.PreferredContactTime, &p.TimeZone, &p.SubmissionToken,
		&p.LatestAssessmentAt, &p.LatestFeverOrFeverReducerAt, &p.FirstPositiveLabAt,
		&p.LastAssessmentReminderSent, &p.ClosedAt, &p.Purged, &p.Notes, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectPatients(rows pgx.Rows) ([]*Patient, error) {
	var out []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
