package assessment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/casewatch/casewatch/internal/domain/patient"
	"github.com/casewatch/casewatch/internal/platform/db"
)

// Patients is the part of the patient service reports update.
type Patients interface {
	Get(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
	ByToken(ctx context.Context, token string) (*patient.Patient, error)
	Household(ctx context.Context, id uuid.UUID) ([]*patient.Patient, error)
	Visible(ctx context.Context, userJurisdiction uuid.UUID, p *patient.Patient) (bool, error)
	RecordAssessment(ctx context.Context, id uuid.UUID, at time.Time, symptomatic, fever bool) (*patient.Patient, error)
	RecordPositiveLab(ctx context.Context, id uuid.UUID, collected time.Time) error
}

type Service struct {
	repo     Repository
	patients Patients
	tx       db.Transactor
	now      func() time.Time
}

func NewService(repo Repository, patients Patients, tx db.Transactor) *Service {
	if tx == nil {
		tx = db.NoTx{}
	}
	return &Service{repo: repo, patients: patients, tx: tx, now: time.Now}
}

// Create stores an assessment for a monitoree and updates its reporting
// fields in the same transaction.
func (s *Service) Create(ctx context.Context, patientID uuid.UUID, a *Assessment, who string) error {
	for _, sym := range a.ReportedSymptoms {
		if sym.Name == "" {
			return fmt.Errorf("symptom name is required")
		}
	}
	a.PatientID = patientID
	a.WhoReported = who
	if a.WhoReported == "" {
		a.WhoReported = WhoMonitoree
	}
	a.Symptomatic = a.Symptomatic || a.anySymptom()

	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, a); err != nil {
			return fmt.Errorf("create assessment: %w", err)
		}
		at := a.CreatedAt
		if at.IsZero() {
			at = s.now()
		}
		_, err := s.patients.RecordAssessment(ctx, patientID, at, a.Symptomatic, a.HasFever())
		return err
	})
}

// Submit stores a report sent through a submission link. patientID picks
// a household member; uuid.Nil reports for the link owner. Only a head of
// household's token is accepted.
func (s *Service) Submit(ctx context.Context, token string, patientID uuid.UUID, a *Assessment) error {
	head, err := s.patients.ByToken(ctx, token)
	if err != nil {
		return err
	}
	if !head.IsHead() {
		return patient.ErrNotFound
	}
	target := head.ID
	if patientID != uuid.Nil && patientID != head.ID {
		members, err := s.patients.Household(ctx, head.ID)
		if err != nil {
			return err
		}
		found := false
		for _, m := range members {
			if m.ID == patientID {
				found = true
				break
			}
		}
		if !found {
			return patient.ErrNotFound
		}
		target = patientID
	}
	return s.Create(ctx, target, a, WhoMonitoree)
}

func (s *Service) List(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Assessment, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListByPatients(ctx context.Context, patientIDs []uuid.UUID) ([]*Assessment, error) {
	if len(patientIDs) == 0 {
		return nil, nil
	}
	return s.repo.ListByPatients(ctx, patientIDs)
}

// AddLab stores a lab result. A positive result with a collection date
// can move the monitoree's first positive lab date earlier.
func (s *Service) AddLab(ctx context.Context, patientID uuid.UUID, l *Laboratory) error {
	if l.LabType == "" {
		return fmt.Errorf("lab_type is required")
	}
	l.PatientID = patientID
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateLab(ctx, l); err != nil {
			return fmt.Errorf("create laboratory: %w", err)
		}
		if l.Result != ResultPositive || l.SpecimenCollection == nil {
			return nil
		}
		return s.patients.RecordPositiveLab(ctx, patientID, *l.SpecimenCollection)
	})
}

func (s *Service) ListLabs(ctx context.Context, patientID uuid.UUID) ([]*Laboratory, error) {
	return s.repo.ListLabs(ctx, patientID)
}
