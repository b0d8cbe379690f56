package history

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Record appends a history entry to a monitoree record.
func (s *Service) Record(ctx context.Context, patientID uuid.UUID, createdBy, historyType, comment string) (*History, error) {
	if patientID == uuid.Nil {
		return nil, fmt.Errorf("patient_id is required")
	}
	if !validTypes[historyType] {
		return nil, fmt.Errorf("invalid history type: %s", historyType)
	}
	if comment == "" {
		return nil, fmt.Errorf("comment is required")
	}
	if createdBy == "" {
		createdBy = SystemActor
	}
	h := &History{PatientID: patientID, CreatedBy: createdBy, HistoryType: historyType, Comment: comment}
	if err := s.repo.Create(ctx, h); err != nil {
		return nil, fmt.Errorf("create history: %w", err)
	}
	return h, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*History, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListByPatients(ctx context.Context, patientIDs []uuid.UUID) ([]*History, error) {
	if len(patientIDs) == 0 {
		return nil, nil
	}
	return s.repo.ListByPatients(ctx, patientIDs)
}
