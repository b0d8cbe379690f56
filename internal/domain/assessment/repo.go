package assessment

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, a *Assessment) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Assessment, int, error)
	ListByPatients(ctx context.Context, patientIDs []uuid.UUID) ([]*Assessment, error)
	CreateLab(ctx context.Context, l *Laboratory) error
	ListLabs(ctx context.Context, patientID uuid.UUID) ([]*Laboratory, error)
}
