package history

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, h *History) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*History, int, error)
	// ListByPatients returns every entry for the given monitorees, oldest first.
	ListByPatients(ctx context.Context, patientIDs []uuid.UUID) ([]*History, error)
}
