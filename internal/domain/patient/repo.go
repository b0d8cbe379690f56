package patient

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetBySubmissionToken(ctx context.Context, token string) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Patient, int, error)
	// ListHousehold returns every monitoree reporting through responderID,
	// the head included.
	ListHousehold(ctx context.Context, responderID uuid.UUID) ([]*Patient, error)
	CreateTransfer(ctx context.Context, t *Transfer) error

	// Batch job candidates, keyset paginated by id. The SQL filters are a
	// superset; callers apply the exact predicates on Patient.
	ListCloseCandidates(ctx context.Context, after uuid.UUID, limit int) ([]*Patient, error)
	ListPurgeCandidates(ctx context.Context, closedBefore time.Time, after uuid.UUID, limit int) ([]*Patient, error)
	ListReminderCandidates(ctx context.Context, after uuid.UUID, limit int) ([]*Patient, error)
	ListForExport(ctx context.Context, jurisdictionIDs []uuid.UUID, after uuid.UUID, limit int) ([]*Patient, error)
	// CountPurgeCandidates counts closed, unpurged records per jurisdiction
	// whose purge clock started before closedBefore.
	CountPurgeCandidates(ctx context.Context, closedBefore time.Time) (map[uuid.UUID]int, error)

	// Purge stages.
	DeleteDependents(ctx context.Context, id uuid.UUID) error
	MarkPurged(ctx context.Context, id uuid.UUID) error
}
