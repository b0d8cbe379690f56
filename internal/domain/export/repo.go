package export

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, d *Download) error
	GetByLookup(ctx context.Context, lookup string) (*Download, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListCreatedBefore(ctx context.Context, before time.Time) ([]*Download, error)
}
