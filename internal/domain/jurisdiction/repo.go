package jurisdiction

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, j *Jurisdiction) error
	GetByID(ctx context.Context, id uuid.UUID) (*Jurisdiction, error)
	// FindChild looks up a jurisdiction by name under parentID (nil for roots).
	FindChild(ctx context.Context, parentID *uuid.UUID, name string) (*Jurisdiction, error)
	UpdateEmail(ctx context.Context, id uuid.UUID, email *string) error
	List(ctx context.Context) ([]*Jurisdiction, error)
}
