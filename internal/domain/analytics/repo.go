package analytics

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// CountRows groups non-purged monitorees by jurisdiction and category.
	CountRows(ctx context.Context, now time.Time) ([]CountRow, error)
	LocationRows(ctx context.Context) ([]LocationRow, error)
	// Snapshots computes the time frame statistics of one subtree.
	// Transfers between members of the subtree are not counted.
	Snapshots(ctx context.Context, subtree []uuid.UUID, frames []TimeFrame, now time.Time) ([]MonitoreeSnapshot, error)
	Save(ctx context.Context, a *Analytic) error
	Latest(ctx context.Context, jurisdictionID uuid.UUID) (*Analytic, error)
	// DeleteStale removes analytics more than a day older than the newest
	// analytic of the same jurisdiction.
	DeleteStale(ctx context.Context) (int64, error)
}
