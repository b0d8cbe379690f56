package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/casewatch/casewatch/internal/domain/jurisdiction"
	"github.com/casewatch/casewatch/internal/platform/db"
)

// Jurisdictions provides the hierarchy the counts are rolled up through.
type Jurisdictions interface {
	Tree(ctx context.Context) (*jurisdiction.Tree, error)
}

type Service struct {
	repo          Repository
	jurisdictions Jurisdictions
	tx            db.Transactor
	logger        zerolog.Logger
	now           func() time.Time
}

func NewService(repo Repository, jurisdictions Jurisdictions, tx db.Transactor, logger zerolog.Logger) *Service {
	if tx == nil {
		tx = db.NoTx{}
	}
	return &Service{
		repo:          repo,
		jurisdictions: jurisdictions,
		tx:            tx,
		logger:        logger.With().Str("component", "analytics").Logger(),
		now:           time.Now,
	}
}

// Cache computes the statistics of every jurisdiction subtree and stores
// one Analytic per jurisdiction. Monitorees are grouped once per
// jurisdiction and rolled up through the tree; snapshots are queried per
// subtree. A failed jurisdiction is reported and skipped.
func (s *Service) Cache(ctx context.Context) (*Result, error) {
	tree, err := s.jurisdictions.Tree(ctx)
	if err != nil {
		return nil, fmt.Errorf("load jurisdictions: %w", err)
	}
	now := s.now()

	countRows, err := s.repo.CountRows(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("count monitorees: %w", err)
	}
	locationRows, err := s.repo.LocationRows(ctx)
	if err != nil {
		return nil, fmt.Errorf("count monitoree locations: %w", err)
	}
	counts := rollUp(tree, groupCounts(countRows))
	maps := rollUp(tree, groupLocations(locationRows))

	res := &Result{Jurisdictions: tree.Len()}
	for _, j := range tree.All() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
			snaps, err := s.repo.Snapshots(ctx, tree.Subtree(j.ID), TimeFrames, now)
			if err != nil {
				return fmt.Errorf("snapshots: %w", err)
			}
			a := &Analytic{
				JurisdictionID: j.ID,
				CreatedAt:      now,
				Counts:         countsFrom(counts[j.ID]),
				Snapshots:      snaps,
				Maps:           mapsFrom(maps[j.ID]),
			}
			return s.repo.Save(ctx, a)
		})
		if err != nil {
			s.logger.Error().Err(err).Str("jurisdiction_id", j.ID.String()).Msg("cache analytics failed")
			res.Failures = append(res.Failures, Failure{JurisdictionID: j.ID, Path: j.Path, Reason: err.Error()})
			continue
		}
		res.Created++
	}

	deleted, err := s.repo.DeleteStale(ctx)
	if err != nil {
		return res, fmt.Errorf("delete stale analytics: %w", err)
	}
	res.Deleted = deleted

	s.logger.Info().
		Int("jurisdictions", res.Jurisdictions).
		Int("created", res.Created).
		Int("failed", len(res.Failures)).
		Int64("deleted", res.Deleted).
		Msg("analytics cached")
	return res, nil
}

// Latest returns the newest analytic of a jurisdiction.
func (s *Service) Latest(ctx context.Context, jurisdictionID uuid.UUID) (*Analytic, error) {
	return s.repo.Latest(ctx, jurisdictionID)
}

// Visible reports whether a caller scoped to userJurisdiction may read
// the analytics of jurisdictionID.
func (s *Service) Visible(ctx context.Context, userJurisdiction, jurisdictionID uuid.UUID) (bool, error) {
	tree, err := s.jurisdictions.Tree(ctx)
	if err != nil {
		return false, err
	}
	if _, ok := tree.Get(jurisdictionID); !ok {
		return false, jurisdiction.ErrNotFound
	}
	if userJurisdiction == uuid.Nil {
		return true, nil
	}
	return tree.Contains(userJurisdiction, jurisdictionID), nil
}
