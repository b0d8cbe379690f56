package patient

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Keyset-paginated candidate lists for the batch jobs. They over-select;
// jobs re-check the exact predicate on each record.

func (s *Service) CloseCandidates(ctx context.Context, after uuid.UUID, limit int) ([]*Patient, error) {
	return s.repo.ListCloseCandidates(ctx, after, limit)
}

func (s *Service) PurgeCandidates(ctx context.Context, after uuid.UUID, limit int) ([]*Patient, error) {
	return s.repo.ListPurgeCandidates(ctx, s.now().Add(-s.rules.PurgeableAfter), after, limit)
}

func (s *Service) ReminderCandidates(ctx context.Context, after uuid.UUID, limit int) ([]*Patient, error) {
	return s.repo.ListReminderCandidates(ctx, after, limit)
}

// ExportBatch returns a page of non-purged monitorees in scope with their
// linelist status. A nil scope exports every jurisdiction.
func (s *Service) ExportBatch(ctx context.Context, jurisdictionIDs []uuid.UUID, after uuid.UUID, limit int) ([]*Patient, error) {
	items, err := s.repo.ListForExport(ctx, jurisdictionIDs, after, limit)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for _, p := range items {
		p.LinelistStatus = p.Status(now, s.rules)
	}
	return items, nil
}

// UpcomingPurges counts, per jurisdiction, the closed records that become
// purge eligible within the given window.
func (s *Service) UpcomingPurges(ctx context.Context, within time.Duration) (map[uuid.UUID]int, error) {
	return s.repo.CountPurgeCandidates(ctx, s.now().Add(-s.rules.PurgeableAfter).Add(within))
}
