package patient

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordAssessment updates the reporting fields after a new assessment.
// The first symptomatic report sets the symptom onset when none is known.
func (s *Service) RecordAssessment(ctx context.Context, id uuid.UUID, at time.Time, symptomatic, fever bool) (*Patient, error) {
	var p *Patient
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Purged {
			return fmt.Errorf("%w: record is purged", ErrInvalidTransition)
		}
		if p.LatestAssessmentAt == nil || at.After(*p.LatestAssessmentAt) {
			p.LatestAssessmentAt = &at
		}
		if symptomatic && p.SymptomOnset == nil {
			onset := localDate(at, p.Location())
			p.SymptomOnset = &onset
		}
		if fever && (p.LatestFeverOrFeverReducerAt == nil || at.After(*p.LatestFeverOrFeverReducerAt)) {
			p.LatestFeverOrFeverReducerAt = &at
		}
		return s.repo.Update(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	p.LinelistStatus = p.Status(s.now(), s.rules)
	return p, nil
}

// RecordPositiveLab keeps the earliest positive specimen date.
func (s *Service) RecordPositiveLab(ctx context.Context, id uuid.UUID, collected time.Time) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		d := dateOnly(collected)
		if p.FirstPositiveLabAt != nil && !d.Before(*p.FirstPositiveLabAt) {
			return nil
		}
		p.FirstPositiveLabAt = &d
		return s.repo.Update(ctx, p)
	})
}

// ByToken resolves a submission token to the reporting monitoree.
func (s *Service) ByToken(ctx context.Context, token string) (*Patient, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	return s.repo.GetBySubmissionToken(ctx, token)
}
