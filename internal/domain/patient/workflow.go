package patient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/casewatch/casewatch/internal/domain/history"
)

// StatusUpdate changes workflow fields. Nil fields are left untouched.
type StatusUpdate struct {
	Monitoring             *bool   `json:"monitoring"`
	Isolation              *bool   `json:"isolation"`
	ExposureRiskAssessment *string `json:"exposure_risk_assessment"`
	MonitoringPlan         *string `json:"monitoring_plan"`
	PublicHealthAction     *string `json:"public_health_action"`
	CaseStatus             *string `json:"case_status"`
	MonitoringReason       *string `json:"monitoring_reason"`
	Reasoning              string  `json:"reasoning"`
	ApplyToHousehold       bool    `json:"apply_to_household"`
}

func (u StatusUpdate) validate() error {
	if u.ExposureRiskAssessment != nil && !validRisks[*u.ExposureRiskAssessment] {
		return fmt.Errorf("%w: exposure_risk_assessment %q", ErrInvalidTransition, *u.ExposureRiskAssessment)
	}
	if u.MonitoringPlan != nil && !validMonitoringPlans[*u.MonitoringPlan] {
		return fmt.Errorf("%w: monitoring_plan %q", ErrInvalidTransition, *u.MonitoringPlan)
	}
	if u.PublicHealthAction != nil && !validPublicHealthActions[*u.PublicHealthAction] {
		return fmt.Errorf("%w: public_health_action %q", ErrInvalidTransition, *u.PublicHealthAction)
	}
	if u.CaseStatus != nil && !validCaseStatuses[*u.CaseStatus] {
		return fmt.Errorf("%w: case_status %q", ErrInvalidTransition, *u.CaseStatus)
	}
	return nil
}

func monitoringLabel(v bool) string {
	if v {
		return "Actively Monitoring"
	}
	return "Not Monitoring"
}

func workflowLabel(isolation bool) string {
	if isolation {
		return "Isolation"
	}
	return "Exposure"
}

func blank(s string) string {
	if s == "" {
		return "blank"
	}
	return s
}

// apply mutates p and returns one history comment per changed field.
func (u StatusUpdate) apply(p *Patient, now time.Time) []string {
	var notes []string
	change := func(field, from, to string) {
		msg := fmt.Sprintf("User changed %s from %q to %q.", field, blank(from), blank(to))
		if u.Reasoning != "" {
			msg += " Reason: " + u.Reasoning
		}
		notes = append(notes, msg)
	}

	if u.PublicHealthAction != nil && *u.PublicHealthAction != p.PublicHealthAction {
		change("Latest Public Health Action", p.PublicHealthAction, *u.PublicHealthAction)
		p.PublicHealthAction = *u.PublicHealthAction
	}
	if u.Isolation != nil && *u.Isolation != p.Isolation {
		change("Workflow", workflowLabel(p.Isolation), workflowLabel(*u.Isolation))
		p.Isolation = *u.Isolation
		// the isolation workflow has no public health action
		if p.Isolation && p.PublicHealthAction != PublicHealthNone {
			change("Latest Public Health Action", p.PublicHealthAction, PublicHealthNone)
			p.PublicHealthAction = PublicHealthNone
		}
	}
	if u.Monitoring != nil && *u.Monitoring != p.Monitoring {
		change("Monitoring Status", monitoringLabel(p.Monitoring), monitoringLabel(*u.Monitoring))
		p.Monitoring = *u.Monitoring
		if p.Monitoring {
			p.ClosedAt = nil
		} else {
			closed := now
			p.ClosedAt = &closed
			p.ContinuousExposure = false
		}
	}
	if u.ExposureRiskAssessment != nil && *u.ExposureRiskAssessment != p.ExposureRiskAssessment {
		change("Exposure Risk Assessment", p.ExposureRiskAssessment, *u.ExposureRiskAssessment)
		p.ExposureRiskAssessment = *u.ExposureRiskAssessment
	}
	if u.MonitoringPlan != nil && *u.MonitoringPlan != p.MonitoringPlan {
		change("Monitoring Plan", p.MonitoringPlan, *u.MonitoringPlan)
		p.MonitoringPlan = *u.MonitoringPlan
	}
	if u.CaseStatus != nil && *u.CaseStatus != p.CaseStatus {
		change("Case Status", p.CaseStatus, *u.CaseStatus)
		p.CaseStatus = *u.CaseStatus
	}
	if u.MonitoringReason != nil && *u.MonitoringReason != p.MonitoringReason {
		change("Monitoring Reason", p.MonitoringReason, *u.MonitoringReason)
		p.MonitoringReason = *u.MonitoringReason
	}
	return notes
}

// UpdateStatus applies u to the monitoree, and to every household member
// when ApplyToHousehold is set. Each changed field is recorded as a
// Monitoring Change history entry. userJurisdiction is the caller's
// jurisdiction (uuid.Nil when unrestricted); a household update touching a
// member outside it is rejected. It returns the updated records.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, u StatusUpdate, userJurisdiction uuid.UUID, actor string) ([]*Patient, error) {
	if err := u.validate(); err != nil {
		return nil, err
	}
	now := s.now()
	var targets []*Patient
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Purged {
			return fmt.Errorf("%w: record is purged", ErrInvalidTransition)
		}
		targets = []*Patient{p}
		if u.ApplyToHousehold {
			members, err := s.repo.ListHousehold(ctx, p.ResponderID)
			if err != nil {
				return fmt.Errorf("list household: %w", err)
			}
			for _, m := range members {
				if m.ID == p.ID || m.Purged {
					continue
				}
				ok, err := s.Visible(ctx, userJurisdiction, m)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("%w: household member %s", ErrForbidden, m.ID)
				}
				locked, err := s.repo.GetForUpdate(ctx, m.ID)
				if err != nil {
					return err
				}
				targets = append(targets, locked)
			}
		}

		for _, t := range targets {
			notes := u.apply(t, now)
			if len(notes) == 0 {
				continue
			}
			if err := s.repo.Update(ctx, t); err != nil {
				return fmt.Errorf("update monitoree %s: %w", t.ID, err)
			}
			for _, note := range notes {
				if t.ID != p.ID {
					note = strings.TrimSuffix(note, ".") + " (applied to household)."
				}
				if _, err := s.histories.Record(ctx, t.ID, actor, history.TypeMonitoringChange, note); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, t := range targets {
		t.LinelistStatus = t.Status(now, s.rules)
	}
	return targets, nil
}

// CloseCompleted closes a record whose monitoring period completed. The
// row is reloaded under lock and eligibility checked again, so a report
// recorded after p was selected is kept and the record stays open with
// ErrNoLongerEligible. On success p holds the closed record.
func (s *Service) CloseCompleted(ctx context.Context, p *Patient) error {
	now := s.now()
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := s.repo.GetForUpdate(ctx, p.ID)
		if err != nil {
			return err
		}
		if !cur.CloseEligible(now, s.rules) {
			return ErrNoLongerEligible
		}
		cur.Monitoring = false
		cur.ClosedAt = &now
		cur.MonitoringReason = ReasonCompleted
		if err := s.repo.Update(ctx, cur); err != nil {
			return fmt.Errorf("close monitoree: %w", err)
		}
		if _, err := s.histories.Record(ctx, cur.ID, history.SystemActor, history.TypeMonitoringChange,
			fmt.Sprintf("System closed monitoree record. Reason: %s.", ReasonCompleted)); err != nil {
			return err
		}
		*p = *cur
		return nil
	})
}

// Purge redacts a closed record in three stages: dependent rows are
// deleted, identifying attributes are masked, then the record is flagged
// purged. Purging an already purged record does nothing; a record that was
// reopened since p was read fails with ErrNoLongerEligible.
func (s *Service) Purge(ctx context.Context, p *Patient) error {
	if p.Purged {
		return nil
	}
	now := s.now()
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := s.repo.GetForUpdate(ctx, p.ID)
		if err != nil {
			return err
		}
		if cur.Purged {
			*p = *cur
			return nil
		}
		if !cur.PurgeEligible(now, s.rules) {
			return ErrNoLongerEligible
		}
		if err := s.repo.DeleteDependents(ctx, cur.ID); err != nil {
			return fmt.Errorf("delete dependent rows: %w", err)
		}
		cur.Mask()
		if err := s.repo.Update(ctx, cur); err != nil {
			return fmt.Errorf("mask identifiers: %w", err)
		}
		if err := s.repo.MarkPurged(ctx, cur.ID); err != nil {
			return fmt.Errorf("mark purged: %w", err)
		}
		cur.Purged = true
		*p = *cur
		return nil
	})
}

// HouseholdPurgeable reports whether every dependent of head is purged or
// purge eligible, so the head may be purged.
func (s *Service) HouseholdPurgeable(ctx context.Context, head *Patient) (bool, error) {
	members, err := s.repo.ListHousehold(ctx, head.ID)
	if err != nil {
		return false, err
	}
	now := s.now()
	for _, m := range members {
		if m.ID == head.ID {
			continue
		}
		if !m.Purged && !m.PurgeEligible(now, s.rules) {
			return false, nil
		}
	}
	return true, nil
}

// RecordReminder stamps the reminder time on the current row and logs the
// contact attempt.
func (s *Service) RecordReminder(ctx context.Context, p *Patient, method string) error {
	now := s.now()
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := s.repo.GetForUpdate(ctx, p.ID)
		if err != nil {
			return err
		}
		cur.LastAssessmentReminderSent = &now
		if err := s.repo.Update(ctx, cur); err != nil {
			return fmt.Errorf("stamp reminder: %w", err)
		}
		if _, err := s.histories.Record(ctx, cur.ID, history.SystemActor, history.TypeContactAttempt,
			fmt.Sprintf("System sent a daily report reminder via %s.", method)); err != nil {
			return err
		}
		*p = *cur
		return nil
	})
}
