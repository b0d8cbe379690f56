package jobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/casewatch/casewatch/internal/domain/patient"
	"github.com/casewatch/casewatch/internal/platform/notification"
	"github.com/casewatch/casewatch/pkg/pagination"
)

func (r *Runner) cacheAnalytics(ctx context.Context, sum *Summary) error {
	res, err := r.analytics.Cache(ctx)
	if err != nil {
		return err
	}
	sum.Eligible = res.Jurisdictions
	sum.Succeeded = res.Created
	for _, f := range res.Failures {
		sum.Failures = append(sum.Failures, Failure{ID: f.JurisdictionID.String(), Reason: f.Path + ": " + f.Reason})
	}
	sum.addf("Cached analytics for %d of %d jurisdictions.", res.Created, res.Jurisdictions)
	sum.addf("Removed %d stale analytics.", res.Deleted)
	return nil
}

func (r *Runner) closePatients(ctx context.Context, sum *Summary) error {
	rules := r.patients.Rules()
	var closed []string
	changed := 0
	err := pagination.EachBatch(ctx, r.opts.BatchSize, r.patients.CloseCandidates, patientKey,
		func(ctx context.Context, batch []*patient.Patient) error {
			now := r.now()
			for _, p := range batch {
				if !p.CloseEligible(now, rules) {
					continue
				}
				sum.Eligible++
				if err := r.patients.CloseCompleted(ctx, p); err != nil {
					if errors.Is(err, patient.ErrNoLongerEligible) {
						sum.Skipped++
						changed++
						continue
					}
					r.fail(ctx, sum, p.ID, err)
					continue
				}
				sum.Succeeded++
				closed = append(closed, p.ID.String())

				if p.PreferredContactMethod != patient.ContactEmail || p.Email == nil || *p.Email == "" {
					continue
				}
				err := r.mailer.Send(ctx, notification.TemplateMonitoreeClosed, *p.Email, map[string]string{
					"name":      p.DisplayName(),
					"closed_at": p.ClosedAt.In(p.Location()).Format("2006-01-02"),
				})
				if err != nil {
					r.fail(ctx, sum, p.ID, fmt.Errorf("closure email: %w", err))
				}
			}
			return nil
		})
	sum.addf("Closed %d of %d monitorees who completed monitoring.", sum.Succeeded, sum.Eligible)
	if changed > 0 {
		sum.addf("Skipped %d records that changed since they were selected.", changed)
	}
	if len(closed) > 0 {
		sum.addf("Closed records: %s", strings.Join(closed, ", "))
	}
	return err
}

func (r *Runner) purge(ctx context.Context, sum *Summary) error {
	rules := r.patients.Rules()
	heads, changed := 0, 0
	err := pagination.EachBatch(ctx, r.opts.BatchSize, r.patients.PurgeCandidates, patientKey,
		func(ctx context.Context, batch []*patient.Patient) error {
			now := r.now()
			for _, p := range batch {
				if !p.PurgeEligible(now, rules) {
					continue
				}
				sum.Eligible++
				if p.IsHead() {
					ok, err := r.patients.HouseholdPurgeable(ctx, p)
					if err != nil {
						r.fail(ctx, sum, p.ID, fmt.Errorf("check household: %w", err))
						continue
					}
					if !ok {
						sum.Skipped++
						heads++
						continue
					}
				}
				if err := r.patients.Purge(ctx, p); err != nil {
					if errors.Is(err, patient.ErrNoLongerEligible) {
						sum.Skipped++
						changed++
						continue
					}
					r.fail(ctx, sum, p.ID, err)
					continue
				}
				sum.Succeeded++
			}
			return nil
		})
	sum.addf("Purged %d of %d eligible monitorees.", sum.Succeeded, sum.Eligible)
	if heads > 0 {
		sum.addf("Skipped %d heads of household whose dependents are not purge eligible.", heads)
	}
	if changed > 0 {
		sum.addf("Skipped %d records that changed since they were selected.", changed)
	}
	if err != nil {
		return err
	}

	n, err := r.downloads.PurgeExpired(ctx)
	if err != nil {
		sum.Failures = append(sum.Failures, Failure{ID: "downloads", Reason: err.Error()})
	}
	sum.addf("Removed %d expired downloads.", n)
	return nil
}

func (r *Runner) purgeWarnings(ctx context.Context, sum *Summary) error {
	counts, err := r.patients.UpcomingPurges(ctx, r.opts.PurgeWarningWindow)
	if err != nil {
		return fmt.Errorf("count upcoming purges: %w", err)
	}
	all, err := r.jurisdictions.List(ctx)
	if err != nil {
		return fmt.Errorf("list jurisdictions: %w", err)
	}
	days := strconv.Itoa(int(r.opts.PurgeWarningWindow.Hours() / 24))
	for _, j := range all {
		n := counts[j.ID]
		if n == 0 || j.Email == nil || *j.Email == "" {
			continue
		}
		sum.Eligible++
		err := r.mailer.Send(ctx, notification.TemplatePurgeWarning, *j.Email, map[string]string{
			"jurisdiction": j.Path,
			"count":        strconv.Itoa(n),
			"days":         days,
		})
		if err != nil {
			sum.Failures = append(sum.Failures, Failure{ID: j.ID.String(), Reason: err.Error()})
			continue
		}
		sum.Succeeded++
	}
	sum.addf("Sent %d purge warnings.", sum.Succeeded)
	return nil
}
