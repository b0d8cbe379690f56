package patient

import (
	"time"
)

// Linelist statuses.
const (
	StatusSymptomatic     = "symptomatic"
	StatusPUI             = "pui"
	StatusNonReporting    = "non_reporting"
	StatusAsymptomatic    = "asymptomatic"
	StatusRequiringReview = "requiring_review"
	StatusReporting       = "reporting"
	StatusClosed          = "closed"
	StatusPurged          = "purged"
)

// Location resolves the monitoree's time zone, falling back to the
// default zone when it is empty or unknown.
func (p *Patient) Location() *time.Location {
	tz := p.TimeZone
	if tz == "" {
		tz = DefaultTimeZone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// localDate is the calendar date of t in loc, expressed as UTC midnight so
// it compares directly with DATE columns.
func localDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Status classifies the monitoree for the linelist at time now.
func (p *Patient) Status(now time.Time, rules Rules) string {
	switch {
	case p.Purged:
		return StatusPurged
	case !p.Monitoring:
		return StatusClosed
	case p.Isolation:
		if p.RecoveryMet(now, rules) {
			return StatusRequiringReview
		}
		if p.NonReporting(now, rules) {
			return StatusNonReporting
		}
		return StatusReporting
	case p.SymptomOnset != nil:
		return StatusSymptomatic
	case p.PublicHealthAction != "" && p.PublicHealthAction != PublicHealthNone:
		return StatusPUI
	case p.NonReporting(now, rules):
		return StatusNonReporting
	default:
		return StatusAsymptomatic
	}
}

// NonReporting reports whether no assessment arrived within the reporting
// period. Records enrolled inside the period are not yet non-reporting.
func (p *Patient) NonReporting(now time.Time, rules Rules) bool {
	cutoff := now.Add(-rules.ReportingPeriod)
	if p.LatestAssessmentAt == nil {
		return p.CreatedAt.Before(cutoff)
	}
	return p.LatestAssessmentAt.Before(cutoff)
}

// RecoveryMet reports whether an isolation case meets the recovery
// definition and needs review for release. An extended isolation date
// overrides the symptom and lab based rules.
func (p *Patient) RecoveryMet(now time.Time, rules Rules) bool {
	today := localDate(now, p.Location())
	if p.ExtendedIsolation != nil {
		return !dateOnly(*p.ExtendedIsolation).After(today)
	}

	cutoff := today.AddDate(0, 0, -rules.IsolationSymptomDays)
	noRecentFever := p.LatestFeverOrFeverReducerAt == nil ||
		p.LatestFeverOrFeverReducerAt.Before(now.Add(-24*time.Hour))

	switch {
	case p.SymptomOnset != nil:
		return !dateOnly(*p.SymptomOnset).After(cutoff) && noRecentFever
	case p.FirstPositiveLabAt != nil:
		return !dateOnly(*p.FirstPositiveLabAt).After(cutoff)
	}
	return false
}

// MonitoringPeriodEnd is the last day of monitoring: the configured number
// of days after the last exposure, or after enrollment when unknown.
func (p *Patient) MonitoringPeriodEnd(rules Rules) time.Time {
	base := localDate(p.CreatedAt, p.Location())
	if p.LastDateOfExposure != nil {
		base = dateOnly(*p.LastDateOfExposure)
	}
	return base.AddDate(0, 0, rules.MonitoringPeriodDays)
}

// CloseEligible reports whether the record completed monitoring: an
// asymptomatic exposure case, not continuously exposed, whose monitoring
// period has ended and who reported on or after its last day.
func (p *Patient) CloseEligible(now time.Time, rules Rules) bool {
	if !p.Monitoring || p.Purged || p.Isolation || p.ContinuousExposure || p.SymptomOnset != nil {
		return false
	}
	loc := p.Location()
	end := p.MonitoringPeriodEnd(rules)
	if !localDate(now, loc).After(end) {
		return false
	}
	if p.LatestAssessmentAt == nil {
		return false
	}
	return !localDate(*p.LatestAssessmentAt, loc).Before(end)
}

// PurgeReference is the time the purge clock runs from.
func (p *Patient) PurgeReference() time.Time {
	if p.ClosedAt != nil {
		return *p.ClosedAt
	}
	return p.UpdatedAt
}

// PurgeEligible reports whether a closed record has been closed long
// enough to be purged.
func (p *Patient) PurgeEligible(now time.Time, rules Rules) bool {
	if p.Monitoring || p.Purged {
		return false
	}
	return p.PurgeReference().Before(now.Add(-rules.PurgeableAfter))
}

// Mask clears identifying attributes. Attributes used by analytics are
// kept; date of birth keeps only its year so age groups still work.
func (p *Patient) Mask() {
	p.FirstName = nil
	p.LastName = nil
	p.Email = nil
	p.PrimaryTelephone = nil
	p.AddressLine1 = nil
	p.AddressCity = nil
	p.AddressZip = nil
	p.Notes = nil
	p.SubmissionToken = nil
	if p.DateOfBirth != nil {
		dob := time.Date(p.DateOfBirth.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
		p.DateOfBirth = &dob
	}
}

// ContactWindow returns the local [from, to) hours a reminder may be sent
// in for a preferred contact time.
func ContactWindow(preferred string) (from, to int) {
	switch preferred {
	case TimeMorning:
		return 8, 12
	case TimeAfternoon:
		return 12, 16
	case TimeEvening:
		return 16, 19
	}
	return 8, 19
}

// ReminderDue reports whether an assessment reminder should go out now.
func (p *Patient) ReminderDue(now time.Time, rules Rules) bool {
	if !p.Monitoring || p.Purged || !p.IsHead() {
		return false
	}
	if p.PreferredContactMethod == ContactOptOut || p.PreferredContactMethod == ContactUnknown || p.PreferredContactMethod == "" {
		return false
	}

	loc := p.Location()
	local := now.In(loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	if p.LatestAssessmentAt != nil && !p.LatestAssessmentAt.Before(dayStart) {
		return false
	}
	if p.LastAssessmentReminderSent != nil && !p.LastAssessmentReminderSent.Before(dayStart) {
		return false
	}

	from, to := ContactWindow(p.PreferredContactTime)
	if h := local.Hour(); h < from || h >= to {
		return false
	}

	if !p.Isolation && !p.ContinuousExposure && localDate(now, loc).After(p.MonitoringPeriodEnd(rules)) {
		return false
	}
	return true
}

// AgeAt returns the age in whole years, or -1 when the birth date is unknown.
func (p *Patient) AgeAt(now time.Time) int {
	if p.DateOfBirth == nil {
		return -1
	}
	dob := *p.DateOfBirth
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	return age
}
