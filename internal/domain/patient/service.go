package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/casewatch/casewatch/internal/domain/history"
	"github.com/casewatch/casewatch/internal/domain/jurisdiction"
	"github.com/casewatch/casewatch/internal/platform/db"
)

// Jurisdictions is the part of the jurisdiction service the workflow needs.
type Jurisdictions interface {
	Get(ctx context.Context, id uuid.UUID) (*jurisdiction.Jurisdiction, error)
	Subtree(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error)
}

// HistoryRecorder appends audit entries.
type HistoryRecorder interface {
	Record(ctx context.Context, patientID uuid.UUID, createdBy, historyType, comment string) (*history.History, error)
}

type Service struct {
	repo          Repository
	jurisdictions Jurisdictions
	histories     HistoryRecorder
	tx            db.Transactor
	rules         Rules
	now           func() time.Time
}

func NewService(repo Repository, jurisdictions Jurisdictions, histories HistoryRecorder, tx db.Transactor, rules Rules) *Service {
	if tx == nil {
		tx = db.NoTx{}
	}
	return &Service{
		repo:          repo,
		jurisdictions: jurisdictions,
		histories:     histories,
		tx:            tx,
		rules:         rules,
		now:           time.Now,
	}
}

func (s *Service) Rules() Rules { return s.rules }

// Enroll creates a monitoree and writes its enrollment history entry.
func (s *Service) Enroll(ctx context.Context, p *Patient, actor string) error {
	if p.JurisdictionID == uuid.Nil {
		return fmt.Errorf("jurisdiction_id is required")
	}
	if _, err := s.jurisdictions.Get(ctx, p.JurisdictionID); err != nil {
		return fmt.Errorf("jurisdiction %s: %w", p.JurisdictionID, err)
	}
	applyDefaults(p)
	if err := validate(p); err != nil {
		return err
	}
	if p.ResponderID != uuid.Nil {
		head, err := s.repo.GetByID(ctx, p.ResponderID)
		if err != nil {
			return fmt.Errorf("responder %s: %w", p.ResponderID, err)
		}
		if !head.IsHead() {
			return fmt.Errorf("responder %s is itself a dependent", p.ResponderID)
		}
	}
	// only heads of household report through a link
	p.SubmissionToken = nil
	if p.ResponderID == uuid.Nil {
		token := strings.ReplaceAll(uuid.NewString(), "-", "")
		p.SubmissionToken = &token
	}
	p.Monitoring = true
	p.Purged = false
	p.CreatorID = actor

	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, p); err != nil {
			return fmt.Errorf("create monitoree: %w", err)
		}
		_, err := s.histories.Record(ctx, p.ID, actor, history.TypeEnrollment, "User enrolled monitoree.")
		return err
	})
}

func applyDefaults(p *Patient) {
	if p.MonitoringPlan == "" {
		p.MonitoringPlan = MonitoringPlanNone
	}
	if p.PublicHealthAction == "" {
		p.PublicHealthAction = PublicHealthNone
	}
	if p.PreferredContactMethod == "" {
		p.PreferredContactMethod = ContactUnknown
	}
	if p.TimeZone == "" {
		p.TimeZone = DefaultTimeZone
	}
}

func validate(p *Patient) error {
	if !validRisks[p.ExposureRiskAssessment] {
		return fmt.Errorf("invalid exposure_risk_assessment: %s", p.ExposureRiskAssessment)
	}
	if !validMonitoringPlans[p.MonitoringPlan] {
		return fmt.Errorf("invalid monitoring_plan: %s", p.MonitoringPlan)
	}
	if !validPublicHealthActions[p.PublicHealthAction] {
		return fmt.Errorf("invalid public_health_action: %s", p.PublicHealthAction)
	}
	if !validCaseStatuses[p.CaseStatus] {
		return fmt.Errorf("invalid case_status: %s", p.CaseStatus)
	}
	if !validContactMethods[p.PreferredContactMethod] {
		return fmt.Errorf("invalid preferred_contact_method: %s", p.PreferredContactMethod)
	}
	if !validContactTimes[p.PreferredContactTime] {
		return fmt.Errorf("invalid preferred_contact_time: %s", p.PreferredContactTime)
	}
	if _, err := time.LoadLocation(p.TimeZone); err != nil {
		return fmt.Errorf("invalid time_zone: %s", p.TimeZone)
	}
	if p.PreferredContactMethod == ContactEmail && (p.Email == nil || *p.Email == "") {
		return fmt.Errorf("email is required when the preferred contact method is %q", ContactEmail)
	}
	return nil
}

// Get returns the monitoree with its linelist status filled in.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p.LinelistStatus = p.Status(s.now(), s.rules)
	return p, nil
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Patient, int, error) {
	items, total, err := s.repo.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	now := s.now()
	for _, p := range items {
		p.LinelistStatus = p.Status(now, s.rules)
	}
	return items, total, nil
}

func (s *Service) Household(ctx context.Context, id uuid.UUID) ([]*Patient, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.repo.ListHousehold(ctx, p.ResponderID)
}

// Scope resolves the jurisdictions a caller may list. userJurisdiction is
// the caller's own jurisdiction, uuid.Nil when unrestricted; requested
// narrows the result to a subtree. A nil result means every jurisdiction.
func (s *Service) Scope(ctx context.Context, userJurisdiction, requested uuid.UUID) ([]uuid.UUID, error) {
	if requested == uuid.Nil {
		requested = userJurisdiction
	}
	if requested == uuid.Nil {
		return nil, nil
	}
	ids, err := s.jurisdictions.Subtree(ctx, requested)
	if err != nil {
		return nil, err
	}
	if userJurisdiction == uuid.Nil || userJurisdiction == requested {
		return ids, nil
	}
	allowed, err := s.jurisdictions.Subtree(ctx, userJurisdiction)
	if err != nil {
		return nil, err
	}
	if !containsID(allowed, requested) {
		return nil, ErrForbidden
	}
	return ids, nil
}

// Visible reports whether p lies inside the caller's jurisdiction subtree.
func (s *Service) Visible(ctx context.Context, userJurisdiction uuid.UUID, p *Patient) (bool, error) {
	if userJurisdiction == uuid.Nil {
		return true, nil
	}
	ids, err := s.jurisdictions.Subtree(ctx, userJurisdiction)
	if err != nil {
		return false, err
	}
	return containsID(ids, p.JurisdictionID), nil
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// Details is the editable identity and exposure information of a record.
type Details struct {
	FirstName                *string    `json:"first_name"`
	LastName                 *string    `json:"last_name"`
	DateOfBirth              *time.Time `json:"date_of_birth"`
	Sex                      *string    `json:"sex"`
	Email                    *string    `json:"email"`
	PrimaryTelephone         *string    `json:"primary_telephone"`
	AddressLine1             *string    `json:"address_line_1"`
	AddressCity              *string    `json:"address_city"`
	AddressState             *string    `json:"address_state"`
	AddressCounty            *string    `json:"address_county"`
	AddressZip               *string    `json:"address_zip"`
	LastDateOfExposure       *time.Time `json:"last_date_of_exposure"`
	SymptomOnset             *time.Time `json:"symptom_onset"`
	ExtendedIsolation        *time.Time `json:"extended_isolation"`
	ContinuousExposure       *bool      `json:"continuous_exposure"`
	PotentialExposureCountry *string    `json:"potential_exposure_country"`
	PreferredContactMethod   *string    `json:"preferred_contact_method"`
	PreferredContactTime     *string    `json:"preferred_contact_time"`
	TimeZone                 *string    `json:"time_zone"`
	Notes                    *string    `json:"notes"`
}

// UpdateDetails applies edits to a record and writes one Record Edit entry
// naming the changed fields.
func (s *Service) UpdateDetails(ctx context.Context, id uuid.UUID, d Details, actor string) (*Patient, error) {
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
		changed := d.apply(p)
		if len(changed) == 0 {
			return nil
		}
		if err := validate(p); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, p); err != nil {
			return fmt.Errorf("update monitoree: %w", err)
		}
		_, err = s.histories.Record(ctx, p.ID, actor, history.TypeRecordEdit,
			"User edited monitoree record. Changes: "+strings.Join(changed, ", ")+".")
		return err
	})
	if err != nil {
		return nil, err
	}
	p.LinelistStatus = p.Status(s.now(), s.rules)
	return p, nil
}

// apply copies the set fields onto p and returns the names of the fields
// that changed.
func (d Details) apply(p *Patient) []string {
	var changed []string
	setStr := func(name string, dst **string, src *string) {
		if src != nil && (*dst == nil || **dst != *src) {
			v := *src
			*dst = &v
			changed = append(changed, name)
		}
	}
	setVal := func(name string, dst *string, src *string) {
		if src != nil && *dst != *src {
			*dst = *src
			changed = append(changed, name)
		}
	}
	setDate := func(name string, dst **time.Time, src *time.Time) {
		if src != nil && (*dst == nil || !(*dst).Equal(*src)) {
			v := *src
			*dst = &v
			changed = append(changed, name)
		}
	}

	setStr("First Name", &p.FirstName, d.FirstName)
	setStr("Last Name", &p.LastName, d.LastName)
	setDate("Date of Birth", &p.DateOfBirth, d.DateOfBirth)
	setVal("Sex", &p.Sex, d.Sex)
	setStr("Email", &p.Email, d.Email)
	setStr("Primary Telephone", &p.PrimaryTelephone, d.PrimaryTelephone)
	setStr("Address Line 1", &p.AddressLine1, d.AddressLine1)
	setStr("Address City", &p.AddressCity, d.AddressCity)
	setVal("Address State", &p.AddressState, d.AddressState)
	setVal("Address County", &p.AddressCounty, d.AddressCounty)
	setStr("Address Zip", &p.AddressZip, d.AddressZip)
	setDate("Last Date of Exposure", &p.LastDateOfExposure, d.LastDateOfExposure)
	setDate("Symptom Onset", &p.SymptomOnset, d.SymptomOnset)
	setDate("Extended Isolation", &p.ExtendedIsolation, d.ExtendedIsolation)
	setVal("Potential Exposure Country", &p.PotentialExposureCountry, d.PotentialExposureCountry)
	setVal("Preferred Contact Method", &p.PreferredContactMethod, d.PreferredContactMethod)
	setVal("Preferred Contact Time", &p.PreferredContactTime, d.PreferredContactTime)
	setVal("Time Zone", &p.TimeZone, d.TimeZone)
	setStr("Notes", &p.Notes, d.Notes)
	if d.ContinuousExposure != nil && *d.ContinuousExposure != p.ContinuousExposure {
		p.ContinuousExposure = *d.ContinuousExposure
		changed = append(changed, "Continuous Exposure")
	}
	return changed
}

// Transfer moves a monitoree to another jurisdiction.
func (s *Service) Transfer(ctx context.Context, id, to uuid.UUID, actor string) (*Transfer, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Purged {
		return nil, fmt.Errorf("%w: record is purged", ErrInvalidTransition)
	}
	if p.JurisdictionID == to {
		return nil, fmt.Errorf("%w: monitoree already belongs to jurisdiction %s", ErrInvalidTransition, to)
	}
	from, err := s.jurisdictions.Get(ctx, p.JurisdictionID)
	if err != nil {
		return nil, fmt.Errorf("current jurisdiction: %w", err)
	}
	dest, err := s.jurisdictions.Get(ctx, to)
	if err != nil {
		if errors.Is(err, jurisdiction.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown jurisdiction %s", ErrInvalidTransition, to)
		}
		return nil, err
	}

	t := &Transfer{PatientID: p.ID, FromJurisdictionID: from.ID, ToJurisdictionID: dest.ID, WhoID: actor}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := s.repo.GetForUpdate(ctx, p.ID)
		if err != nil {
			return err
		}
		if cur.JurisdictionID != from.ID {
			return fmt.Errorf("%w: monitoree was moved concurrently", ErrInvalidTransition)
		}
		cur.JurisdictionID = dest.ID
		if err := s.repo.Update(ctx, cur); err != nil {
			return fmt.Errorf("update monitoree: %w", err)
		}
		if err := s.repo.CreateTransfer(ctx, t); err != nil {
			return fmt.Errorf("create transfer: %w", err)
		}
		_, err = s.histories.Record(ctx, p.ID, actor, history.TypeMonitoringChange,
			fmt.Sprintf("User changed jurisdiction from %q to %q.", from.Path, dest.Path))
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}
