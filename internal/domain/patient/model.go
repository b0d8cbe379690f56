package patient

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("monitoree not found")
	ErrForbidden         = errors.New("monitoree is outside your jurisdiction")
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNoLongerEligible is returned by the batch operations when the
	// record changed after it was selected.
	ErrNoLongerEligible  = errors.New("monitoree is no longer eligible")
)

// Exposure risk levels.
const (
	RiskHigh   = "High"
	RiskMedium = "Medium"
	RiskLow    = "Low"
	RiskNone   = "No Identified Risk"
)

// Preferred contact methods.
const (
	ContactEmail     = "E-mailed Web Link"
	ContactSMSLink   = "SMS Texted Weblink"
	ContactSMSText   = "SMS Text-message"
	ContactTelephone = "Telephone call"
	ContactOptOut    = "Opt-out"
	ContactUnknown   = "Unknown"
)

const (
	PublicHealthNone   = "None"
	MonitoringPlanNone = "None"
	ReasonCompleted    = "Completed Monitoring"
	DefaultTimeZone    = "America/New_York"
)

// Preferred contact times.
const (
	TimeMorning   = "Morning"
	TimeAfternoon = "Afternoon"
	TimeEvening   = "Evening"
)

var validRisks = map[string]bool{"": true, RiskHigh: true, RiskMedium: true, RiskLow: true, RiskNone: true}

var validContactMethods = map[string]bool{
	ContactEmail: true, ContactSMSLink: true, ContactSMSText: true,
	ContactTelephone: true, ContactOptOut: true, ContactUnknown: true,
}

var validContactTimes = map[string]bool{"": true, TimeMorning: true, TimeAfternoon: true, TimeEvening: true}

var validMonitoringPlans = map[string]bool{
	MonitoringPlanNone:                               true,
	"Daily active monitoring":                        true,
	"Self-monitoring with public health supervision": true,
	"Self-monitoring with delegated supervision":     true,
	"Self-observation":                               true,
}

var validPublicHealthActions = map[string]bool{
	PublicHealthNone:                             true,
	"Recommended medical evaluation of symptoms": true,
	"Document results of medical evaluation":     true,
	"Recommended laboratory testing":             true,
}

var validCaseStatuses = map[string]bool{
	"": true, "Confirmed": true, "Probable": true, "Suspect": true, "Unknown": true, "Not a Case": true,
}

// Patient is a monitoree: a person under public-health symptom monitoring.
type Patient struct {
	ID             uuid.UUID `json:"id"`
	JurisdictionID uuid.UUID `json:"jurisdiction_id"`
	ResponderID    uuid.UUID `json:"responder_id"`
	CreatorID      string    `json:"creator_id"`

	FirstName        *string    `json:"first_name,omitempty"`
	LastName         *string    `json:"last_name,omitempty"`
	DateOfBirth      *time.Time `json:"date_of_birth,omitempty"`
	Sex              string     `json:"sex"`
	Email            *string    `json:"email,omitempty"`
	PrimaryTelephone *string    `json:"primary_telephone,omitempty"`
	AddressLine1     *string    `json:"address_line_1,omitempty"`
	AddressCity      *string    `json:"address_city,omitempty"`
	AddressState     string     `json:"address_state"`
	AddressCounty    string     `json:"address_county"`
	AddressZip       *string    `json:"address_zip,omitempty"`

	Isolation                bool       `json:"isolation"`
	Monitoring               bool       `json:"monitoring"`
	MonitoringReason         string     `json:"monitoring_reason"`
	MonitoringPlan           string     `json:"monitoring_plan"`
	ExposureRiskAssessment   string     `json:"exposure_risk_assessment"`
	PublicHealthAction       string     `json:"public_health_action"`
	CaseStatus               string     `json:"case_status"`
	ContinuousExposure       bool       `json:"continuous_exposure"`
	LastDateOfExposure       *time.Time `json:"last_date_of_exposure,omitempty"`
	SymptomOnset             *time.Time `json:"symptom_onset,omitempty"`
	ExtendedIsolation        *time.Time `json:"extended_isolation,omitempty"`
	PotentialExposureCountry string     `json:"potential_exposure_country"`

	PreferredContactMethod string  `json:"preferred_contact_method"`
	PreferredContactTime   string  `json:"preferred_contact_time"`
	TimeZone               string  `json:"time_zone"`
	SubmissionToken        *string `json:"-"`

	LatestAssessmentAt          *time.Time `json:"latest_assessment_at,omitempty"`
	LatestFeverOrFeverReducerAt *time.Time `json:"latest_fever_or_fever_reducer_at,omitempty"`
	FirstPositiveLabAt          *time.Time `json:"first_positive_lab_at,omitempty"`
	LastAssessmentReminderSent  *time.Time `json:"last_assessment_reminder_sent,omitempty"`
	ClosedAt                    *time.Time `json:"closed_at,omitempty"`
	Purged                      bool       `json:"purged"`
	Notes                       *string    `json:"notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// LinelistStatus is derived by the service on read; it is not stored.
	LinelistStatus string `json:"status,omitempty"`
}

// IsHead reports whether the monitoree reports for itself (and possibly
// for dependents sharing its responder id).
func (p *Patient) IsHead() bool {
	return p.ResponderID == p.ID
}

func (p *Patient) DisplayName() string {
	var parts []string
	if p.FirstName != nil && *p.FirstName != "" {
		parts = append(parts, *p.FirstName)
	}
	if p.LastName != nil && *p.LastName != "" {
		parts = append(parts, *p.LastName)
	}
	if len(parts) == 0 {
		return "Monitoree"
	}
	return strings.Join(parts, " ")
}

// Workflow returns "Isolation" or "Exposure".
func (p *Patient) Workflow() string {
	if p.Isolation {
		return "Isolation"
	}
	return "Exposure"
}

// Transfer records a move between jurisdictions.
type Transfer struct {
	ID                 uuid.UUID `json:"id"`
	PatientID          uuid.UUID `json:"patient_id"`
	FromJurisdictionID uuid.UUID `json:"from_jurisdiction_id"`
	ToJurisdictionID   uuid.UUID `json:"to_jurisdiction_id"`
	WhoID              string    `json:"who_id"`
	CreatedAt          time.Time `json:"created_at"`
}

// ListFilter narrows linelist queries. A nil JurisdictionIDs means every
// jurisdiction.
type ListFilter struct {
	JurisdictionIDs []uuid.UUID
	Workflow        string // "exposure", "isolation" or empty for both
	Closed          bool
}

// Rules carries the monitoring thresholds from configuration.
type Rules struct {
	MonitoringPeriodDays int
	ReportingPeriod      time.Duration
	IsolationSymptomDays int
	PurgeableAfter       time.Duration
}

func DefaultRules() Rules {
	return Rules{
		MonitoringPeriodDays: 14,
		ReportingPeriod:      24 * time.Hour,
		IsolationSymptomDays: 10,
		PurgeableAfter:       14 * 24 * time.Hour,
	}
}
