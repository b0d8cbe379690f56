package export

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/casewatch/casewatch/internal/domain/assessment"
	"github.com/casewatch/casewatch/internal/domain/history"
	"github.com/casewatch/casewatch/internal/domain/patient"
)

// Batch is one page of monitorees and, for the full history workbook, the
// rows that hang off them.
type Batch struct {
	Patients    []*patient.Patient
	Assessments []*assessment.Assessment
	Histories   []*history.History
	Paths       map[uuid.UUID]string
	Now         time.Time
}

type column struct {
	Header string
	Value  func(p *patient.Patient, b *Batch) string
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func date(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func timestamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func yesNo(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

var (
	colID           = column{"ID", func(p *patient.Patient, _ *Batch) string { return p.ID.String() }}
	colJurisdiction = column{"Jurisdiction", func(p *patient.Patient, b *Batch) string { return b.Paths[p.JurisdictionID] }}
	colWorkflow     = column{"Workflow", func(p *patient.Patient, _ *Batch) string { return p.Workflow() }}
	colStatus       = column{"Status", func(p *patient.Patient, _ *Batch) string { return p.LinelistStatus }}
	colRisk         = column{"Exposure Risk Assessment", func(p *patient.Patient, _ *Batch) string { return p.ExposureRiskAssessment }}
	colPlan         = column{"Monitoring Plan", func(p *patient.Patient, _ *Batch) string { return p.MonitoringPlan }}
	colAction       = column{"Latest Public Health Action", func(p *patient.Patient, _ *Batch) string { return p.PublicHealthAction }}
	colExposure     = column{"Last Date of Exposure", func(p *patient.Patient, _ *Batch) string { return date(p.LastDateOfExposure) }}
	colOnset        = column{"Symptom Onset", func(p *patient.Patient, _ *Batch) string { return date(p.SymptomOnset) }}
	colLatestReport = column{"Latest Report", func(p *patient.Patient, _ *Batch) string { return timestamp(p.LatestAssessmentAt) }}
	colClosedAt     = column{"Closed At", func(p *patient.Patient, _ *Batch) string { return timestamp(p.ClosedAt) }}
	colReason       = column{"Monitoring Reason", func(p *patient.Patient, _ *Batch) string { return p.MonitoringReason }}
)

var linelistColumns = []column{
	colID,
	{"Monitoree", func(p *patient.Patient, _ *Batch) string { return p.DisplayName() }},
	colJurisdiction, colWorkflow, colStatus, colRisk, colPlan, colAction,
	colExposure, colOnset, colLatestReport, colClosedAt, colReason,
}

var comprehensiveColumns = []column{
	colID,
	{"First Name", func(p *patient.Patient, _ *Batch) string { return deref(p.FirstName) }},
	{"Last Name", func(p *patient.Patient, _ *Batch) string { return deref(p.LastName) }},
	{"Date of Birth", func(p *patient.Patient, _ *Batch) string { return date(p.DateOfBirth) }},
	{"Age", func(p *patient.Patient, b *Batch) string {
		if age := p.AgeAt(b.Now); age >= 0 {
			return strconv.Itoa(age)
		}
		return ""
	}},
	{"Sex", func(p *patient.Patient, _ *Batch) string { return p.Sex }},
	{"Email", func(p *patient.Patient, _ *Batch) string { return deref(p.Email) }},
	{"Primary Telephone", func(p *patient.Patient, _ *Batch) string { return deref(p.PrimaryTelephone) }},
	{"Address Line 1", func(p *patient.Patient, _ *Batch) string { return deref(p.AddressLine1) }},
	{"Address City", func(p *patient.Patient, _ *Batch) string { return deref(p.AddressCity) }},
	{"Address State", func(p *patient.Patient, _ *Batch) string { return p.AddressState }},
	{"Address County", func(p *patient.Patient, _ *Batch) string { return p.AddressCounty }},
	{"Address Zip", func(p *patient.Patient, _ *Batch) string { return deref(p.AddressZip) }},
	{"Head of Household", func(p *patient.Patient, _ *Batch) string { return yesNo(p.IsHead()) }},
	colJurisdiction, colWorkflow, colStatus,
	{"Monitoring", func(p *patient.Patient, _ *Batch) string { return yesNo(p.Monitoring) }},
	colReason, colPlan, colRisk, colAction,
	{"Case Status", func(p *patient.Patient, _ *Batch) string { return p.CaseStatus }},
	{"Continuous Exposure", func(p *patient.Patient, _ *Batch) string { return yesNo(p.ContinuousExposure) }},
	colExposure, colOnset,
	{"Extended Isolation", func(p *patient.Patient, _ *Batch) string { return date(p.ExtendedIsolation) }},
	{"First Positive Lab", func(p *patient.Patient, _ *Batch) string { return date(p.FirstPositiveLabAt) }},
	{"Potential Exposure Country", func(p *patient.Patient, _ *Batch) string { return p.PotentialExposureCountry }},
	{"Preferred Contact Method", func(p *patient.Patient, _ *Batch) string { return p.PreferredContactMethod }},
	{"Preferred Contact Time", func(p *patient.Patient, _ *Batch) string { return p.PreferredContactTime }},
	{"Time Zone", func(p *patient.Patient, _ *Batch) string { return p.TimeZone }},
	colLatestReport,
	{"Latest Fever or Fever Reducer", func(p *patient.Patient, _ *Batch) string { return timestamp(p.LatestFeverOrFeverReducerAt) }},
	colClosedAt,
	{"Enrolled At", func(p *patient.Patient, _ *Batch) string { return timestamp(&p.CreatedAt) }},
}

func headers(cols []column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Header
	}
	return out
}

func patientRow(cols []column, p *patient.Patient, b *Batch) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Value(p, b)
	}
	return out
}

var assessmentHeaders = []string{"Patient ID", "Reported At", "Who Reported", "Symptomatic", "Symptoms"}

func assessmentRow(a *assessment.Assessment) []string {
	var symptoms []string
	for _, s := range a.ReportedSymptoms {
		symptoms = append(symptoms, s.Name+"="+yesNo(s.Value))
	}
	return []string{a.PatientID.String(), timestamp(&a.CreatedAt), a.WhoReported, yesNo(a.Symptomatic), strings.Join(symptoms, "; ")}
}

var historyHeaders = []string{"Patient ID", "Created At", "Created By", "History Type", "Comment"}

func historyRow(h *history.History) []string {
	return []string{h.PatientID.String(), timestamp(&h.CreatedAt), h.CreatedBy, h.HistoryType, h.Comment}
}
