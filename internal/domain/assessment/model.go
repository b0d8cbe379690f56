package assessment

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("assessment not found")

// WhoMonitoree marks reports submitted by the monitoree through its link.
const WhoMonitoree = "Monitoree"

// Symptom names with meaning for recovery tracking.
const (
	SymptomFever        = "fever"
	SymptomFeverReducer = "used-a-fever-reducer"
)

const ResultPositive = "positive"

type Symptom struct {
	Name  string `json:"name"`
	Value bool   `json:"value"`
}

// Assessment is one daily symptom report.
type Assessment struct {
	ID               uuid.UUID `json:"id"`
	PatientID        uuid.UUID `json:"patient_id"`
	Symptomatic      bool      `json:"symptomatic"`
	WhoReported      string    `json:"who_reported"`
	ReportedSymptoms []Symptom `json:"reported_symptoms"`
	CreatedAt        time.Time `json:"created_at"`
}

// HasFever reports whether a fever or a fever reducer was reported.
func (a *Assessment) HasFever() bool {
	for _, s := range a.ReportedSymptoms {
		if s.Value && (s.Name == SymptomFever || s.Name == SymptomFeverReducer) {
			return true
		}
	}
	return false
}

func (a *Assessment) anySymptom() bool {
	for _, s := range a.ReportedSymptoms {
		if s.Value {
			return true
		}
	}
	return false
}

// Laboratory is a lab result attached to a monitoree.
type Laboratory struct {
	ID                 uuid.UUID  `json:"id"`
	PatientID          uuid.UUID  `json:"patient_id"`
	LabType            string     `json:"lab_type"`
	SpecimenCollection *time.Time `json:"specimen_collection,omitempty"`
	Result             string     `json:"result"`
	CreatedAt          time.Time  `json:"created_at"`
}
