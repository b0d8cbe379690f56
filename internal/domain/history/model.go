package history

import (
	"time"

	"github.com/google/uuid"
)

const (
	TypeMonitoringChange = "Monitoring Change"
	TypeContactAttempt   = "Contact Attempt"
	TypeRecordEdit       = "Record Edit"
	TypeReportsReviewed  = "Reports Reviewed"
	TypeEnrollment       = "Enrollment"
	TypeComment          = "Comment"
)

// SystemActor is recorded as created_by for changes made by batch jobs.
const SystemActor = "Casewatch System"

var validTypes = map[string]bool{
	TypeMonitoringChange: true,
	TypeContactAttempt:   true,
	TypeRecordEdit:       true,
	TypeReportsReviewed:  true,
	TypeEnrollment:       true,
	TypeComment:          true,
}

// History is an append-only audit entry on a monitoree record.
type History struct {
	ID          uuid.UUID `json:"id"`
	PatientID   uuid.UUID `json:"patient_id"`
	CreatedBy   string    `json:"created_by"`
	HistoryType string    `json:"history_type"`
	Comment     string    `json:"comment"`
	CreatedAt   time.Time `json:"created_at"`
}
