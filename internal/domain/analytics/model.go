package analytics

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("analytics not found")

const (
	WorkflowExposure  = "Exposure"
	WorkflowIsolation = "Isolation"
)

// Count category types.
const (
	CategoryOverallTotal      = "Overall Total"
	CategoryAgeGroup          = "Age Group"
	CategorySex               = "Sex"
	CategoryExposureCountry   = "Exposure Country"
	CategoryLastExposureDate  = "Last Exposure Date"
	CategoryLastExposureWeek  = "Last Exposure Week"
	CategoryLastExposureMonth = "Last Exposure Month"
)

const (
	LevelState  = "State"
	LevelCounty = "County"
)

// TimeFrame is a snapshot window ending at the job run. A zero Window
// covers all time.
type TimeFrame struct {
	Label  string
	Window time.Duration
}

var TimeFrames = []TimeFrame{
	{Label: "Last 24 Hours", Window: 24 * time.Hour},
	{Label: "Last 7 Days", Window: 7 * 24 * time.Hour},
	{Label: "Last 14 Days", Window: 14 * 24 * time.Hour},
	{Label: "Total"},
}

// Since returns the start of the frame relative to now.
func (f TimeFrame) Since(now time.Time) time.Time {
	if f.Window == 0 {
		return time.Time{}
	}
	return now.Add(-f.Window)
}

// Analytic is one cached statistics run for a jurisdiction subtree.
type Analytic struct {
	ID             uuid.UUID           `json:"id"`
	JurisdictionID uuid.UUID           `json:"jurisdiction_id"`
	CreatedAt      time.Time           `json:"created_at"`
	Counts         []MonitoreeCount    `json:"monitoree_counts"`
	Snapshots      []MonitoreeSnapshot `json:"monitoree_snapshots"`
	Maps           []MonitoreeMap      `json:"monitoree_maps"`
}

// CountKey identifies one counted group.
type CountKey struct {
	Status           string `json:"status"`
	ActiveMonitoring bool   `json:"active_monitoring"`
	CategoryType     string `json:"category_type"`
	Category         string `json:"category"`
	RiskLevel        string `json:"risk_level"`
}

type MonitoreeCount struct {
	AnalyticID uuid.UUID `json:"-"`
	CountKey
	Total int `json:"total"`
}

type MonitoreeSnapshot struct {
	AnalyticID     uuid.UUID `json:"-"`
	Status         string    `json:"status"`
	TimeFrame      string    `json:"time_frame"`
	NewEnrollments int       `json:"new_enrollments"`
	TransferredIn  int       `json:"transferred_in"`
	TransferredOut int       `json:"transferred_out"`
	Closed         int       `json:"closed"`
}

// MapKey identifies one geographic total.
type MapKey struct {
	Level    string `json:"level"`
	Workflow string `json:"workflow"`
	State    string `json:"state"`
	County   string `json:"county"`
}

type MonitoreeMap struct {
	AnalyticID uuid.UUID `json:"-"`
	MapKey
	Total int `json:"total"`
}

// CountRow is a grouped count for the monitorees of a single jurisdiction.
type CountRow struct {
	JurisdictionID uuid.UUID
	Key            CountKey
	Total          int
}

// LocationRow counts active monitorees of a single jurisdiction by
// workflow and address.
type LocationRow struct {
	JurisdictionID uuid.UUID
	Workflow       string
	State          string
	County         string
	Total          int
}

// Failure is a jurisdiction whose analytics could not be written.
type Failure struct {
	JurisdictionID uuid.UUID `json:"id"`
	Path           string    `json:"path"`
	Reason         string    `json:"reason"`
}

// Result summarizes a cache run.
type Result struct {
	Jurisdictions int
	Created       int
	Deleted       int64
	Failures      []Failure
}
