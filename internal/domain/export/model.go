package export

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound    = errors.New("download not found")
	ErrInvalidType = errors.New("unknown export type")
)

const (
	TypeCSVLinelist       = "csv_linelist"
	TypeXLSXComprehensive = "xlsx_comprehensive"
	TypeXLSXFullHistory   = "xlsx_full_history"
)

var validTypes = map[string]bool{
	TypeCSVLinelist:       true,
	TypeXLSXComprehensive: true,
	TypeXLSXFullHistory:   true,
}

// Request is an export job as carried on the exports queue.
type Request struct {
	ID             uuid.UUID   `json:"id"`
	UserID         string      `json:"user_id"`
	UserEmail      string      `json:"user_email"`
	Type           string      `json:"export_type"`
	JurisdictionID uuid.UUID   `json:"jurisdiction_id"`
	Scope          []uuid.UUID `json:"scope"`
	RequestedAt    time.Time   `json:"requested_at"`
}

// Download is one exported file waiting to be fetched.
type Download struct {
	ID         uuid.UUID `json:"id"`
	UserID     string    `json:"user_id"`
	UserEmail  string    `json:"user_email"`
	ExportType string    `json:"export_type"`
	Filename   string    `json:"filename"`
	BlobKey    string    `json:"-"`
	Lookup     string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// Link is a download link sent to the requester.
type Link struct {
	Filename string
	URL      string
}

// Result summarizes one export run.
type Result struct {
	Records int
	Files   int
	Emails  int
}
