package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/civiclens/clover/pkg/database"
)

// FilingStatus tracks a filing's position in the import lifecycle
type FilingStatus string

const (
	// FilingStatusPending is the state at upload time, before any rows are imported
	FilingStatusPending FilingStatus = "PENDING"
	// FilingStatusProcessed means transactions are imported and totals computed
	FilingStatusProcessed FilingStatus = "PROCESSED"
	// FilingStatusVerified marks manually entered or operator-confirmed records
	FilingStatusVerified FilingStatus = "VERIFIED"
	FilingStatusFailed   FilingStatus = "FAILED"
)

// Filing is one disclosure document/period for one filer. FilerName matches a
// CANDIDATE profile by convention only; the link is resolved by value at read
// time. The total_* columns are derived and may be stale until the reconciler
// runs.
type Filing struct {
	ID                 string              `db:"id" json:"id"`
	FilerName          string              `db:"filer_name" json:"filer_name"`
	Status             FilingStatus        `db:"status" json:"status"`
	TotalContributions decimal.NullDecimal `db:"total_contributions" json:"total_contributions"`
	TotalExpenditures  decimal.NullDecimal `db:"total_expenditures" json:"total_expenditures"`
	SourceRef          string              `db:"source_ref" json:"source_ref"`
	SourceURL          string              `db:"source_url" json:"source_url,omitempty"`
	Fingerprint        string              `db:"fingerprint" json:"fingerprint,omitempty"`

	// HeaderMapping records the field-to-header mapping the last import ran
	// with, for auditing how source columns were interpreted.
	HeaderMapping database.JSONB[map[string]string] `db:"header_mapping" json:"header_mapping"`
	CreatedAt     time.Time                         `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time                         `db:"updated_at" json:"updated_at"`
}

// CreateFilingRequest is the payload for registering a new filing
type CreateFilingRequest struct {
	FilerName   string `json:"filer_name" validate:"required"`
	SourceRef   string `json:"source_ref" validate:"required"`
	SourceURL   string `json:"source_url"`
	Fingerprint string `json:"fingerprint"`
}

// FilingListResponse is a paginated list of filings
type FilingListResponse struct {
	Items      []Filing `json:"items"`
	TotalCount int      `json:"total_count"`
	Page       int      `json:"page"`
	PageSize   int      `json:"page_size"`
}
