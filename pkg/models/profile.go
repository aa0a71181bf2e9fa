package models

import "time"

// ProfileType identifies what kind of reference entity a profile describes
type ProfileType string

const (
	ProfileTypeCandidate ProfileType = "CANDIDATE"
	ProfileTypeCity      ProfileType = "CITY"
	ProfileTypeCounty    ProfileType = "COUNTY"
	ProfileTypeDonor     ProfileType = "DONOR"
)

// Profile is a derived reference entity (candidate, jurisdiction, or donor)
// used for cross-filing aggregation. Profiles are shared: filings and
// transactions reference them by name, not by foreign key.
type Profile struct {
	ID           string      `db:"id" json:"id"`
	Name         string      `db:"name" json:"name"`
	Type         ProfileType `db:"profile_type" json:"type"`
	Jurisdiction *string     `db:"jurisdiction" json:"jurisdiction,omitempty"`
	Description  string      `db:"description" json:"description"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at" json:"updated_at"`
	DeletedAt    *time.Time  `db:"deleted_at" json:"deleted_at,omitempty"`
}

// CreateProfileRequest is the payload for creating a profile
type CreateProfileRequest struct {
	Name         string      `json:"name" validate:"required"`
	Type         ProfileType `json:"type" validate:"required,oneof=CANDIDATE CITY COUNTY DONOR"`
	Jurisdiction *string     `json:"jurisdiction,omitempty"`
	Description  string      `json:"description"`
}

// ProfileListResponse is a paginated list of profiles
type ProfileListResponse struct {
	Items      []Profile `json:"items"`
	TotalCount int       `json:"total_count"`
	Page       int       `json:"page"`
	PageSize   int       `json:"page_size"`
}
