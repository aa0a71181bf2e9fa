package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType distinguishes money in from money out
type TransactionType string

const (
	TransactionTypeContribution TransactionType = "CONTRIBUTION"
	TransactionTypeExpenditure  TransactionType = "EXPENDITURE"
)

// Transaction is one financial event tied to exactly one filing. The filing
// owns its transactions (deletes cascade); EntityProfileID is a nullable
// resolved link maintained by the entity resolver and rewritten only by the
// merge engine's relink step.
type Transaction struct {
	ID              string          `db:"id" json:"id"`
	FilingID        string          `db:"filing_id" json:"filing_id"`
	Type            TransactionType `db:"tx_type" json:"type"`
	Amount          decimal.Decimal `db:"amount" json:"amount"`
	EntityName      string          `db:"entity_name" json:"entity_name"`
	EntityProfileID *string         `db:"entity_profile_id" json:"entity_profile_id,omitempty"`
	Date            *time.Time      `db:"tx_date" json:"date,omitempty"`

	// Optional compliance fields carried through from the source filing
	EntityAddress string `db:"entity_address" json:"entity_address,omitempty"`
	EntityCity    string `db:"entity_city" json:"entity_city,omitempty"`
	EntityState   string `db:"entity_state" json:"entity_state,omitempty"`
	EntityZip     string `db:"entity_zip" json:"entity_zip,omitempty"`
	Occupation    string `db:"occupation" json:"occupation,omitempty"`
	Employer      string `db:"employer" json:"employer,omitempty"`
	CommitteeID   string `db:"committee_id" json:"committee_id,omitempty"`
	Intermediary  string `db:"intermediary" json:"intermediary,omitempty"`
	Code          string `db:"tx_code" json:"code,omitempty"`
	Memo          string `db:"memo" json:"memo,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// TransactionListResponse is a paginated list of transactions
type TransactionListResponse struct {
	Items      []Transaction `json:"items"`
	TotalCount int           `json:"total_count"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
}
