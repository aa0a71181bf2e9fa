package transaction

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/shopspring/decimal"

	"github.com/civiclens/clover/pkg/database"
	"github.com/civiclens/clover/pkg/models"
	"github.com/civiclens/clover/pkg/tracing"
)

var transactionColumns = []string{"id", "filing_id", "tx_type", "amount", "entity_name", "entity_profile_id", "tx_date", "entity_address", "entity_city", "entity_state", "entity_zip", "occupation", "employer", "committee_id", "intermediary", "tx_code", "memo", "created_at"}

var transactionStruct = database.NewStruct(new(models.Transaction))

// Repository handles transaction persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// InsertBatch inserts transactions as one multi-row statement. The importer
// calls this inside an open transaction, so a failure anywhere rolls back
// every row. IDs are assigned here when absent.
func (r *Repository) InsertBatch(ctx context.Context, txs []models.Transaction) error {
	ctx, span := tracing.StartSpan(ctx, "transaction.Repository.InsertBatch")
	defer span.End()

	if len(txs) == 0 {
		return nil
	}

	now := time.Now().UTC()
	ib := database.NewInsertBuilder()
	ib.InsertInto("transactions")
	ib.Cols(transactionColumns...)
	for i := range txs {
		tx := &txs[i]
		if tx.ID == "" {
			tx.ID = uuid.New().String()
		}
		if tx.CreatedAt.IsZero() {
			tx.CreatedAt = now
		}
		ib.Values(
			tx.ID, tx.FilingID, tx.Type, tx.Amount, tx.EntityName, tx.EntityProfileID, tx.Date,
			tx.EntityAddress, tx.EntityCity, tx.EntityState, tx.EntityZip,
			tx.Occupation, tx.Employer, tx.CommitteeID, tx.Intermediary, tx.Code, tx.Memo,
			tx.CreatedAt,
		)
	}

	query, args := ib.Build()
	if _, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"filing_id": txs[0].FilingID, "count": len(txs)}).Error("Failed to insert transaction batch")
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to insert transactions: %v", err)
	}

	return nil
}

// ListByFiling retrieves every transaction for a filing in insertion order
func (r *Repository) ListByFiling(ctx context.Context, filingID string) ([]models.Transaction, error) {
	ctx, span := tracing.StartSpan(ctx, "transaction.Repository.ListByFiling")
	defer span.End()

	sb := transactionStruct.SelectFrom("transactions")
	sb.Where(sb.Equal("filing_id", filingID))
	sb.OrderBy("created_at ASC", "id ASC")

	query, args := sb.Build()
	var txs []models.Transaction
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &txs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"filing_id": filingID}).Error("Failed to list transactions by filing")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list transactions")
	}

	return txs, nil
}

// CountByFiling returns the number of transactions on a filing
func (r *Repository) CountByFiling(ctx context.Context, filingID string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "transaction.Repository.CountByFiling")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From("transactions")
	sb.Where(sb.Equal("filing_id", filingID))

	query, args := sb.Build()
	var count int
	if err := database.FromContext(ctx, r.db).GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"filing_id": filingID}).Error("Failed to count transactions")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count transactions")
	}

	return count, nil
}

// SumByFiling recomputes the contribution and expenditure totals for one
// filing from its transaction rows. Missing rows sum to zero.
func (r *Repository) SumByFiling(ctx context.Context, filingID string) (contributions, expenditures decimal.Decimal, err error) {
	ctx, span := tracing.StartSpan(ctx, "transaction.Repository.SumByFiling")
	defer span.End()

	query := `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE tx_type = 'CONTRIBUTION'), 0) AS contributions,
			COALESCE(SUM(amount) FILTER (WHERE tx_type = 'EXPENDITURE'), 0) AS expenditures
		FROM transactions
		WHERE filing_id = $1
	`

	var sums struct {
		Contributions decimal.Decimal `db:"contributions"`
		Expenditures  decimal.Decimal `db:"expenditures"`
	}
	if err := database.FromContext(ctx, r.db).GetContext(ctx, &sums, query, filingID); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"filing_id": filingID}).Error("Failed to sum transactions by filing")
		return decimal.Zero, decimal.Zero, httperror.NewHTTPError(http.StatusInternalServerError, "failed to sum transactions")
	}

	return sums.Contributions, sums.Expenditures, nil
}

// SumContributionsByEntities returns the global contribution running total
// per entity name, across all filings, for the given names. Names with no
// contribution rows are absent from the result.
func (r *Repository) SumContributionsByEntities(ctx context.Context, names []string) (map[string]decimal.Decimal, error) {
	ctx, span := tracing.StartSpan(ctx, "transaction.Repository.SumContributionsByEntities")
	defer span.End()

	if len(names) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	sb := database.NewSelectBuilder()
	sb.Select("entity_name", "SUM(amount) AS total")
	sb.From("transactions")
	sb.Where(
		sb.Equal("tx_type", models.TransactionTypeContribution),
		sb.In("entity_name", sqlbuilder.Flatten(names)...),
	)
	sb.GroupBy("entity_name")

	query, args := sb.Build()
	var rows []struct {
		EntityName string          `db:"entity_name"`
		Total      decimal.Decimal `db:"total"`
	}
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"names": len(names)}).Error("Failed to sum contributions by entity")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to sum contributions")
	}

	totals := make(map[string]decimal.Decimal, len(rows))
	for _, row := range rows {
		totals[row.EntityName] = row.Total
	}
	return totals, nil
}

// SetEntityProfile links transactions with a matching entity name to a
// profile. Only rows with no existing link are touched.
func (r *Repository) SetEntityProfile(ctx context.Context, entityName, profileID string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "transaction.Repository.SetEntityProfile")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update("transactions")
	ub.Set(ub.Assign("entity_profile_id", profileID))
	ub.Where(
		ub.Equal("entity_name", entityName),
		ub.IsNull("entity_profile_id"),
	)

	query, args := ub.Build()
	result, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"entity_name": entityName, "profile_id": profileID}).Error("Failed to set entity profile link")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to link transactions")
	}

	rows, _ := result.RowsAffected()
	return rows, nil
}

// RelinkEntityProfile rewrites every transaction pointing at one profile to
// point at another. The merge engine runs this before deleting a duplicate;
// deleting first would orphan financial history.
func (r *Repository) RelinkEntityProfile(ctx context.Context, fromProfileID, toProfileID string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "transaction.Repository.RelinkEntityProfile")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update("transactions")
	ub.Set(ub.Assign("entity_profile_id", toProfileID))
	ub.Where(ub.Equal("entity_profile_id", fromProfileID))

	query, args := ub.Build()
	result, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"from": fromProfileID, "to": toProfileID}).Error("Failed to relink transactions to surviving profile")
		return 0, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to relink transactions: %v", err)
	}

	rows, _ := result.RowsAffected()
	return rows, nil
}

// CountByEntityProfile returns how many transactions still point at a
// profile. The merge engine verifies this is zero before a delete.
func (r *Repository) CountByEntityProfile(ctx context.Context, profileID string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "transaction.Repository.CountByEntityProfile")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From("transactions")
	sb.Where(sb.Equal("entity_profile_id", profileID))

	query, args := sb.Build()
	var count int
	if err := database.FromContext(ctx, r.db).GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"profile_id": profileID}).Error("Failed to count transactions by profile")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count transactions")
	}

	return count, nil
}

// ReassignFiling moves every transaction from one filing to another, for
// filing merges running the reassign policy.
func (r *Repository) ReassignFiling(ctx context.Context, fromFilingID, toFilingID string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "transaction.Repository.ReassignFiling")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update("transactions")
	ub.Set(ub.Assign("filing_id", toFilingID))
	ub.Where(ub.Equal("filing_id", fromFilingID))

	query, args := ub.Build()
	result, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"from": fromFilingID, "to": toFilingID}).Error("Failed to reassign transactions to surviving filing")
		return 0, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to reassign transactions: %v", err)
	}

	rows, _ := result.RowsAffected()
	return rows, nil
}

// DeleteByFiling removes every transaction on a filing, for filing merges
// running the delete policy.
func (r *Repository) DeleteByFiling(ctx context.Context, filingID string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "transaction.Repository.DeleteByFiling")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom("transactions")
	db.Where(db.Equal("filing_id", filingID))

	query, args := db.Build()
	result, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"filing_id": filingID}).Error("Failed to delete transactions by filing")
		return 0, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to delete transactions: %v", err)
	}

	rows, _ := result.RowsAffected()
	return rows, nil
}

// DistinctEntityCities returns the distinct, non-trivial entity_city
// values across every row on a filing, contributions and expenditures
// alike, for jurisdiction profile sync.
func (r *Repository) DistinctEntityCities(ctx context.Context, filingID string, minLength int) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "transaction.Repository.DistinctEntityCities")
	defer span.End()

	query := `
		SELECT DISTINCT trim(entity_city) AS entity_city
		FROM transactions
		WHERE filing_id = $1
		  AND length(trim(entity_city)) >= $2
		ORDER BY entity_city ASC
	`

	var cities []string
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &cities, query, filingID, minLength); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"filing_id": filingID}).Error("Failed to list distinct entity cities")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list cities")
	}

	return cities, nil
}
