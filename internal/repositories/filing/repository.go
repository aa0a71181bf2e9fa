package filing

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/civiclens/clover/pkg/database"
	"github.com/civiclens/clover/pkg/models"
	"github.com/civiclens/clover/pkg/tracing"
)

var filingStruct = database.NewStruct(new(models.Filing))

// Repository handles filing persistence
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

// Create inserts a filing in PENDING status with null totals. Totals stay
// null until an import lands or the reconciler recomputes them.
func (r *Repository) Create(ctx context.Context, req models.CreateFilingRequest) (*models.Filing, error) {
	ctx, span := tracing.StartSpan(ctx, "filing.Repository.Create")
	defer span.End()

	now := time.Now().UTC()
	filing := models.Filing{
		ID:          uuid.New().String(),
		FilerName:   req.FilerName,
		Status:      models.FilingStatusPending,
		SourceRef:   req.SourceRef,
		SourceURL:   req.SourceURL,
		Fingerprint: req.Fingerprint,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto("filings")
	ib.Cols("id", "filer_name", "status", "source_ref", "source_url", "fingerprint", "created_at", "updated_at")
	ib.Values(filing.ID, filing.FilerName, filing.Status, filing.SourceRef, filing.SourceURL, filing.Fingerprint, filing.CreatedAt, filing.UpdatedAt)

	query, args := ib.Build()
	if _, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"filer_name": req.FilerName, "source_ref": req.SourceRef}).Error("Failed to create filing")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create filing")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": filing.ID, "filer_name": filing.FilerName}).Info("Created filing")
	return &filing, nil
}

// Get retrieves a filing by ID
func (r *Repository) Get(ctx context.Context, id string) (*models.Filing, error) {
	ctx, span := tracing.StartSpan(ctx, "filing.Repository.Get")
	defer span.End()

	sb := filingStruct.SelectFrom("filings")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var filing models.Filing
	if err := database.FromContext(ctx, r.db).GetContext(ctx, &filing, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "filing %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to get filing")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get filing")
	}

	return &filing, nil
}

// GetByFingerprint finds a filing whose source bytes hash matches, for
// duplicate upload detection; returns nil when absent.
func (r *Repository) GetByFingerprint(ctx context.Context, fp string) (*models.Filing, error) {
	ctx, span := tracing.StartSpan(ctx, "filing.Repository.GetByFingerprint")
	defer span.End()

	sb := filingStruct.SelectFrom("filings")
	sb.Where(sb.Equal("fingerprint", fp))
	sb.OrderBy("created_at ASC")
	sb.Limit(1)

	query, args := sb.Build()
	var filing models.Filing
	if err := database.FromContext(ctx, r.db).GetContext(ctx, &filing, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"fingerprint": fp}).Error("Failed to get filing by fingerprint")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get filing")
	}

	return &filing, nil
}

// List retrieves filings with optional status filtering and pagination
func (r *Repository) List(ctx context.Context, status *models.FilingStatus, page, pageSize int) (*models.FilingListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "filing.Repository.List")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	countSb := database.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From("filings")
	if status != nil {
		countSb.Where(countSb.Equal("status", *status))
	}

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := database.FromContext(ctx, r.db).GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"status": status}).Error("Failed to count filings")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count filings")
	}

	sb := filingStruct.SelectFrom("filings")
	if status != nil {
		sb.Where(sb.Equal("status", *status))
	}
	sb.OrderBy("created_at DESC")
	sb.Limit(pageSize).Offset(offset)

	query, args := sb.Build()
	var filings []models.Filing
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &filings, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"status": status, "page": page, "page_size": pageSize}).Error("Failed to list filings")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list filings")
	}

	return &models.FilingListResponse{
		Items:      filings,
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// ListAll retrieves every filing ordered by creation time, for the merge
// engine's corpus-wide grouping.
func (r *Repository) ListAll(ctx context.Context) ([]models.Filing, error) {
	ctx, span := tracing.StartSpan(ctx, "filing.Repository.ListAll")
	defer span.End()

	sb := filingStruct.SelectFrom("filings")
	sb.OrderBy("created_at ASC", "id ASC")

	query, args := sb.Build()
	var filings []models.Filing
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &filings, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list all filings")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list filings")
	}

	return filings, nil
}

// ListIDs returns the IDs of every filing, for reconcile-all passes.
func (r *Repository) ListIDs(ctx context.Context) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "filing.Repository.ListIDs")
	defer span.End()

	var ids []string
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &ids, `SELECT id FROM filings ORDER BY created_at ASC`); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list filing ids")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list filings")
	}

	return ids, nil
}

// SetHeaderMapping records the mapping an import ran with. Best-effort
// audit metadata; callers may ignore the error.
func (r *Repository) SetHeaderMapping(ctx context.Context, id string, m map[string]string) error {
	ctx, span := tracing.StartSpan(ctx, "filing.Repository.SetHeaderMapping")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update("filings")
	ub.Set(
		ub.Assign("header_mapping", database.JSONB[map[string]string]{Data: m}),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()
	if _, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to record header mapping")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update filing")
	}

	return nil
}

// UpdateStatus moves a filing through its lifecycle
func (r *Repository) UpdateStatus(ctx context.Context, id string, status models.FilingStatus) error {
	ctx, span := tracing.StartSpan(ctx, "filing.Repository.UpdateStatus")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update("filings")
	ub.Set(ub.Assign("status", status), ub.Assign("updated_at", time.Now().UTC()))
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()
	result, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "status": status}).Error("Failed to update filing status")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update filing")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "filing %s not found", id)
	}

	return nil
}

// UpdateTotals writes recomputed totals and advances the status. Only the
// reconciler calls this; the stored totals are derived data.
func (r *Repository) UpdateTotals(ctx context.Context, id string, contributions, expenditures decimal.Decimal, status models.FilingStatus) error {
	ctx, span := tracing.StartSpan(ctx, "filing.Repository.UpdateTotals")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update("filings")
	ub.Set(
		ub.Assign("total_contributions", contributions),
		ub.Assign("total_expenditures", expenditures),
		ub.Assign("status", status),
		ub.Assign("updated_at", time.Now().UTC()),
	)
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()
	result, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to update filing totals")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update filing")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "filing %s not found", id)
	}

	return nil
}

// Delete hard-deletes a filing. Only the merge engine calls this, after its
// transactions have been reassigned or deleted.
func (r *Repository) Delete(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "filing.Repository.Delete")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom("filings")
	db.Where(db.Equal("id", id))

	query, args := db.Build()
	result, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to delete filing")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete filing")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "filing %s not found", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": id}).Info("Deleted filing")
	return nil
}
