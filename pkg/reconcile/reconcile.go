// Package reconcile recomputes filing totals from transaction rows.
// Stored totals are derived data, so the reconciler is idempotent and
// safe to re-run at any time; it writes only when the recomputed value
// actually moved.
package reconcile

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/shopspring/decimal"

	"github.com/civiclens/clover/pkg/metrics"
	"github.com/civiclens/clover/pkg/models"
	"github.com/civiclens/clover/pkg/tracing"
)

// Deltas at or below epsilon are rounding noise, not drift; skipping
// them avoids churning updated_at on every pass.
var epsilon = decimal.NewFromFloat(0.01)

// Outcome says what one reconciliation did.
type Outcome string

const (
	// OutcomeUpdated means the stored totals were rewritten.
	OutcomeUpdated Outcome = "UPDATED"
	// OutcomeSkipped means the stored totals were already within
	// epsilon of the recomputed values.
	OutcomeSkipped Outcome = "SKIPPED"
)

// FilingStore is the filing surface the reconciler needs.
type FilingStore interface {
	Get(ctx context.Context, id string) (*models.Filing, error)
	ListIDs(ctx context.Context) ([]string, error)
	UpdateTotals(ctx context.Context, id string, contributions, expenditures decimal.Decimal, status models.FilingStatus) error
}

// TransactionStore recomputes sums from the financial rows.
type TransactionStore interface {
	SumByFiling(ctx context.Context, filingID string) (contributions, expenditures decimal.Decimal, err error)
}

// Report summarizes a reconcile-all pass.
type Report struct {
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Emitter publishes reconcile events; optional and best-effort.
type Emitter interface {
	FilingReconciled(ctx context.Context, filing *models.Filing)
}

// Reconciler recomputes and repairs filing aggregates
type Reconciler struct {
	logger       ectologger.Logger
	filings      FilingStore
	transactions TransactionStore
	emitter      Emitter
}

func NewReconciler(logger ectologger.Logger, filings FilingStore, transactions TransactionStore) *Reconciler {
	return &Reconciler{
		logger:       logger,
		filings:      filings,
		transactions: transactions,
	}
}

// SetEmitter attaches a lifecycle event emitter
func (r *Reconciler) SetEmitter(emitter Emitter) {
	r.emitter = emitter
}

// ReconcileFiling recomputes one filing's totals. Filings with null
// totals are always written and advanced to PROCESSED; filings whose
// stored totals are within epsilon of the recomputation are left
// untouched.
func (r *Reconciler) ReconcileFiling(ctx context.Context, filingID string) (Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "reconcile.Reconciler.ReconcileFiling")
	defer span.End()

	filing, err := r.filings.Get(ctx, filingID)
	if err != nil {
		return "", err
	}

	contributions, expenditures, err := r.transactions.SumByFiling(ctx, filingID)
	if err != nil {
		return "", err
	}

	hasTotals := filing.TotalContributions.Valid && filing.TotalExpenditures.Valid
	if hasTotals &&
		withinEpsilon(filing.TotalContributions.Decimal, contributions) &&
		withinEpsilon(filing.TotalExpenditures.Decimal, expenditures) {
		metrics.ReconcileFilingsTotal.WithLabelValues("skipped").Inc()
		return OutcomeSkipped, nil
	}

	status := filing.Status
	if !hasTotals {
		status = models.FilingStatusProcessed
	}

	if err := r.filings.UpdateTotals(ctx, filingID, contributions, expenditures, status); err != nil {
		return "", err
	}

	metrics.ReconcileFilingsTotal.WithLabelValues("updated").Inc()

	if r.emitter != nil {
		filing.TotalContributions = decimal.NewNullDecimal(contributions)
		filing.TotalExpenditures = decimal.NewNullDecimal(expenditures)
		filing.Status = status
		r.emitter.FilingReconciled(ctx, filing)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"filing_id":     filingID,
		"contributions": contributions.StringFixed(2),
		"expenditures":  expenditures.StringFixed(2),
		"status":        status,
	}).Info("Reconciled filing totals")
	return OutcomeUpdated, nil
}

// ReconcileAll runs over every filing. Single-filing failures are
// counted and skipped; reconciliation of the rest proceeds.
func (r *Reconciler) ReconcileAll(ctx context.Context) (*Report, error) {
	ctx, span := tracing.StartSpan(ctx, "reconcile.Reconciler.ReconcileAll")
	defer span.End()

	ids, err := r.filings.ListIDs(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	for _, id := range ids {
		outcome, err := r.ReconcileFiling(ctx, id)
		if err != nil {
			report.Failed++
			metrics.ReconcileFilingsTotal.WithLabelValues("failed").Inc()
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"filing_id": id}).Error("Failed to reconcile filing, continuing")
			continue
		}
		if outcome == OutcomeUpdated {
			report.Updated++
		} else {
			report.Skipped++
		}
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"updated": report.Updated,
		"skipped": report.Skipped,
		"failed":  report.Failed,
	}).Info("Reconcile pass finished")
	return report, nil
}

func withinEpsilon(stored, computed decimal.Decimal) bool {
	return stored.Sub(computed).Abs().LessThanOrEqual(epsilon)
}
