// Package importer persists validated rows as transactions under one
// filing. The batch is atomic: a failure on any row rolls back every
// row and leaves the filing PENDING.
package importer

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/shopspring/decimal"

	"github.com/civiclens/clover/pkg/database"
	"github.com/civiclens/clover/pkg/entitysync"
	"github.com/civiclens/clover/pkg/fields"
	"github.com/civiclens/clover/pkg/metrics"
	"github.com/civiclens/clover/pkg/models"
	"github.com/civiclens/clover/pkg/tracing"
	"github.com/civiclens/clover/pkg/validation"
)

// TransactionStore is the persistence surface the importer writes
// through. InsertBatch must honor an open transaction on the context.
type TransactionStore interface {
	InsertBatch(ctx context.Context, txs []models.Transaction) error
}

// FilingStore advances the filing once its batch lands. UpdateTotals
// must honor an open transaction on the context so the status change
// commits or rolls back with the rows.
type FilingStore interface {
	UpdateTotals(ctx context.Context, id string, contributions, expenditures decimal.Decimal, status models.FilingStatus) error
}

// TxBeginner opens the unit of work the batch runs inside. Satisfied
// by database.DB.
type TxBeginner interface {
	GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, database.Tx, error)
}

// Syncer derives companion profiles after a successful import. Sync is
// best-effort; the importer ignores everything but the report.
type Syncer interface {
	SyncFiling(ctx context.Context, filing *models.Filing, txs []models.Transaction) *entitysync.Report
}

// Emitter publishes the imported event. Emission failures are logged
// by the emitter itself and never fail the import.
type Emitter interface {
	FilingImported(ctx context.Context, filing *models.Filing, txCount int)
}

// Result describes one import run. Invalid rows are carried through
// from validation so callers surface them; they were never imported.
type Result struct {
	FilingID    string                 `json:"filing_id"`
	Imported    int                    `json:"imported"`
	InvalidRows []*validation.RowError `json:"invalid_rows,omitempty"`
	SyncReport  *entitysync.Report     `json:"sync_report,omitempty"`
}

// Importer writes validated batches
type Importer struct {
	logger       ectologger.Logger
	db           TxBeginner
	filings      FilingStore
	transactions TransactionStore
	syncer       Syncer
	emitter      Emitter
}

func NewImporter(logger ectologger.Logger, db TxBeginner, filings FilingStore, transactions TransactionStore, syncer Syncer, emitter Emitter) *Importer {
	return &Importer{
		logger:       logger,
		db:           db,
		filings:      filings,
		transactions: transactions,
		syncer:       syncer,
		emitter:      emitter,
	}
}

// Import persists the valid rows of a batch as transactions of the
// given type under the filing. All-or-nothing: any insert failure
// aborts the whole batch, the filing stays PENDING, and the error is
// returned verbatim. On success the filing is marked PROCESSED with
// the batch totals in the same transaction as the rows, then the
// entity resolver runs synchronously before returning; its failures
// never fail the import.
func (i *Importer) Import(ctx context.Context, filing *models.Filing, batch *validation.Result, txType models.TransactionType) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "importer.Importer.Import")
	defer span.End()

	log := i.logger.WithContext(ctx).WithFields(map[string]any{
		"filing_id": filing.ID,
		"valid":     len(batch.Valid),
		"invalid":   len(batch.Invalid),
	})

	if filing.Status != models.FilingStatusPending {
		return nil, httperror.NewHTTPErrorf(http.StatusConflict, "filing %s is %s, expected PENDING", filing.ID, filing.Status)
	}

	result := &Result{FilingID: filing.ID, InvalidRows: batch.Invalid}
	metrics.RowsImportedTotal.WithLabelValues("invalid").Add(float64(len(batch.Invalid)))

	if len(batch.Valid) == 0 {
		log.Warn("Import batch holds no valid rows")
		return result, nil
	}

	txs := buildTransactions(filing.ID, batch.Valid, txType)
	contributions, expenditures := sumByType(txs)

	start := time.Now()
	if err := i.insertAtomically(ctx, filing.ID, txs, contributions, expenditures); err != nil {
		metrics.RowsImportedTotal.WithLabelValues("aborted").Add(float64(len(txs)))
		log.WithError(err).Error("Import batch aborted, all rows rolled back")
		return nil, err
	}
	metrics.ImportDuration.Observe(time.Since(start).Seconds())
	metrics.RowsImportedTotal.WithLabelValues("imported").Add(float64(len(txs)))

	filing.Status = models.FilingStatusProcessed
	filing.TotalContributions = decimal.NewNullDecimal(contributions)
	filing.TotalExpenditures = decimal.NewNullDecimal(expenditures)

	result.Imported = len(txs)
	log.WithFields(map[string]any{"imported": result.Imported}).Info("Imported transaction batch")

	if i.syncer != nil {
		result.SyncReport = i.syncer.SyncFiling(ctx, filing, txs)
	}
	if i.emitter != nil {
		i.emitter.FilingImported(ctx, filing, result.Imported)
	}

	return result, nil
}

// insertAtomically wraps the batch insert and the filing's lifecycle
// advance in one transaction. The deferred rollback is a no-op once
// the commit lands.
func (i *Importer) insertAtomically(ctx context.Context, filingID string, txs []models.Transaction, contributions, expenditures decimal.Decimal) error {
	ctx, tx, err := i.db.GetTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := i.transactions.InsertBatch(ctx, txs); err != nil {
		return err
	}
	if err := i.filings.UpdateTotals(ctx, filingID, contributions, expenditures, models.FilingStatusProcessed); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func sumByType(txs []models.Transaction) (contributions, expenditures decimal.Decimal) {
	for _, tx := range txs {
		switch tx.Type {
		case models.TransactionTypeContribution:
			contributions = contributions.Add(tx.Amount)
		case models.TransactionTypeExpenditure:
			expenditures = expenditures.Add(tx.Amount)
		}
	}
	return contributions, expenditures
}

func buildTransactions(filingID string, rows []*validation.Row, txType models.TransactionType) []models.Transaction {
	txs := make([]models.Transaction, 0, len(rows))
	for _, row := range rows {
		tx := models.Transaction{
			FilingID:      filingID,
			Type:          txType,
			EntityName:    row.String(fields.KeyEntityName),
			EntityAddress: row.String(fields.KeyEntityAddress),
			EntityCity:    row.String(fields.KeyEntityCity),
			EntityState:   row.String(fields.KeyEntityState),
			EntityZip:     row.String(fields.KeyEntityZip),
			Occupation:    row.String(fields.KeyOccupation),
			Employer:      row.String(fields.KeyEmployer),
			CommitteeID:   row.String(fields.KeyCommitteeID),
			Intermediary:  row.String(fields.KeyIntermediary),
			Code:          row.String(fields.KeyCode),
			Memo:          row.String(fields.KeyMemo),
		}
		if amount, ok := row.Amount(fields.KeyAmount); ok {
			tx.Amount = amount
		}
		if date, ok := row.Date(fields.KeyDate); ok {
			d := date
			tx.Date = &d
		}
		txs = append(txs, tx)
	}
	return txs
}
