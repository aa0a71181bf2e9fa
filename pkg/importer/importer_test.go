package importer

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civiclens/clover/pkg/database"
	"github.com/civiclens/clover/pkg/entitysync"
	"github.com/civiclens/clover/pkg/fields"
	"github.com/civiclens/clover/pkg/mapping"
	"github.com/civiclens/clover/pkg/models"
	"github.com/civiclens/clover/pkg/spreadsheet"
	"github.com/civiclens/clover/pkg/validation"
)

type fakeTx struct {
	committed  bool
	rolledBack bool
	closed     bool
}

func (t *fakeTx) IsOpen() bool { return !t.closed }
func (t *fakeTx) Commit(context.Context) error {
	t.closed = true
	t.committed = true
	return nil
}
func (t *fakeTx) Rollback(context.Context) error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.rolledBack = true
	return nil
}
func (t *fakeTx) ExecContext(context.Context, string, ...any) (sql.Result, error) { return nil, nil }
func (t *fakeTx) GetContext(context.Context, any, string, ...any) error           { return nil }
func (t *fakeTx) SelectContext(context.Context, any, string, ...any) error        { return nil }
func (t *fakeTx) QueryxContext(context.Context, string, ...any) (*sqlx.Rows, error) {
	return nil, nil
}

type fakeDB struct {
	tx *fakeTx
}

func (f *fakeDB) GetTx(ctx context.Context, _ *sql.TxOptions) (context.Context, database.Tx, error) {
	f.tx = &fakeTx{}
	return ctx, f.tx, nil
}

type fakeFilingStore struct {
	totalsByID map[string][2]decimal.Decimal
	statusByID map[string]models.FilingStatus
	updateErr  error
}

func newFakeFilingStore() *fakeFilingStore {
	return &fakeFilingStore{
		totalsByID: map[string][2]decimal.Decimal{},
		statusByID: map[string]models.FilingStatus{},
	}
}

func (f *fakeFilingStore) UpdateTotals(_ context.Context, id string, contributions, expenditures decimal.Decimal, status models.FilingStatus) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.totalsByID[id] = [2]decimal.Decimal{contributions, expenditures}
	f.statusByID[id] = status
	return nil
}

type fakeTxStore struct {
	inserted  []models.Transaction
	insertErr error
}

func (f *fakeTxStore) InsertBatch(_ context.Context, txs []models.Transaction) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, txs...)
	return nil
}

type fakeSyncer struct {
	calls int
}

func (f *fakeSyncer) SyncFiling(context.Context, *models.Filing, []models.Transaction) *entitysync.Report {
	f.calls++
	return &entitysync.Report{CandidatesCreated: 1}
}

type fakeEmitter struct {
	events int
}

func (f *fakeEmitter) FilingImported(context.Context, *models.Filing, int) { f.events++ }

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func validBatch(t *testing.T, n int) *validation.Result {
	t.Helper()
	set, err := fields.Defaults()
	require.NoError(t, err)
	v := validation.NewValidator(set)

	m := mapping.Mapping{
		fields.KeyEntityName: "Name",
		fields.KeyAmount:     "Amount",
		fields.KeyDate:       "Date",
	}
	table := &spreadsheet.Table{Headers: []string{"Name", "Amount", "Date"}}
	for i := 0; i < n; i++ {
		table.Rows = append(table.Rows, spreadsheet.Row{
			Number: i + 2,
			Cells: map[string]string{
				"Name":   fmt.Sprintf("Donor %d", i),
				"Amount": "100.00",
				"Date":   "2024-03-01",
			},
		})
	}
	return v.ValidateAll(m, table)
}

func pendingFiling() *models.Filing {
	return &models.Filing{ID: "filing-1", FilerName: "Jane Doe", Status: models.FilingStatusPending}
}

func TestImport_CommitsBatch(t *testing.T) {
	db := &fakeDB{}
	filings := newFakeFilingStore()
	store := &fakeTxStore{}
	syncer := &fakeSyncer{}
	emitter := &fakeEmitter{}
	imp := NewImporter(testLogger(), db, filings, store, syncer, emitter)

	result, err := imp.Import(context.Background(), pendingFiling(), validBatch(t, 3), models.TransactionTypeContribution)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Imported)
	assert.Len(t, store.inserted, 3)
	assert.True(t, db.tx.committed)
	assert.False(t, db.tx.rolledBack)
	assert.Equal(t, 1, syncer.calls)
	assert.Equal(t, 1, emitter.events)

	first := store.inserted[0]
	assert.Equal(t, "filing-1", first.FilingID)
	assert.Equal(t, models.TransactionTypeContribution, first.Type)
	assert.True(t, first.Amount.Equal(decimal.RequireFromString("100.00")))
	require.NotNil(t, first.Date)
}

func TestImport_AdvancesFilingToProcessed(t *testing.T) {
	db := &fakeDB{}
	filings := newFakeFilingStore()
	imp := NewImporter(testLogger(), db, filings, &fakeTxStore{}, nil, nil)

	filing := pendingFiling()
	_, err := imp.Import(context.Background(), filing, validBatch(t, 2), models.TransactionTypeContribution)
	require.NoError(t, err)

	// The lifecycle advance commits with the rows, not on a later pass.
	assert.Equal(t, models.FilingStatusProcessed, filings.statusByID["filing-1"])
	totals := filings.totalsByID["filing-1"]
	assert.True(t, totals[0].Equal(decimal.RequireFromString("200.00")))
	assert.True(t, totals[1].IsZero())

	assert.Equal(t, models.FilingStatusProcessed, filing.Status)
	require.True(t, filing.TotalContributions.Valid)
	assert.True(t, filing.TotalContributions.Decimal.Equal(decimal.RequireFromString("200.00")))
	require.True(t, filing.TotalExpenditures.Valid)
	assert.True(t, filing.TotalExpenditures.Decimal.IsZero())
}

func TestImport_StatusUpdateFailureRollsBackRows(t *testing.T) {
	db := &fakeDB{}
	filings := newFakeFilingStore()
	filings.updateErr = fmt.Errorf("connection reset")
	imp := NewImporter(testLogger(), db, filings, &fakeTxStore{}, nil, nil)

	filing := pendingFiling()
	_, err := imp.Import(context.Background(), filing, validBatch(t, 1), models.TransactionTypeContribution)
	require.Error(t, err)

	assert.True(t, db.tx.rolledBack)
	assert.False(t, db.tx.committed)
	assert.Equal(t, models.FilingStatusPending, filing.Status)
	assert.False(t, filing.TotalContributions.Valid)
}

func TestImport_InsertFailureRollsBack(t *testing.T) {
	db := &fakeDB{}
	store := &fakeTxStore{insertErr: fmt.Errorf("duplicate key value violates unique constraint")}
	syncer := &fakeSyncer{}
	imp := NewImporter(testLogger(), db, newFakeFilingStore(), store, syncer, &fakeEmitter{})

	_, err := imp.Import(context.Background(), pendingFiling(), validBatch(t, 2), models.TransactionTypeContribution)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate key")

	assert.True(t, db.tx.rolledBack)
	assert.False(t, db.tx.committed)
	assert.Empty(t, store.inserted)
	// entity sync must not run for an aborted batch
	assert.Equal(t, 0, syncer.calls)
}

func TestImport_NonPendingFilingRejected(t *testing.T) {
	imp := NewImporter(testLogger(), &fakeDB{}, newFakeFilingStore(), &fakeTxStore{}, nil, nil)

	filing := pendingFiling()
	filing.Status = models.FilingStatusProcessed
	_, err := imp.Import(context.Background(), filing, validBatch(t, 1), models.TransactionTypeContribution)
	assert.Error(t, err)
}

func TestImport_InvalidRowsCarriedThrough(t *testing.T) {
	db := &fakeDB{}
	imp := NewImporter(testLogger(), db, newFakeFilingStore(), &fakeTxStore{}, nil, nil)

	batch := validBatch(t, 1)
	batch.Invalid = append(batch.Invalid, &validation.RowError{SourceRow: 9, MissingLabels: []string{"Amount"}})

	result, err := imp.Import(context.Background(), pendingFiling(), batch, models.TransactionTypeContribution)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)
	require.Len(t, result.InvalidRows, 1)
	assert.Equal(t, 9, result.InvalidRows[0].SourceRow)
}

func TestImport_EmptyBatchIsNoOp(t *testing.T) {
	db := &fakeDB{}
	store := &fakeTxStore{}
	imp := NewImporter(testLogger(), db, newFakeFilingStore(), store, &fakeSyncer{}, &fakeEmitter{})

	result, err := imp.Import(context.Background(), pendingFiling(), &validation.Result{}, models.TransactionTypeContribution)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Imported)
	assert.Nil(t, db.tx)
	assert.Empty(t, store.inserted)
}
