package reconcile

import (
	"context"
	"fmt"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civiclens/clover/pkg/models"
)

type fakeFilingStore struct {
	filings map[string]*models.Filing
	order   []string
	updates []string
	getErr  map[string]error
}

func newFakeFilingStore() *fakeFilingStore {
	return &fakeFilingStore{filings: map[string]*models.Filing{}, getErr: map[string]error{}}
}

func (f *fakeFilingStore) add(filing *models.Filing) {
	f.filings[filing.ID] = filing
	f.order = append(f.order, filing.ID)
}

func (f *fakeFilingStore) Get(_ context.Context, id string) (*models.Filing, error) {
	if err, ok := f.getErr[id]; ok {
		return nil, err
	}
	return f.filings[id], nil
}

func (f *fakeFilingStore) ListIDs(context.Context) ([]string, error) { return f.order, nil }

func (f *fakeFilingStore) UpdateTotals(_ context.Context, id string, contributions, expenditures decimal.Decimal, status models.FilingStatus) error {
	filing := f.filings[id]
	filing.TotalContributions = decimal.NewNullDecimal(contributions)
	filing.TotalExpenditures = decimal.NewNullDecimal(expenditures)
	filing.Status = status
	f.updates = append(f.updates, id)
	return nil
}

type fakeSumStore struct {
	sums map[string][2]decimal.Decimal
}

func (f *fakeSumStore) SumByFiling(_ context.Context, id string) (decimal.Decimal, decimal.Decimal, error) {
	s, ok := f.sums[id]
	if !ok {
		return decimal.Zero, decimal.Zero, nil
	}
	return s[0], s[1], nil
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestReconcileFiling_NullTotalsAlwaysUpdatedAndProcessed(t *testing.T) {
	filings := newFakeFilingStore()
	filings.add(&models.Filing{ID: "f1", Status: models.FilingStatusPending})
	sums := &fakeSumStore{sums: map[string][2]decimal.Decimal{"f1": {dec("1500.00"), dec("200.00")}}}

	outcome, err := NewReconciler(testLogger(), filings, sums).ReconcileFiling(context.Background(), "f1")
	require.NoError(t, err)

	assert.Equal(t, OutcomeUpdated, outcome)
	filing := filings.filings["f1"]
	assert.Equal(t, models.FilingStatusProcessed, filing.Status)
	assert.True(t, filing.TotalContributions.Decimal.Equal(dec("1500.00")))
	assert.True(t, filing.TotalExpenditures.Decimal.Equal(dec("200.00")))
}

func TestReconcileFiling_WithinEpsilonSkipped(t *testing.T) {
	filings := newFakeFilingStore()
	filings.add(&models.Filing{
		ID:                 "f1",
		Status:             models.FilingStatusProcessed,
		TotalContributions: decimal.NewNullDecimal(dec("1500.00")),
		TotalExpenditures:  decimal.NewNullDecimal(dec("200.00")),
	})
	// off by exactly epsilon: still a skip
	sums := &fakeSumStore{sums: map[string][2]decimal.Decimal{"f1": {dec("1500.01"), dec("200.00")}}}

	outcome, err := NewReconciler(testLogger(), filings, sums).ReconcileFiling(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Empty(t, filings.updates)
}

func TestReconcileFiling_DriftBeyondEpsilonUpdated(t *testing.T) {
	filings := newFakeFilingStore()
	filings.add(&models.Filing{
		ID:                 "f1",
		Status:             models.FilingStatusVerified,
		TotalContributions: decimal.NewNullDecimal(dec("1500.00")),
		TotalExpenditures:  decimal.NewNullDecimal(dec("200.00")),
	})
	sums := &fakeSumStore{sums: map[string][2]decimal.Decimal{"f1": {dec("1500.02"), dec("200.00")}}}

	outcome, err := NewReconciler(testLogger(), filings, sums).ReconcileFiling(context.Background(), "f1")
	require.NoError(t, err)

	assert.Equal(t, OutcomeUpdated, outcome)
	// a non-null filing keeps its status; VERIFIED records stay VERIFIED
	assert.Equal(t, models.FilingStatusVerified, filings.filings["f1"].Status)
	assert.True(t, filings.filings["f1"].TotalContributions.Decimal.Equal(dec("1500.02")))
}

func TestReconcileFiling_Idempotent(t *testing.T) {
	filings := newFakeFilingStore()
	filings.add(&models.Filing{ID: "f1", Status: models.FilingStatusPending})
	sums := &fakeSumStore{sums: map[string][2]decimal.Decimal{"f1": {dec("100.00"), dec("0")}}}
	r := NewReconciler(testLogger(), filings, sums)

	first, err := r.ReconcileFiling(context.Background(), "f1")
	require.NoError(t, err)
	second, err := r.ReconcileFiling(context.Background(), "f1")
	require.NoError(t, err)

	assert.Equal(t, OutcomeUpdated, first)
	assert.Equal(t, OutcomeSkipped, second)
	assert.Len(t, filings.updates, 1)
}

func TestReconcileAll_FailuresDoNotBlock(t *testing.T) {
	filings := newFakeFilingStore()
	filings.add(&models.Filing{ID: "f1", Status: models.FilingStatusPending})
	filings.add(&models.Filing{ID: "f2", Status: models.FilingStatusPending})
	filings.add(&models.Filing{ID: "f3", Status: models.FilingStatusPending})
	filings.getErr["f2"] = fmt.Errorf("connection reset")
	sums := &fakeSumStore{sums: map[string][2]decimal.Decimal{
		"f1": {dec("10.00"), dec("0")},
		"f3": {dec("30.00"), dec("0")},
	}}

	report, err := NewReconciler(testLogger(), filings, sums).ReconcileAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Updated)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Skipped)
	assert.ElementsMatch(t, []string{"f1", "f3"}, filings.updates)
}

type fakeEmitter struct {
	reconciled []*models.Filing
}

func (f *fakeEmitter) FilingReconciled(_ context.Context, filing *models.Filing) {
	f.reconciled = append(f.reconciled, filing)
}

func TestReconcileFiling_EmitsAfterUpdate(t *testing.T) {
	filings := newFakeFilingStore()
	filings.add(&models.Filing{ID: "f1", Status: models.FilingStatusPending})
	sums := &fakeSumStore{sums: map[string][2]decimal.Decimal{"f1": {dec("300.00"), dec("50.00")}}}

	emitter := &fakeEmitter{}
	reconciler := NewReconciler(testLogger(), filings, sums)
	reconciler.SetEmitter(emitter)

	_, err := reconciler.ReconcileFiling(context.Background(), "f1")
	require.NoError(t, err)
	require.Len(t, emitter.reconciled, 1)
	assert.True(t, emitter.reconciled[0].TotalContributions.Decimal.Equal(dec("300.00")))
	assert.Equal(t, models.FilingStatusProcessed, emitter.reconciled[0].Status)

	// a skipped pass emits nothing
	_, err = reconciler.ReconcileFiling(context.Background(), "f1")
	require.NoError(t, err)
	assert.Len(t, emitter.reconciled, 1)
}
