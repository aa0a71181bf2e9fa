package dedupe

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civiclens/clover/pkg/database"
	"github.com/civiclens/clover/pkg/models"
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
	txs []*fakeTx
}

func (f *fakeDB) GetTx(ctx context.Context, _ *sql.TxOptions) (context.Context, database.Tx, error) {
	tx := &fakeTx{}
	f.txs = append(f.txs, tx)
	return ctx, tx, nil
}

type fakeProfileStore struct {
	profiles   []models.Profile
	deleted    []string
	deleteErr  map[string]error
	dupeGroups int
	indexed    bool
}

func (f *fakeProfileStore) ListAll(context.Context) ([]models.Profile, error) {
	return f.profiles, nil
}

func (f *fakeProfileStore) Delete(_ context.Context, id string) error {
	if err, ok := f.deleteErr[id]; ok {
		return err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeProfileStore) CountDuplicateGroups(context.Context) (int, error) {
	return f.dupeGroups, nil
}

func (f *fakeProfileStore) EnsureUniqueNameTypeIndex(context.Context) error {
	f.indexed = true
	return nil
}

type fakeFilingStore struct {
	filings []models.Filing
	deleted []string
}

func (f *fakeFilingStore) ListAll(context.Context) ([]models.Filing, error) { return f.filings, nil }
func (f *fakeFilingStore) Delete(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeTxRowStore struct {
	relinked   map[string]string // loser profile id -> survivor profile id
	relinkErr  map[string]error
	linkCounts map[string]int // profile id -> remaining linked rows
	reassigned map[string]string
	txDeleted  []string
}

func newFakeTxRowStore() *fakeTxRowStore {
	return &fakeTxRowStore{
		relinked:   map[string]string{},
		relinkErr:  map[string]error{},
		linkCounts: map[string]int{},
		reassigned: map[string]string{},
	}
}

func (f *fakeTxRowStore) RelinkEntityProfile(_ context.Context, from, to string) (int64, error) {
	if err, ok := f.relinkErr[from]; ok {
		return 0, err
	}
	f.relinked[from] = to
	return 2, nil
}

func (f *fakeTxRowStore) CountByEntityProfile(_ context.Context, id string) (int, error) {
	return f.linkCounts[id], nil
}

func (f *fakeTxRowStore) ReassignFiling(_ context.Context, from, to string) (int64, error) {
	f.reassigned[from] = to
	return 3, nil
}

func (f *fakeTxRowStore) DeleteByFiling(_ context.Context, id string) (int64, error) {
	f.txDeleted = append(f.txDeleted, id)
	return 3, nil
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func profile(id, name string, t models.ProfileType, created time.Time) models.Profile {
	return models.Profile{ID: id, Name: name, Type: t, CreatedAt: created}
}

func newEngine(profiles *fakeProfileStore, filings *fakeFilingStore, txRows *fakeTxRowStore) (*Engine, *fakeDB) {
	db := &fakeDB{}
	return NewEngine(testLogger(), db, profiles, filings, txRows, nil, nil), db
}

func TestMergeProfiles_EarliestSurvives(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	profiles := &fakeProfileStore{profiles: []models.Profile{
		profile("p1", "Jane Doe", models.ProfileTypeCandidate, base),
		profile("p2", "jane doe ", models.ProfileTypeCandidate, base.Add(time.Hour)),
		profile("p3", "JANE DOE", models.ProfileTypeCandidate, base.Add(2*time.Hour)),
		profile("p4", "Jane Doe", models.ProfileTypeDonor, base), // different type, not a duplicate
	}}
	txRows := newFakeTxRowStore()
	engine, db := newEngine(profiles, &fakeFilingStore{}, txRows)

	report, err := engine.MergeProfiles(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.GroupsProcessed)
	assert.Equal(t, 0, report.GroupsFailed)
	assert.Equal(t, 2, report.ProfilesDeleted)

	// losers relinked to the earliest-created profile before deletion
	assert.Equal(t, "p1", txRows.relinked["p2"])
	assert.Equal(t, "p1", txRows.relinked["p3"])
	assert.ElementsMatch(t, []string{"p2", "p3"}, profiles.deleted)
	assert.NotContains(t, profiles.deleted, "p4")

	require.Len(t, db.txs, 1)
	assert.True(t, db.txs[0].committed)
}

func TestMergeProfiles_FailedGroupDoesNotBlockOthers(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	profiles := &fakeProfileStore{profiles: []models.Profile{
		profile("a1", "Acme Corp", models.ProfileTypeDonor, base),
		profile("a2", "Acme Corp", models.ProfileTypeDonor, base.Add(time.Hour)),
		profile("b1", "Beta LLC", models.ProfileTypeDonor, base),
		profile("b2", "Beta LLC", models.ProfileTypeDonor, base.Add(time.Hour)),
	}}
	txRows := newFakeTxRowStore()
	txRows.relinkErr["a2"] = fmt.Errorf("foreign key violation")
	engine, db := newEngine(profiles, &fakeFilingStore{}, txRows)

	report, err := engine.MergeProfiles(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.GroupsProcessed)
	assert.Equal(t, 1, report.GroupsFailed)
	assert.Equal(t, []string{"b2"}, profiles.deleted)

	// the failed group's transaction rolled back, the other committed
	require.Len(t, db.txs, 2)
	assert.True(t, db.txs[0].rolledBack)
	assert.True(t, db.txs[1].committed)
}

func TestMergeProfiles_AbortsWhenRelinkLeavesRows(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	profiles := &fakeProfileStore{profiles: []models.Profile{
		profile("p1", "Jane Doe", models.ProfileTypeCandidate, base),
		profile("p2", "Jane Doe", models.ProfileTypeCandidate, base.Add(time.Hour)),
	}}
	txRows := newFakeTxRowStore()
	txRows.linkCounts["p2"] = 1 // relink claims success but a row still points at the loser
	engine, _ := newEngine(profiles, &fakeFilingStore{}, txRows)

	report, err := engine.MergeProfiles(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.GroupsFailed)
	assert.Empty(t, profiles.deleted)
}

func TestMergeProfiles_NoDuplicatesIsNoOp(t *testing.T) {
	profiles := &fakeProfileStore{profiles: []models.Profile{
		profile("p1", "Jane Doe", models.ProfileTypeCandidate, time.Now()),
		profile("p2", "John Roe", models.ProfileTypeCandidate, time.Now()),
	}}
	engine, db := newEngine(profiles, &fakeFilingStore{}, newFakeTxRowStore())

	report, err := engine.MergeProfiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.GroupsProcessed)
	assert.Empty(t, db.txs)
}

func TestMergeFilings_ReassignPolicy(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	filings := &fakeFilingStore{filings: []models.Filing{
		{ID: "f1", FilerName: "Jane Doe", SourceRef: "2024-S1", CreatedAt: base},
		{ID: "f2", FilerName: "Jane Doe", SourceRef: "2024-S1", CreatedAt: base.Add(time.Hour)},
		{ID: "f3", FilerName: "Jane Doe", SourceRef: "2024-S2", CreatedAt: base},
	}}
	txRows := newFakeTxRowStore()
	engine, _ := newEngine(&fakeProfileStore{}, filings, txRows)

	report, err := engine.MergeFilings(context.Background(), FilingMergeReassign)
	require.NoError(t, err)

	assert.Equal(t, 1, report.GroupsProcessed)
	assert.Equal(t, 1, report.FilingsDeleted)
	assert.Equal(t, int64(3), report.TransactionsRelinked)
	assert.Equal(t, []string{"f1"}, report.AffectedFilings)
	assert.Equal(t, "f1", txRows.reassigned["f2"])
	assert.Equal(t, []string{"f2"}, filings.deleted)
	assert.Empty(t, txRows.txDeleted)
}

func TestMergeFilings_DeletePolicy(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	filings := &fakeFilingStore{filings: []models.Filing{
		{ID: "f1", FilerName: "Jane Doe", SourceRef: "2024-S1", CreatedAt: base},
		{ID: "f2", FilerName: "Jane Doe", SourceRef: "2024-S1", CreatedAt: base.Add(time.Hour)},
	}}
	txRows := newFakeTxRowStore()
	engine, _ := newEngine(&fakeProfileStore{}, filings, txRows)

	report, err := engine.MergeFilings(context.Background(), FilingMergeDelete)
	require.NoError(t, err)

	assert.Equal(t, []string{"f2"}, txRows.txDeleted)
	assert.Equal(t, []string{"f2"}, filings.deleted)
	assert.Empty(t, txRows.reassigned)
	assert.Equal(t, int64(0), report.TransactionsRelinked)
}

func TestMergeFilings_UnknownPolicyRejected(t *testing.T) {
	engine, _ := newEngine(&fakeProfileStore{}, &fakeFilingStore{}, newFakeTxRowStore())

	_, err := engine.MergeFilings(context.Background(), FilingMergePolicy("BOTH"))
	assert.Error(t, err)
}

func TestEnsureUniqueConstraint(t *testing.T) {
	profiles := &fakeProfileStore{dupeGroups: 2}
	engine, _ := newEngine(profiles, &fakeFilingStore{}, newFakeTxRowStore())

	applied, err := engine.EnsureUniqueConstraint(context.Background())
	require.NoError(t, err)
	assert.False(t, applied)
	assert.False(t, profiles.indexed)

	profiles.dupeGroups = 0
	applied, err = engine.EnsureUniqueConstraint(context.Background())
	require.NoError(t, err)
	assert.True(t, applied)
	assert.True(t, profiles.indexed)
}
