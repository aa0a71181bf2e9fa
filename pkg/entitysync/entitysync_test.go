package entitysync

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civiclens/clover/pkg/jurisdiction"
	"github.com/civiclens/clover/pkg/models"
)

type fakeProfileStore struct {
	profiles  map[string]*models.Profile // keyed by name|type
	createErr error
	getErr    error
	created   []models.CreateProfileRequest
}

func newFakeProfileStore() *fakeProfileStore {
	return &fakeProfileStore{profiles: map[string]*models.Profile{}}
}

func key(name string, t models.ProfileType) string { return name + "|" + string(t) }

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func (f *fakeProfileStore) GetByNameAndType(_ context.Context, name string, profileType models.ProfileType) (*models.Profile, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.profiles[key(name, profileType)], nil
}

func (f *fakeProfileStore) GetByNormalizedName(_ context.Context, name string, profileType models.ProfileType) (*models.Profile, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	normalized := strings.ToLower(strings.TrimSpace(name))
	for _, p := range f.profiles {
		if p.Type == profileType && strings.ToLower(strings.TrimSpace(p.Name)) == normalized {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakeProfileStore) Create(_ context.Context, req models.CreateProfileRequest) (*models.Profile, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, req)
	p := &models.Profile{
		ID:           fmt.Sprintf("profile-%d", len(f.created)),
		Name:         req.Name,
		Type:         req.Type,
		Jurisdiction: req.Jurisdiction,
		Description:  req.Description,
	}
	f.profiles[key(req.Name, req.Type)] = p
	return p, nil
}

type fakeTransactionStore struct {
	totals     map[string]decimal.Decimal
	sumErr     error
	cities     []string
	cityErr    error
	cityMinLen int
	linked     map[string]string // entity name -> profile id
	linkErr    error
}

func newFakeTransactionStore() *fakeTransactionStore {
	return &fakeTransactionStore{totals: map[string]decimal.Decimal{}, linked: map[string]string{}}
}

func (f *fakeTransactionStore) SumContributionsByEntities(_ context.Context, names []string) (map[string]decimal.Decimal, error) {
	if f.sumErr != nil {
		return nil, f.sumErr
	}
	out := map[string]decimal.Decimal{}
	for _, n := range names {
		if t, ok := f.totals[n]; ok {
			out[n] = t
		}
	}
	return out, nil
}

func (f *fakeTransactionStore) DistinctEntityCities(_ context.Context, _ string, minLength int) ([]string, error) {
	f.cityMinLen = minLength
	if f.cityErr != nil {
		return nil, f.cityErr
	}
	return f.cities, nil
}

func (f *fakeTransactionStore) SetEntityProfile(_ context.Context, entityName, profileID string) (int64, error) {
	if f.linkErr != nil {
		return 0, f.linkErr
	}
	f.linked[entityName] = profileID
	return 1, nil
}

func contribution(name, city string, amount string) models.Transaction {
	return models.Transaction{
		Type:       models.TransactionTypeContribution,
		EntityName: name,
		EntityCity: city,
		Amount:     decimal.RequireFromString(amount),
	}
}

func newResolver(profiles *fakeProfileStore, txs *fakeTransactionStore) *Resolver {
	return NewResolver(testLogger(), profiles, txs, nil, decimal.Decimal{})
}

func testFiling() *models.Filing {
	return &models.Filing{ID: "filing-1", FilerName: "Jane Doe", SourceRef: "2024-S1"}
}

func TestSyncFiling_CreatesCandidateProfile(t *testing.T) {
	profiles := newFakeProfileStore()
	txs := newFakeTransactionStore()

	report := newResolver(profiles, txs).SyncFiling(context.Background(), testFiling(), nil)

	assert.Equal(t, 1, report.CandidatesCreated)
	require.Len(t, profiles.created, 1)
	assert.Equal(t, models.ProfileTypeCandidate, profiles.created[0].Type)
	assert.Equal(t, "Jane Doe", profiles.created[0].Name)
}

func TestSyncFiling_ExistingCandidateUntouched(t *testing.T) {
	profiles := newFakeProfileStore()
	profiles.profiles[key("Jane Doe", models.ProfileTypeCandidate)] = &models.Profile{ID: "p1", Name: "Jane Doe", Type: models.ProfileTypeCandidate}

	report := newResolver(profiles, newFakeTransactionStore()).SyncFiling(context.Background(), testFiling(), nil)

	assert.Equal(t, 0, report.CandidatesCreated)
	assert.Empty(t, profiles.created)
}

func TestSyncFiling_Idempotent(t *testing.T) {
	profiles := newFakeProfileStore()
	txs := newFakeTransactionStore()
	txs.totals["Big Donor LLC"] = decimal.RequireFromString("5000")
	txs.cities = []string{"Palm Springs"}
	batch := []models.Transaction{contribution("Big Donor LLC", "Palm Springs", "5000")}

	resolver := newResolver(profiles, txs)
	first := resolver.SyncFiling(context.Background(), testFiling(), batch)
	second := resolver.SyncFiling(context.Background(), testFiling(), batch)

	assert.Equal(t, 1, first.CandidatesCreated)
	assert.Equal(t, 1, first.CitiesCreated)
	assert.Equal(t, 1, first.DonorsCreated)
	assert.Equal(t, 0, second.CandidatesCreated)
	assert.Equal(t, 0, second.CitiesCreated)
	assert.Equal(t, 0, second.DonorsCreated)
	assert.Len(t, profiles.created, 3)
}

func TestSyncFiling_DonorThresholdIsRunningTotal(t *testing.T) {
	profiles := newFakeProfileStore()
	txs := newFakeTransactionStore()
	// batch carries $400 but the corpus-wide total is $1,200
	txs.totals["Installment Donor"] = decimal.RequireFromString("1200")
	txs.totals["Small Donor"] = decimal.RequireFromString("800")

	batch := []models.Transaction{
		contribution("Installment Donor", "", "400"),
		contribution("Small Donor", "", "800"),
	}
	report := newResolver(profiles, txs).SyncFiling(context.Background(), testFiling(), batch)

	assert.Equal(t, 1, report.DonorsCreated)
	require.NotNil(t, profiles.profiles[key("Installment Donor", models.ProfileTypeDonor)])
	assert.Nil(t, profiles.profiles[key("Small Donor", models.ProfileTypeDonor)])
}

func TestSyncFiling_ExactThresholdNotEnough(t *testing.T) {
	profiles := newFakeProfileStore()
	txs := newFakeTransactionStore()
	txs.totals["Edge Donor"] = decimal.RequireFromString("1000")

	report := newResolver(profiles, txs).SyncFiling(context.Background(), testFiling(),
		[]models.Transaction{contribution("Edge Donor", "", "1000")})

	assert.Equal(t, 0, report.DonorsCreated)
}

func TestSyncFiling_CandidateNeverBecomesDonor(t *testing.T) {
	profiles := newFakeProfileStore()
	profiles.profiles[key("Jane Doe", models.ProfileTypeCandidate)] = &models.Profile{ID: "p1", Name: "Jane Doe", Type: models.ProfileTypeCandidate}
	txs := newFakeTransactionStore()
	txs.totals["Jane Doe"] = decimal.RequireFromString("9000")

	report := newResolver(profiles, txs).SyncFiling(context.Background(), testFiling(),
		[]models.Transaction{contribution("Jane Doe", "", "9000")})

	assert.Equal(t, 0, report.DonorsCreated)
	assert.Nil(t, profiles.profiles[key("Jane Doe", models.ProfileTypeDonor)])
}

func TestSyncFiling_DonorTransactionsLinked(t *testing.T) {
	profiles := newFakeProfileStore()
	txs := newFakeTransactionStore()
	txs.totals["Big Donor LLC"] = decimal.RequireFromString("2000")

	report := newResolver(profiles, txs).SyncFiling(context.Background(), testFiling(),
		[]models.Transaction{contribution("Big Donor LLC", "", "2000")})

	assert.Equal(t, int64(1), report.TransactionsLinked)
	donor := profiles.profiles[key("Big Donor LLC", models.ProfileTypeDonor)]
	require.NotNil(t, donor)
	assert.Equal(t, donor.ID, txs.linked["Big Donor LLC"])
}

func TestSyncFiling_CitiesFromAllFilingRows(t *testing.T) {
	profiles := newFakeProfileStore()
	txs := newFakeTransactionStore()
	txs.cities = []string{"Indio", "Palm Springs"}

	// expenditure-only batch: cities still come from the filing's rows
	batch := []models.Transaction{{
		Type:       models.TransactionTypeExpenditure,
		EntityName: "Print Shop",
		EntityCity: "Indio",
		Amount:     decimal.RequireFromString("50"),
	}}
	report := newResolver(profiles, txs).SyncFiling(context.Background(), testFiling(), batch)

	assert.Equal(t, 2, report.CitiesCreated)
	assert.Equal(t, minCityLength, txs.cityMinLen)
	assert.NotNil(t, profiles.profiles[key("Indio", models.ProfileTypeCity)])
	assert.NotNil(t, profiles.profiles[key("Palm Springs", models.ProfileTypeCity)])
}

func TestSyncFiling_CityListFailureRecorded(t *testing.T) {
	profiles := newFakeProfileStore()
	txs := newFakeTransactionStore()
	txs.cityErr = fmt.Errorf("connection refused")

	report := newResolver(profiles, txs).SyncFiling(context.Background(), testFiling(), nil)

	assert.Equal(t, 0, report.CitiesCreated)
	assert.Greater(t, report.Failures, 0)
}

func TestSyncFiling_NormalizedLookupCatchesCasingDrift(t *testing.T) {
	profiles := newFakeProfileStore()
	profiles.profiles[key("JANE DOE", models.ProfileTypeCandidate)] = &models.Profile{ID: "p1", Name: "JANE DOE", Type: models.ProfileTypeCandidate}

	report := newResolver(profiles, newFakeTransactionStore()).SyncFiling(context.Background(), testFiling(), nil)

	assert.Equal(t, 0, report.CandidatesCreated)
	assert.Empty(t, profiles.created)
}

func TestSyncFiling_FailuresSwallowed(t *testing.T) {
	profiles := newFakeProfileStore()
	profiles.createErr = fmt.Errorf("connection refused")
	txs := newFakeTransactionStore()
	txs.totals["Big Donor LLC"] = decimal.RequireFromString("2000")
	txs.cities = []string{"Indio"}

	report := newResolver(profiles, txs).SyncFiling(context.Background(), testFiling(),
		[]models.Transaction{contribution("Big Donor LLC", "Indio", "2000")})

	assert.Equal(t, 0, report.CandidatesCreated)
	assert.Greater(t, report.Failures, 0)
}

type fakeEmitter struct {
	created []models.Profile
}

func (f *fakeEmitter) ProfileCreated(_ context.Context, profile models.Profile) {
	f.created = append(f.created, profile)
}

func TestSyncFiling_EmitsProfileCreated(t *testing.T) {
	profiles := newFakeProfileStore()
	txs := newFakeTransactionStore()
	txs.totals["Big Donor LLC"] = decimal.RequireFromString("2000")
	txs.cities = []string{"Indio"}

	emitter := &fakeEmitter{}
	resolver := newResolver(profiles, txs)
	resolver.SetEmitter(emitter)

	resolver.SyncFiling(context.Background(), testFiling(),
		[]models.Transaction{contribution("Big Donor LLC", "Indio", "2000")})

	// candidate, city, and donor profiles each announce themselves
	require.Len(t, emitter.created, 3)
	types := map[models.ProfileType]bool{}
	for _, p := range emitter.created {
		types[p.Type] = true
	}
	assert.True(t, types[models.ProfileTypeCandidate])
	assert.True(t, types[models.ProfileTypeCity])
	assert.True(t, types[models.ProfileTypeDonor])
}

func TestSyncFiling_ClassifierSetsCandidateJurisdiction(t *testing.T) {
	profiles := newFakeProfileStore()
	classifier := jurisdiction.NewClassifier([]jurisdiction.Rule{{Token: "indio", Label: "Indio"}})
	resolver := NewResolver(testLogger(), profiles, newFakeTransactionStore(), classifier, decimal.Decimal{})

	filing := &models.Filing{ID: "f1", FilerName: "Smith for Indio Mayor", SourceRef: "2024-S2"}
	resolver.SyncFiling(context.Background(), filing, nil)

	created := profiles.profiles[key("Smith for Indio Mayor", models.ProfileTypeCandidate)]
	require.NotNil(t, created)
	require.NotNil(t, created.Jurisdiction)
	assert.Equal(t, "Indio", *created.Jurisdiction)
}
