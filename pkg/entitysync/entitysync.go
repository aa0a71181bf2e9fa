// Package entitysync derives reference profiles (candidates, cities,
// donors) from imported filings. Sync runs after the import batch has
// committed and is best-effort: the financial record is authoritative,
// so profile failures are logged and counted, never propagated.
package entitysync

import (
	"context"
	"fmt"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/shopspring/decimal"

	"github.com/civiclens/clover/pkg/database"
	"github.com/civiclens/clover/pkg/jurisdiction"
	"github.com/civiclens/clover/pkg/metrics"
	"github.com/civiclens/clover/pkg/models"
	"github.com/civiclens/clover/pkg/tracing"
)

// Cities shorter than this are treated as noise, not jurisdictions.
const minCityLength = 3

// DefaultDonorThreshold is the running-total floor above which a
// contributor gets a DONOR profile.
var DefaultDonorThreshold = decimal.NewFromInt(1000)

// ProfileStore is the profile persistence surface the resolver needs.
// GetByNameAndType is the exact-name fast path; GetByNormalizedName is
// the fallback that catches casing and whitespace drift.
type ProfileStore interface {
	GetByNameAndType(ctx context.Context, name string, profileType models.ProfileType) (*models.Profile, error)
	GetByNormalizedName(ctx context.Context, name string, profileType models.ProfileType) (*models.Profile, error)
	Create(ctx context.Context, req models.CreateProfileRequest) (*models.Profile, error)
}

// TransactionStore supplies contribution totals, the observed city set,
// and maintains the resolved entity link on transaction rows.
type TransactionStore interface {
	SumContributionsByEntities(ctx context.Context, names []string) (map[string]decimal.Decimal, error)
	DistinctEntityCities(ctx context.Context, filingID string, minLength int) ([]string, error)
	SetEntityProfile(ctx context.Context, entityName, profileID string) (int64, error)
}

// Emitter publishes profile lifecycle events.
type Emitter interface {
	ProfileCreated(ctx context.Context, profile models.Profile)
}

// Report summarizes one sync pass. Failures are diagnostics only.
type Report struct {
	CandidatesCreated  int   `json:"candidates_created"`
	CitiesCreated      int   `json:"cities_created"`
	DonorsCreated      int   `json:"donors_created"`
	TransactionsLinked int64 `json:"transactions_linked"`
	Failures           int   `json:"failures"`
}

// Resolver creates and links companion profiles for imported data
type Resolver struct {
	logger         ectologger.Logger
	profiles       ProfileStore
	transactions   TransactionStore
	classifier     *jurisdiction.Classifier
	donorThreshold decimal.Decimal
	emitter        Emitter
}

// SetEmitter enables profile.created events. Optional; the resolver
// works without one.
func (r *Resolver) SetEmitter(emitter Emitter) {
	r.emitter = emitter
}

func NewResolver(logger ectologger.Logger, profiles ProfileStore, transactions TransactionStore, classifier *jurisdiction.Classifier, donorThreshold decimal.Decimal) *Resolver {
	if donorThreshold.IsZero() {
		donorThreshold = DefaultDonorThreshold
	}
	return &Resolver{
		logger:         logger,
		profiles:       profiles,
		transactions:   transactions,
		classifier:     classifier,
		donorThreshold: donorThreshold,
	}
}

// SyncFiling ensures the companion profiles implied by an imported
// filing exist. Running it twice over the same batch creates nothing
// new. It never returns an error: every failure is recorded on the
// report and swallowed.
func (r *Resolver) SyncFiling(ctx context.Context, filing *models.Filing, txs []models.Transaction) *Report {
	ctx, span := tracing.StartSpan(ctx, "entitysync.Resolver.SyncFiling")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"filing_id":  filing.ID,
		"filer_name": filing.FilerName,
		"tx_count":   len(txs),
	})

	report := &Report{}
	r.syncCandidate(ctx, filing, log, report)
	r.syncCities(ctx, filing, log, report)
	r.syncDonors(ctx, txs, log, report)

	log.WithFields(map[string]any{
		"candidates_created": report.CandidatesCreated,
		"cities_created":     report.CitiesCreated,
		"donors_created":     report.DonorsCreated,
		"failures":           report.Failures,
	}).Info("Entity sync finished")
	return report
}

func (r *Resolver) syncCandidate(ctx context.Context, filing *models.Filing, log ectologger.Logger, report *Report) {
	ctx, span := tracing.StartSpan(ctx, "entitysync.Resolver.syncCandidate")
	defer span.End()

	name := strings.TrimSpace(filing.FilerName)
	if name == "" {
		return
	}

	existing, err := r.findProfile(ctx, name, models.ProfileTypeCandidate)
	if err != nil {
		r.recordFailure(log, err, models.ProfileTypeCandidate, report, "Failed to look up candidate profile")
		return
	}
	if existing != nil {
		return
	}

	req := models.CreateProfileRequest{
		Name:        name,
		Type:        models.ProfileTypeCandidate,
		Description: fmt.Sprintf("Auto-created from filing %s", filing.SourceRef),
	}
	if r.classifier != nil {
		if label, ok := r.classifier.Classify(name); ok {
			req.Jurisdiction = &label
		}
	}

	if created := r.createProfile(ctx, req, log, report); created {
		report.CandidatesCreated++
	}
}

// syncCities creates CITY profiles for every sufficiently long
// entity_city on the filing's rows, contributions and expenditures
// alike.
func (r *Resolver) syncCities(ctx context.Context, filing *models.Filing, log ectologger.Logger, report *Report) {
	ctx, span := tracing.StartSpan(ctx, "entitysync.Resolver.syncCities")
	defer span.End()

	cities, err := r.transactions.DistinctEntityCities(ctx, filing.ID, minCityLength)
	if err != nil {
		r.recordFailure(log, err, models.ProfileTypeCity, report, "Failed to list entity cities")
		return
	}

	for _, city := range cities {
		existing, err := r.findProfile(ctx, city, models.ProfileTypeCity)
		if err != nil {
			r.recordFailure(log, err, models.ProfileTypeCity, report, "Failed to look up city profile")
			continue
		}
		if existing != nil {
			continue
		}

		created := r.createProfile(ctx, models.CreateProfileRequest{
			Name:        city,
			Type:        models.ProfileTypeCity,
			Description: "Auto-created from contributor city data",
		}, log, report)
		if created {
			report.CitiesCreated++
		}
	}
}

func (r *Resolver) syncDonors(ctx context.Context, txs []models.Transaction, log ectologger.Logger, report *Report) {
	ctx, span := tracing.StartSpan(ctx, "entitysync.Resolver.syncDonors")
	defer span.End()

	names := distinctContributors(txs)
	if len(names) == 0 {
		return
	}

	// The threshold is evaluated against the global running total, not
	// this batch alone, so installment donors cross it on whichever
	// filing tips them over.
	totals, err := r.transactions.SumContributionsByEntities(ctx, names)
	if err != nil {
		r.recordFailure(log, err, models.ProfileTypeDonor, report, "Failed to compute contribution totals")
		return
	}

	for _, name := range names {
		total, ok := totals[name]
		if !ok || total.LessThanOrEqual(r.donorThreshold) {
			continue
		}

		// A candidate should not also become a donor entity under the
		// same name.
		candidate, err := r.findProfile(ctx, name, models.ProfileTypeCandidate)
		if err != nil {
			r.recordFailure(log, err, models.ProfileTypeDonor, report, "Failed to check candidate collision")
			continue
		}
		if candidate != nil {
			continue
		}

		donor, err := r.findProfile(ctx, name, models.ProfileTypeDonor)
		if err != nil {
			r.recordFailure(log, err, models.ProfileTypeDonor, report, "Failed to look up donor profile")
			continue
		}
		if donor == nil {
			if created := r.createProfile(ctx, models.CreateProfileRequest{
				Name:        name,
				Type:        models.ProfileTypeDonor,
				Description: fmt.Sprintf("Major donor (total over %s)", r.donorThreshold.StringFixed(2)),
			}, log, report); !created {
				continue
			}
			report.DonorsCreated++
			donor, err = r.profiles.GetByNameAndType(ctx, name, models.ProfileTypeDonor)
			if err != nil || donor == nil {
				continue
			}
		}

		linked, err := r.transactions.SetEntityProfile(ctx, name, donor.ID)
		if err != nil {
			r.recordFailure(log, err, models.ProfileTypeDonor, report, "Failed to link transactions to donor profile")
			continue
		}
		report.TransactionsLinked += linked
	}
}

// createProfile inserts a profile, treating a unique violation as the
// benign outcome of losing a race to a concurrent sync.
func (r *Resolver) createProfile(ctx context.Context, req models.CreateProfileRequest, log ectologger.Logger, report *Report) bool {
	profile, err := r.profiles.Create(ctx, req)
	if err != nil {
		if database.IsUniqueViolation(err) {
			log.WithFields(map[string]any{"name": req.Name, "profile_type": req.Type}).Debug("Profile already created by a concurrent sync")
			return false
		}
		r.recordFailure(log, err, req.Type, report, "Failed to create profile")
		return false
	}

	metrics.ProfilesCreatedTotal.WithLabelValues(string(req.Type)).Inc()
	if r.emitter != nil && profile != nil {
		r.emitter.ProfileCreated(ctx, *profile)
	}
	return true
}

// findProfile checks the exact name first, then falls back to the
// normalized form to catch casing and whitespace drift.
func (r *Resolver) findProfile(ctx context.Context, name string, profileType models.ProfileType) (*models.Profile, error) {
	profile, err := r.profiles.GetByNameAndType(ctx, name, profileType)
	if err != nil || profile != nil {
		return profile, err
	}
	return r.profiles.GetByNormalizedName(ctx, name, profileType)
}

func (r *Resolver) recordFailure(log ectologger.Logger, err error, profileType models.ProfileType, report *Report, msg string) {
	report.Failures++
	metrics.EntitySyncFailuresTotal.WithLabelValues(string(profileType)).Inc()
	log.WithError(err).WithFields(map[string]any{"profile_type": profileType}).Warn(msg)
}

func distinctContributors(txs []models.Transaction) []string {
	seen := make(map[string]bool)
	var names []string
	for _, tx := range txs {
		if tx.Type != models.TransactionTypeContribution {
			continue
		}
		name := strings.TrimSpace(tx.EntityName)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}
