package jurisdiction

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/civiclens/clover/pkg/models"
	"github.com/civiclens/clover/pkg/tracing"
)

// ProfileStore is the persistence surface the backfill reads and
// updates. BackfillJurisdiction must only fill profiles whose
// jurisdiction is still null.
type ProfileStore interface {
	ListMissingJurisdiction(ctx context.Context, profileType models.ProfileType) ([]models.Profile, error)
	BackfillJurisdiction(ctx context.Context, id, jurisdiction string) (bool, error)
}

// BackfillReport summarizes one backfill pass
type BackfillReport struct {
	Scanned      int `json:"scanned"`
	Filled       int `json:"filled"`
	Unclassified int `json:"unclassified"`
	Failed       int `json:"failed"`
}

// Backfiller classifies candidate profiles created before the rule
// table covered them
type Backfiller struct {
	logger     ectologger.Logger
	profiles   ProfileStore
	classifier *Classifier
}

func NewBackfiller(logger ectologger.Logger, profiles ProfileStore, classifier *Classifier) *Backfiller {
	return &Backfiller{
		logger:     logger,
		profiles:   profiles,
		classifier: classifier,
	}
}

// Run classifies every candidate profile with a null jurisdiction.
// Profiles the classifier cannot place are left untouched so a later
// pass with a richer rule table picks them up. Per-profile failures
// are counted and skipped.
func (b *Backfiller) Run(ctx context.Context) (*BackfillReport, error) {
	ctx, span := tracing.StartSpan(ctx, "jurisdiction.Backfiller.Run")
	defer span.End()

	profiles, err := b.profiles.ListMissingJurisdiction(ctx, models.ProfileTypeCandidate)
	if err != nil {
		return nil, err
	}

	report := &BackfillReport{Scanned: len(profiles)}
	for _, profile := range profiles {
		label, ok := b.classifier.Classify(profile.Name)
		if !ok {
			report.Unclassified++
			continue
		}

		updated, err := b.profiles.BackfillJurisdiction(ctx, profile.ID, label)
		if err != nil {
			report.Failed++
			b.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"profile_id": profile.ID}).Warn("Failed to backfill jurisdiction")
			continue
		}
		if updated {
			report.Filled++
		}
	}

	b.logger.WithContext(ctx).WithFields(map[string]any{
		"scanned":      report.Scanned,
		"filled":       report.Filled,
		"unclassified": report.Unclassified,
		"failed":       report.Failed,
	}).Info("Jurisdiction backfill pass complete")

	return report, nil
}
