// Package events emits lifecycle events for filings and profiles.
// Emission is best-effort: the database is the source of truth, so a
// failed publish is logged and dropped, never surfaced to the caller.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/civiclens/clover/pkg/kafka"
	"github.com/civiclens/clover/pkg/models"
	"github.com/civiclens/clover/pkg/tracing"
)

// Event types published to the filings topic.
const (
	EventFilingImported   = "filing.imported"
	EventFilingReconciled = "filing.reconciled"
	EventProfileCreated   = "profile.created"
	EventProfileMerged    = "profile.merged"
)

// Emitter publishes lifecycle events
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

type filingImportedPayload struct {
	FilingID  string `json:"filing_id"`
	FilerName string `json:"filer_name"`
	TxCount   int    `json:"tx_count"`
}

// FilingImported announces a committed import batch
func (e *Emitter) FilingImported(ctx context.Context, filing *models.Filing, txCount int) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.FilingImported")
	defer span.End()

	e.publish(ctx, EventFilingImported, filing.ID, filingImportedPayload{
		FilingID:  filing.ID,
		FilerName: filing.FilerName,
		TxCount:   txCount,
	})
}

type filingReconciledPayload struct {
	FilingID           string `json:"filing_id"`
	TotalContributions string `json:"total_contributions"`
	TotalExpenditures  string `json:"total_expenditures"`
}

// FilingReconciled announces rewritten filing totals
func (e *Emitter) FilingReconciled(ctx context.Context, filing *models.Filing) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.FilingReconciled")
	defer span.End()

	payload := filingReconciledPayload{FilingID: filing.ID}
	if filing.TotalContributions.Valid {
		payload.TotalContributions = filing.TotalContributions.Decimal.StringFixed(2)
	}
	if filing.TotalExpenditures.Valid {
		payload.TotalExpenditures = filing.TotalExpenditures.Decimal.StringFixed(2)
	}
	e.publish(ctx, EventFilingReconciled, filing.ID, payload)
}

type profileCreatedPayload struct {
	ProfileID    string  `json:"profile_id"`
	Name         string  `json:"name"`
	ProfileType  string  `json:"profile_type"`
	Jurisdiction *string `json:"jurisdiction,omitempty"`
}

// ProfileCreated announces an auto-derived or operator-created profile
func (e *Emitter) ProfileCreated(ctx context.Context, profile models.Profile) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.ProfileCreated")
	defer span.End()

	e.publish(ctx, EventProfileCreated, profile.ID, profileCreatedPayload{
		ProfileID:    profile.ID,
		Name:         profile.Name,
		ProfileType:  string(profile.Type),
		Jurisdiction: profile.Jurisdiction,
	})
}

type profileMergedPayload struct {
	SurvivorID   string   `json:"survivor_id"`
	SurvivorName string   `json:"survivor_name"`
	ProfileType  string   `json:"profile_type"`
	LoserIDs     []string `json:"loser_ids"`
}

// ProfileMerged announces a completed duplicate-profile merge
func (e *Emitter) ProfileMerged(ctx context.Context, survivor models.Profile, loserIDs []string) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.ProfileMerged")
	defer span.End()

	e.publish(ctx, EventProfileMerged, survivor.ID, profileMergedPayload{
		SurvivorID:   survivor.ID,
		SurvivorName: survivor.Name,
		ProfileType:  string(survivor.Type),
		LoserIDs:     loserIDs,
	})
}

func (e *Emitter) publish(ctx context.Context, eventType, key string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"event_type": eventType}).Error("Failed to marshal event payload")
		return
	}

	event := &kafka.Event{
		EventType: eventType,
		Key:       key,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
	if err := e.producer.Publish(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"event_type": eventType, "key": key}).Warn("Dropped event after publish failure")
	}
}
