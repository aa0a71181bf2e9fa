// Package dedupe finds and merges duplicate profiles and filings.
// This is the only part of the system that deletes rows, so every
// group moves through an explicit state machine (IDENTIFIED then
// RELINKED then PURGED) inside its own transaction: a crash mid-merge
// leaves groups either untouched or fully merged, never half-relinked.
package dedupe

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/civiclens/clover/pkg/database"
	"github.com/civiclens/clover/pkg/metrics"
	"github.com/civiclens/clover/pkg/models"
	"github.com/civiclens/clover/pkg/normalizers"
	"github.com/civiclens/clover/pkg/redis"
	"github.com/civiclens/clover/pkg/tracing"
)

// GroupState tracks a duplicate group through the merge.
type GroupState string

const (
	// GroupStateIdentified means the group is grouped but untouched.
	GroupStateIdentified GroupState = "IDENTIFIED"
	// GroupStateRelinked means every dependent row now points at the
	// survivor; the losers are still present.
	GroupStateRelinked GroupState = "RELINKED"
	// GroupStatePurged means the losers are deleted.
	GroupStatePurged GroupState = "PURGED"
)

// FilingMergePolicy decides what happens to a losing filing's
// transactions. One policy per run; the two are never mixed.
type FilingMergePolicy string

const (
	// FilingMergeReassign moves the loser's transactions to the survivor.
	FilingMergeReassign FilingMergePolicy = "REASSIGN"
	// FilingMergeDelete drops the loser's transactions outright, for
	// exact re-uploads where the survivor already holds the same rows.
	FilingMergeDelete FilingMergePolicy = "DELETE"
)

const (
	profileMergeLockKey = "dedupe:profiles"
	filingMergeLockKey  = "dedupe:filings"
	mergeLockTTL        = 10 * time.Minute
)

// ProfileStore is the profile surface the engine operates on.
type ProfileStore interface {
	ListAll(ctx context.Context) ([]models.Profile, error)
	Delete(ctx context.Context, id string) error
	CountDuplicateGroups(ctx context.Context) (int, error)
	EnsureUniqueNameTypeIndex(ctx context.Context) error
}

// FilingStore is the filing surface the engine operates on.
type FilingStore interface {
	ListAll(ctx context.Context) ([]models.Filing, error)
	Delete(ctx context.Context, id string) error
}

// TransactionStore relinks and removes dependent financial rows.
type TransactionStore interface {
	RelinkEntityProfile(ctx context.Context, fromProfileID, toProfileID string) (int64, error)
	CountByEntityProfile(ctx context.Context, profileID string) (int, error)
	ReassignFiling(ctx context.Context, fromFilingID, toFilingID string) (int64, error)
	DeleteByFiling(ctx context.Context, filingID string) (int64, error)
}

// TxBeginner opens the per-group unit of work. Satisfied by
// database.DB.
type TxBeginner interface {
	GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, database.Tx, error)
}

// Emitter publishes merge events; optional and best-effort.
type Emitter interface {
	ProfileMerged(ctx context.Context, survivor models.Profile, loserIDs []string)
}

// Report summarizes one merge pass. A failed group is logged and
// skipped, never fatal; callers inspect the counts.
type Report struct {
	GroupsProcessed      int      `json:"groups_processed"`
	GroupsFailed         int      `json:"groups_failed"`
	ProfilesDeleted      int      `json:"profiles_deleted"`
	FilingsDeleted       int      `json:"filings_deleted"`
	TransactionsRelinked int64    `json:"transactions_relinked"`
	AffectedFilings      []string `json:"affected_filings,omitempty"`
}

// Engine merges duplicate profiles and filings
type Engine struct {
	logger       ectologger.Logger
	db           TxBeginner
	profiles     ProfileStore
	filings      FilingStore
	transactions TransactionStore
	locker       *redis.Locker
	emitter      Emitter
}

// NewEngine creates a merge engine. locker may be nil; when present it
// serializes merge passes across processes, since two concurrent
// merges of overlapping groups could relink the same rows. emitter may
// be nil.
func NewEngine(logger ectologger.Logger, db TxBeginner, profiles ProfileStore, filings FilingStore, transactions TransactionStore, locker *redis.Locker, emitter Emitter) *Engine {
	return &Engine{
		logger:       logger,
		db:           db,
		profiles:     profiles,
		filings:      filings,
		transactions: transactions,
		locker:       locker,
		emitter:      emitter,
	}
}

type profileGroup struct {
	key      string
	survivor models.Profile
	losers   []models.Profile
	state    GroupState
}

// MergeProfiles merges every duplicate (normalized name, type) profile
// group. The survivor is the earliest-created member; each loser's
// transactions are relinked to the survivor before the loser is
// deleted, inside one transaction per group.
func (e *Engine) MergeProfiles(ctx context.Context) (*Report, error) {
	ctx, span := tracing.StartSpan(ctx, "dedupe.Engine.MergeProfiles")
	defer span.End()

	release, err := e.acquireLock(ctx, profileMergeLockKey)
	if err != nil {
		return nil, err
	}
	defer release()

	profiles, err := e.profiles.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	for _, group := range groupProfiles(profiles) {
		if err := e.mergeProfileGroup(ctx, group); err != nil {
			report.GroupsFailed++
			metrics.MergeGroupsTotal.WithLabelValues("profile", "failed").Inc()
			e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"group":    group.key,
				"survivor": group.survivor.ID,
				"state":    group.state,
			}).Error("Failed to merge profile group, continuing with remaining groups")
			continue
		}

		report.GroupsProcessed++
		report.ProfilesDeleted += len(group.losers)
		metrics.MergeGroupsTotal.WithLabelValues("profile", "merged").Inc()

		if e.emitter != nil {
			loserIDs := make([]string, 0, len(group.losers))
			for _, l := range group.losers {
				loserIDs = append(loserIDs, l.ID)
			}
			e.emitter.ProfileMerged(ctx, group.survivor, loserIDs)
		}
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"processed": report.GroupsProcessed,
		"failed":    report.GroupsFailed,
		"deleted":   report.ProfilesDeleted,
	}).Info("Profile merge pass finished")
	return report, nil
}

func (e *Engine) mergeProfileGroup(ctx context.Context, group *profileGroup) error {
	ctx, span := tracing.StartSpan(ctx, "dedupe.Engine.mergeProfileGroup")
	defer span.End()

	ctx, tx, err := e.db.GetTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Relink before delete. Deleting first would orphan financial
	// history the moment the loser row vanishes.
	for _, loser := range group.losers {
		if _, err := e.transactions.RelinkEntityProfile(ctx, loser.ID, group.survivor.ID); err != nil {
			return err
		}
	}
	group.state = GroupStateRelinked

	for _, loser := range group.losers {
		remaining, err := e.transactions.CountByEntityProfile(ctx, loser.ID)
		if err != nil {
			return err
		}
		if remaining > 0 {
			return fmt.Errorf("profile %s still has %d linked transactions after relink", loser.ID, remaining)
		}
		if err := e.profiles.Delete(ctx, loser.ID); err != nil {
			return err
		}
	}
	group.state = GroupStatePurged

	return tx.Commit(ctx)
}

// MergeFilings merges filings sharing (filer_name, source_ref) under
// one policy for the whole run. It returns the surviving filing IDs
// that were touched; their stored totals are wrong by construction
// until the reconciler re-runs over them.
func (e *Engine) MergeFilings(ctx context.Context, policy FilingMergePolicy) (*Report, error) {
	ctx, span := tracing.StartSpan(ctx, "dedupe.Engine.MergeFilings")
	defer span.End()

	if policy != FilingMergeReassign && policy != FilingMergeDelete {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown filing merge policy %q", policy)
	}

	release, err := e.acquireLock(ctx, filingMergeLockKey)
	if err != nil {
		return nil, err
	}
	defer release()

	filings, err := e.filings.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	for _, group := range groupFilings(filings) {
		moved, err := e.mergeFilingGroup(ctx, group, policy)
		if err != nil {
			report.GroupsFailed++
			metrics.MergeGroupsTotal.WithLabelValues("filing", "failed").Inc()
			e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"group":    group.key,
				"survivor": group.survivor.ID,
				"state":    group.state,
				"policy":   policy,
			}).Error("Failed to merge filing group, continuing with remaining groups")
			continue
		}

		report.GroupsProcessed++
		report.FilingsDeleted += len(group.losers)
		report.TransactionsRelinked += moved
		report.AffectedFilings = append(report.AffectedFilings, group.survivor.ID)
		metrics.MergeGroupsTotal.WithLabelValues("filing", "merged").Inc()
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"processed": report.GroupsProcessed,
		"failed":    report.GroupsFailed,
		"deleted":   report.FilingsDeleted,
		"policy":    policy,
	}).Info("Filing merge pass finished")
	return report, nil
}

type filingGroup struct {
	key      string
	survivor models.Filing
	losers   []models.Filing
	state    GroupState
}

func (e *Engine) mergeFilingGroup(ctx context.Context, group *filingGroup, policy FilingMergePolicy) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "dedupe.Engine.mergeFilingGroup")
	defer span.End()

	ctx, tx, err := e.db.GetTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var moved int64
	for _, loser := range group.losers {
		switch policy {
		case FilingMergeReassign:
			n, err := e.transactions.ReassignFiling(ctx, loser.ID, group.survivor.ID)
			if err != nil {
				return 0, err
			}
			moved += n
		case FilingMergeDelete:
			if _, err := e.transactions.DeleteByFiling(ctx, loser.ID); err != nil {
				return 0, err
			}
		}
	}
	group.state = GroupStateRelinked

	for _, loser := range group.losers {
		if err := e.filings.Delete(ctx, loser.ID); err != nil {
			return 0, err
		}
	}
	group.state = GroupStatePurged

	return moved, tx.Commit(ctx)
}

// EnsureUniqueConstraint applies the (name, type) uniqueness index once
// the corpus is duplicate-free. With duplicates still present it is a
// no-op and reports false.
func (e *Engine) EnsureUniqueConstraint(ctx context.Context) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "dedupe.Engine.EnsureUniqueConstraint")
	defer span.End()

	remaining, err := e.profiles.CountDuplicateGroups(ctx)
	if err != nil {
		return false, err
	}
	if remaining > 0 {
		e.logger.WithContext(ctx).WithFields(map[string]any{"duplicate_groups": remaining}).Warn("Refusing to apply uniqueness constraint over a corpus with duplicates")
		return false, nil
	}

	if err := e.profiles.EnsureUniqueNameTypeIndex(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) acquireLock(ctx context.Context, key string) (func(), error) {
	if e.locker == nil {
		return func() {}, nil
	}

	lock, err := e.locker.Acquire(ctx, key, mergeLockTTL)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"key": key}).Warn("Failed to release merge lock")
		}
	}, nil
}

// groupProfiles buckets profiles by normalized name and type. The
// input is ordered by creation time, so the first member of each
// bucket is the survivor.
func groupProfiles(profiles []models.Profile) []*profileGroup {
	buckets := make(map[string]*profileGroup)
	var order []string
	for _, p := range profiles {
		k := normalizers.NormalizeName(p.Name) + "|" + string(p.Type)
		g, ok := buckets[k]
		if !ok {
			buckets[k] = &profileGroup{key: k, survivor: p, state: GroupStateIdentified}
			order = append(order, k)
			continue
		}
		g.losers = append(g.losers, p)
	}

	var groups []*profileGroup
	for _, k := range order {
		if g := buckets[k]; len(g.losers) > 0 {
			groups = append(groups, g)
		}
	}
	return groups
}

func groupFilings(filings []models.Filing) []*filingGroup {
	buckets := make(map[string]*filingGroup)
	var order []string
	for _, f := range filings {
		k := f.FilerName + "|" + f.SourceRef
		g, ok := buckets[k]
		if !ok {
			buckets[k] = &filingGroup{key: k, survivor: f, state: GroupStateIdentified}
			order = append(order, k)
			continue
		}
		g.losers = append(g.losers, f)
	}

	var groups []*filingGroup
	for _, k := range order {
		if g := buckets[k]; len(g.losers) > 0 {
			groups = append(groups, g)
		}
	}
	return groups
}
