package profile

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/civiclens/clover/pkg/database"
	"github.com/civiclens/clover/pkg/models"
	"github.com/civiclens/clover/pkg/tracing"
)

var profileStruct = database.NewStruct(new(models.Profile))

// Repository handles profile persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new profile. Duplicate (name, type) inserts are allowed
// until the uniqueness index exists; callers that race should check
// database.IsUniqueViolation and treat it as already-created.
func (r *Repository) Create(ctx context.Context, req models.CreateProfileRequest) (*models.Profile, error) {
	ctx, span := tracing.StartSpan(ctx, "profile.Repository.Create")
	defer span.End()

	now := time.Now().UTC()
	profile := models.Profile{
		ID:           uuid.New().String(),
		Name:         req.Name,
		Type:         req.Type,
		Jurisdiction: req.Jurisdiction,
		Description:  req.Description,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto("profiles")
	ib.Cols("id", "name", "profile_type", "jurisdiction", "description", "created_at", "updated_at")
	ib.Values(profile.ID, profile.Name, profile.Type, profile.Jurisdiction, profile.Description, profile.CreatedAt, profile.UpdatedAt)

	query, args := ib.Build()
	if _, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, err
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"name": req.Name, "profile_type": req.Type}).Error("Failed to create profile")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create profile")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": profile.ID, "profile_type": profile.Type}).Info("Created profile")
	return &profile, nil
}

// Get retrieves a profile by ID
func (r *Repository) Get(ctx context.Context, id string) (*models.Profile, error) {
	ctx, span := tracing.StartSpan(ctx, "profile.Repository.Get")
	defer span.End()

	sb := profileStruct.SelectFrom("profiles")
	sb.Where(
		sb.Equal("id", id),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	var profile models.Profile
	if err := database.FromContext(ctx, r.db).GetContext(ctx, &profile, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "profile %s not found", id)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to get profile")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get profile")
	}

	return &profile, nil
}

// GetByNameAndType retrieves a profile by exact name and type. This is the
// fast path used by the entity resolver; returns nil when absent.
func (r *Repository) GetByNameAndType(ctx context.Context, name string, profileType models.ProfileType) (*models.Profile, error) {
	ctx, span := tracing.StartSpan(ctx, "profile.Repository.GetByNameAndType")
	defer span.End()

	sb := profileStruct.SelectFrom("profiles")
	sb.Where(
		sb.Equal("name", name),
		sb.Equal("profile_type", profileType),
		sb.IsNull("deleted_at"),
	)
	sb.OrderBy("created_at ASC")
	sb.Limit(1)

	query, args := sb.Build()
	var profile models.Profile
	if err := database.FromContext(ctx, r.db).GetContext(ctx, &profile, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"name": name, "profile_type": profileType}).Error("Failed to get profile by name and type")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get profile")
	}

	return &profile, nil
}

// GetByNormalizedName retrieves a profile matching the name after lowering
// and trimming on both sides. Slower than GetByNameAndType; the entity
// sync falls back to it to catch casing and whitespace drift.
func (r *Repository) GetByNormalizedName(ctx context.Context, name string, profileType models.ProfileType) (*models.Profile, error) {
	ctx, span := tracing.StartSpan(ctx, "profile.Repository.GetByNormalizedName")
	defer span.End()

	query := `
		SELECT id, name, profile_type, jurisdiction, description, created_at, updated_at, deleted_at
		FROM profiles
		WHERE lower(trim(name)) = lower(trim($1))
		  AND profile_type = $2
		  AND deleted_at IS NULL
		ORDER BY created_at ASC
		LIMIT 1
	`

	var profile models.Profile
	if err := database.FromContext(ctx, r.db).GetContext(ctx, &profile, query, name, profileType); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"name": name, "profile_type": profileType}).Error("Failed to get profile by normalized name")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get profile")
	}

	return &profile, nil
}

// List retrieves profiles with optional type filtering and pagination
func (r *Repository) List(ctx context.Context, profileType *models.ProfileType, page, pageSize int) (*models.ProfileListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "profile.Repository.List")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	countSb := database.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From("profiles")
	countWhere := []string{countSb.IsNull("deleted_at")}
	if profileType != nil {
		countWhere = append(countWhere, countSb.Equal("profile_type", *profileType))
	}
	countSb.Where(countWhere...)

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := database.FromContext(ctx, r.db).GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"profile_type": profileType}).Error("Failed to count profiles")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count profiles")
	}

	sb := profileStruct.SelectFrom("profiles")
	where := []string{sb.IsNull("deleted_at")}
	if profileType != nil {
		where = append(where, sb.Equal("profile_type", *profileType))
	}
	sb.Where(where...)
	sb.OrderBy("name ASC")
	sb.Limit(pageSize).Offset(offset)

	query, args := sb.Build()
	var profiles []models.Profile
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &profiles, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"profile_type": profileType, "page": page, "page_size": pageSize}).Error("Failed to list profiles")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list profiles")
	}

	return &models.ProfileListResponse{
		Items:      profiles,
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// ListAll retrieves every active profile ordered by creation time. Used by
// the merge engine, which groups the whole corpus in memory.
func (r *Repository) ListAll(ctx context.Context) ([]models.Profile, error) {
	ctx, span := tracing.StartSpan(ctx, "profile.Repository.ListAll")
	defer span.End()

	sb := profileStruct.SelectFrom("profiles")
	sb.Where(sb.IsNull("deleted_at"))
	sb.OrderBy("created_at ASC", "id ASC")

	query, args := sb.Build()
	var profiles []models.Profile
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &profiles, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list all profiles")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list profiles")
	}

	return profiles, nil
}

// ListMissingJurisdiction retrieves profiles of a type whose jurisdiction
// is still null, for the classifier backfill pass.
func (r *Repository) ListMissingJurisdiction(ctx context.Context, profileType models.ProfileType) ([]models.Profile, error) {
	ctx, span := tracing.StartSpan(ctx, "profile.Repository.ListMissingJurisdiction")
	defer span.End()

	sb := profileStruct.SelectFrom("profiles")
	sb.Where(
		sb.Equal("profile_type", profileType),
		sb.IsNull("jurisdiction"),
		sb.IsNull("deleted_at"),
	)
	sb.OrderBy("created_at ASC")

	query, args := sb.Build()
	var profiles []models.Profile
	if err := database.FromContext(ctx, r.db).SelectContext(ctx, &profiles, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"profile_type": profileType}).Error("Failed to list profiles missing jurisdiction")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list profiles")
	}

	return profiles, nil
}

// BackfillJurisdiction sets a profile's jurisdiction only when it is still
// null. A hand-entered jurisdiction is never overwritten; returns false when
// the row already had one.
func (r *Repository) BackfillJurisdiction(ctx context.Context, id, jurisdiction string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "profile.Repository.BackfillJurisdiction")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update("profiles")
	ub.Set(ub.Assign("jurisdiction", jurisdiction), ub.Assign("updated_at", time.Now().UTC()))
	ub.Where(
		ub.Equal("id", id),
		ub.IsNull("jurisdiction"),
		ub.IsNull("deleted_at"),
	)

	query, args := ub.Build()
	result, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id, "jurisdiction": jurisdiction}).Error("Failed to backfill jurisdiction")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update profile")
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// Delete hard-deletes a profile. Only the merge engine calls this, and only
// after every transaction pointing at the profile has been relinked.
func (r *Repository) Delete(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "profile.Repository.Delete")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom("profiles")
	db.Where(db.Equal("id", id))

	query, args := db.Build()
	result, err := database.FromContext(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to delete profile")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete profile")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "profile %s not found", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": id}).Info("Deleted profile")
	return nil
}

// CountDuplicateGroups returns how many (normalized name, type) groups still
// hold more than one active profile.
func (r *Repository) CountDuplicateGroups(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "profile.Repository.CountDuplicateGroups")
	defer span.End()

	query := `
		SELECT COUNT(*)
		FROM (
			SELECT 1
			FROM profiles
			WHERE deleted_at IS NULL
			GROUP BY lower(trim(name)), profile_type
			HAVING COUNT(*) > 1
		) dupes
	`

	var count int
	if err := database.FromContext(ctx, r.db).GetContext(ctx, &count, query); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count duplicate profile groups")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count duplicate groups")
	}

	return count, nil
}

// EnsureUniqueNameTypeIndex creates the uniqueness index on the normalized
// name and type, the same expression CountDuplicateGroups groups by; a raw
// (name, profile_type) index would let casing variants back in. Callers must
// verify CountDuplicateGroups returns zero first; creating the index over a
// corpus with duplicates fails outright.
func (r *Repository) EnsureUniqueNameTypeIndex(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "profile.Repository.EnsureUniqueNameTypeIndex")
	defer span.End()

	query := `CREATE UNIQUE INDEX IF NOT EXISTS idx_profiles_name_type_unique ON profiles (lower(trim(name)), profile_type) WHERE deleted_at IS NULL`
	if _, err := database.FromContext(ctx, r.db).ExecContext(ctx, query); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create unique profile index")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create unique index")
	}

	r.logger.WithContext(ctx).Info("Ensured unique normalized (name, profile_type) index")
	return nil
}
