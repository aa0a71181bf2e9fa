// Package profile exposes read and manual-create routes for derived
// reference entities.
package profile

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	profilerepo "github.com/civiclens/clover/internal/repositories/profile"
	txrepo "github.com/civiclens/clover/internal/repositories/transaction"
	"github.com/civiclens/clover/pkg/database"
	"github.com/civiclens/clover/pkg/models"
)

// Register registers profile routes
func Register(g *echo.Group) {
	g.GET("", List)
	g.GET("/:id", Get)
	g.POST("", Create)
}

// List returns profiles, optionally filtered by type
func List(c echo.Context) error {
	ctx := c.Request().Context()

	var profileType *models.ProfileType
	if t := c.QueryParam("type"); t != "" {
		pt := models.ProfileType(t)
		profileType = &pt
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	ctx, profiles, err := ectoinject.GetContext[*profilerepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "profile repository not available")
	}

	resp, err := profiles.List(ctx, profileType, page, pageSize)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// ProfileDetail adds the linked-transaction count to a profile
type ProfileDetail struct {
	models.Profile
	TransactionCount int `json:"transaction_count"`
}

// Get returns a profile by ID
func Get(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, profiles, err := ectoinject.GetContext[*profilerepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "profile repository not available")
	}

	profile, err := profiles.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	detail := &ProfileDetail{Profile: *profile}
	if ctx, transactions, err := ectoinject.GetContext[*txrepo.Repository](ctx); err == nil {
		if count, err := transactions.CountByEntityProfile(ctx, profile.ID); err == nil {
			detail.TransactionCount = count
		}
	}

	return c.JSON(http.StatusOK, detail)
}

// Create registers a profile by hand, ahead of any filing that would
// auto-create it
func Create(c echo.Context) error {
	ctx := c.Request().Context()

	var req models.CreateProfileRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	ctx, profiles, err := ectoinject.GetContext[*profilerepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "profile repository not available")
	}

	created, err := profiles.Create(ctx, req)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return httperror.NewHTTPErrorf(http.StatusConflict, "profile %q (%s) already exists", req.Name, req.Type)
		}
		return err
	}
	return c.JSON(http.StatusCreated, created)
}
