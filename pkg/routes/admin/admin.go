// Package admin exposes the maintenance passes: duplicate merges,
// total reconciliation, and jurisdiction backfill. These routes run the
// pass synchronously and return its report.
package admin

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/civiclens/clover/pkg/dedupe"
	"github.com/civiclens/clover/pkg/jurisdiction"
	"github.com/civiclens/clover/pkg/reconcile"
)

// Register registers admin routes
func Register(g *echo.Group) {
	g.POST("/merge/profiles", MergeProfiles)
	g.POST("/merge/filings", MergeFilings)
	g.POST("/merge/constraint", EnsureUniqueConstraint)
	g.POST("/reconcile", ReconcileAll)
	g.POST("/reconcile/:id", ReconcileFiling)
	g.POST("/jurisdictions/backfill", BackfillJurisdictions)
}

// MergeProfiles collapses duplicate profile groups into their earliest member
func MergeProfiles(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, engine, err := ectoinject.GetContext[*dedupe.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "merge engine not available")
	}

	report, err := engine.MergeProfiles(ctx)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

// MergeFilingsRequest selects how transactions of duplicate filings are
// handled: REASSIGN moves them to the surviving filing, DELETE drops them.
type MergeFilingsRequest struct {
	Policy string `json:"policy"`
}

// MergeFilings collapses filings sharing a filer and source reference,
// then re-reconciles the filings the merge touched.
func MergeFilings(c echo.Context) error {
	ctx := c.Request().Context()

	var req MergeFilingsRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Policy == "" {
		req.Policy = string(dedupe.FilingMergeReassign)
	}

	ctx, engine, err := ectoinject.GetContext[*dedupe.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "merge engine not available")
	}

	report, err := engine.MergeFilings(ctx, dedupe.FilingMergePolicy(req.Policy))
	if err != nil {
		return err
	}

	// Survivor totals are stale after a merge until the reconciler rewrites them.
	if ctx, reconciler, rerr := ectoinject.GetContext[*reconcile.Reconciler](ctx); rerr == nil {
		for _, filingID := range report.AffectedFilings {
			if _, err := reconciler.ReconcileFiling(ctx, filingID); err != nil {
				return err
			}
		}
	}

	return c.JSON(http.StatusOK, report)
}

// EnsureUniqueConstraint installs the profile name/type unique index
// once no duplicate groups remain
func EnsureUniqueConstraint(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, engine, err := ectoinject.GetContext[*dedupe.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "merge engine not available")
	}

	installed, err := engine.EnsureUniqueConstraint(ctx)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"installed": installed})
}

// ReconcileAll recomputes stored totals for every filing
func ReconcileAll(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, reconciler, err := ectoinject.GetContext[*reconcile.Reconciler](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "reconciler not available")
	}

	report, err := reconciler.ReconcileAll(ctx)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

// ReconcileFiling recomputes stored totals for one filing
func ReconcileFiling(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, reconciler, err := ectoinject.GetContext[*reconcile.Reconciler](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "reconciler not available")
	}

	outcome, err := reconciler.ReconcileFiling(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"outcome": string(outcome)})
}

// BackfillJurisdictions classifies candidate profiles that still have
// no jurisdiction
func BackfillJurisdictions(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, backfiller, err := ectoinject.GetContext[*jurisdiction.Backfiller](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "backfiller not available")
	}

	report, err := backfiller.Run(ctx)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}
