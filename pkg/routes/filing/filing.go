// Package filing exposes the upload and import surface. A filing moves
// through two requests: upload registers the document and suggests a
// header mapping, import validates rows against a confirmed mapping and
// writes them atomically.
package filing

import (
	"io"
	"net/http"
	"path"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	filingrepo "github.com/civiclens/clover/internal/repositories/filing"
	txrepo "github.com/civiclens/clover/internal/repositories/transaction"
	"github.com/civiclens/clover/pkg/fingerprint"
	"github.com/civiclens/clover/pkg/importer"
	"github.com/civiclens/clover/pkg/mapping"
	"github.com/civiclens/clover/pkg/models"
	"github.com/civiclens/clover/pkg/objectstore"
	"github.com/civiclens/clover/pkg/spreadsheet"
	"github.com/civiclens/clover/pkg/validation"
)

const maxUploadBytes = 32 << 20

// Register registers filing routes
func Register(g *echo.Group) {
	g.POST("/upload", Upload)
	g.POST("/:id/import", Import)
	g.GET("", List)
	g.GET("/:id", Get)
	g.GET("/:id/transactions", GetTransactions)
}

// UploadResponse pairs the registered filing with the parse results the
// client needs to confirm or correct the mapping before import.
type UploadResponse struct {
	Filing     *models.Filing      `json:"filing"`
	Headers    []string            `json:"headers"`
	RowCount   int                 `json:"row_count"`
	Suggestion *mapping.Suggestion `json:"suggestion"`
}

// Upload registers a disclosure document: archives the raw bytes,
// parses the sheet, and suggests a header mapping. Re-uploads of a
// document already on file are rejected by fingerprint.
func Upload(c echo.Context) error {
	ctx := c.Request().Context()

	filerName := c.FormValue("filer_name")
	if filerName == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "filer_name is required")
	}
	sourceRef := c.FormValue("source_ref")
	if sourceRef == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "source_ref is required")
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	if fileHeader.Size > maxUploadBytes {
		return httperror.NewHTTPError(http.StatusRequestEntityTooLarge, "file exceeds upload limit")
	}

	f, err := fileHeader.Open()
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "failed to open uploaded file")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "failed to read uploaded file")
	}

	ctx, filings, err := ectoinject.GetContext[*filingrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "filing repository not available")
	}

	table, err := spreadsheet.Read(fileHeader.Filename, data)
	if err != nil {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "failed to parse spreadsheet: %v", err)
	}

	// Fingerprint the parsed table, not the raw bytes, so re-exports of
	// the same sheet (CSV vs XLSX, byte-order marks) still collide.
	fp := table.Fingerprint()
	existing, err := filings.GetByFingerprint(ctx, fp)
	if err != nil {
		return err
	}
	if existing != nil {
		return httperror.NewHTTPErrorf(http.StatusConflict, "document already uploaded as filing %s", existing.ID)
	}

	ctx, store, err := ectoinject.GetContext[objectstore.Store](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "object store not available")
	}
	sourceURL, err := store.Put(ctx, objectstore.ObjectName(fileHeader.Filename, fingerprint.FromBytes(data)), data)
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadGateway, "failed to archive uploaded document")
	}

	ctx, mapper, err := ectoinject.GetContext[*mapping.Mapper](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "mapper not available")
	}

	created, err := filings.Create(ctx, models.CreateFilingRequest{
		FilerName:   filerName,
		SourceRef:   sourceRef,
		SourceURL:   sourceURL,
		Fingerprint: fp,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, &UploadResponse{
		Filing:     created,
		Headers:    table.Headers,
		RowCount:   len(table.Rows),
		Suggestion: mapper.Suggest(table.Headers),
	})
}

// ImportRequest confirms the mapping an import should run with. An
// empty mapping re-runs the suggestion against the stored document.
type ImportRequest struct {
	Mapping mapping.Mapping `json:"mapping"`
	TxType  string          `json:"tx_type"`
}

// Import validates the stored document against the confirmed mapping
// and writes the valid rows as one atomic batch.
func Import(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	var req ImportRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	txType := models.TransactionTypeContribution
	if req.TxType != "" {
		txType = models.TransactionType(req.TxType)
		if txType != models.TransactionTypeContribution && txType != models.TransactionTypeExpenditure {
			return httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown tx_type %q", req.TxType)
		}
	}

	ctx, filings, err := ectoinject.GetContext[*filingrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "filing repository not available")
	}

	filing, err := filings.Get(ctx, id)
	if err != nil {
		return err
	}
	if filing.SourceURL == "" {
		return httperror.NewHTTPError(http.StatusUnprocessableEntity, "filing has no archived source document")
	}

	ctx, store, err := ectoinject.GetContext[objectstore.Store](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "object store not available")
	}
	data, err := store.Fetch(ctx, filing.SourceURL)
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadGateway, "failed to fetch archived document")
	}

	table, err := spreadsheet.Read(path.Base(filing.SourceURL), data)
	if err != nil {
		return httperror.NewHTTPErrorf(http.StatusUnprocessableEntity, "failed to parse archived document: %v", err)
	}
	if fingerprint.HasChanged(filing.Fingerprint, table.Fingerprint()) {
		return httperror.NewHTTPError(http.StatusConflict, "archived document no longer matches the registered fingerprint")
	}

	ctx, mapper, err := ectoinject.GetContext[*mapping.Mapper](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "mapper not available")
	}

	m := req.Mapping
	if len(m) == 0 {
		m = mapper.Suggest(table.Headers).Mapping
	} else if err := mapper.Validate(m, table.Headers); err != nil {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid mapping: %v", err)
	}

	ctx, validator, err := ectoinject.GetContext[*validation.Validator](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "validator not available")
	}
	batch := validator.ValidateAll(m, table)

	ctx, imp, err := ectoinject.GetContext[*importer.Importer](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "importer not available")
	}

	result, err := imp.Import(ctx, filing, batch, txType)
	if err != nil {
		return err
	}

	// Audit metadata; the repository logs its own failures.
	_ = filings.SetHeaderMapping(ctx, filing.ID, m)

	return c.JSON(http.StatusOK, result)
}

// List returns filings, optionally filtered by status
func List(c echo.Context) error {
	ctx := c.Request().Context()

	var status *models.FilingStatus
	if s := c.QueryParam("status"); s != "" {
		st := models.FilingStatus(s)
		status = &st
	}
	page, pageSize := pagination(c)

	ctx, filings, err := ectoinject.GetContext[*filingrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "filing repository not available")
	}

	resp, err := filings.List(ctx, status, page, pageSize)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// FilingDetail augments a filing with its imported row count.
type FilingDetail struct {
	*models.Filing
	TransactionCount int `json:"transaction_count"`
}

// Get returns a filing by ID with its transaction count
func Get(c echo.Context) error {
	ctx := c.Request().Context()

	ctx, filings, err := ectoinject.GetContext[*filingrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "filing repository not available")
	}

	filing, err := filings.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	ctx, transactions, err := ectoinject.GetContext[*txrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "transaction repository not available")
	}
	count, err := transactions.CountByFiling(ctx, filing.ID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, &FilingDetail{Filing: filing, TransactionCount: count})
}

// GetTransactions returns the imported transactions of a filing
func GetTransactions(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	ctx, filings, err := ectoinject.GetContext[*filingrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "filing repository not available")
	}
	if _, err := filings.Get(ctx, id); err != nil {
		return err
	}

	ctx, transactions, err := ectoinject.GetContext[*txrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "transaction repository not available")
	}

	txs, err := transactions.ListByFiling(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, txs)
}

func pagination(c echo.Context) (page, pageSize int) {
	page, _ = strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ = strconv.Atoi(c.QueryParam("page_size"))
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}
	return page, pageSize
}
