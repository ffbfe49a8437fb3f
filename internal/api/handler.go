// Package api exposes the report engine over HTTP: report definitions,
// asynchronous runs with progress polling, stored rows and file exports.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hispls/dreams-reports/internal/export"
	"github.com/hispls/dreams-reports/internal/report"
	"github.com/hispls/dreams-reports/internal/reportstore"
	"github.com/hispls/dreams-reports/pkg/pagination"
)

// Runner triggers report generation.
type Runner interface {
	Reports() []*report.ReportConfig
	Report(id string) (*report.ReportConfig, bool)
	StartRun(ctx context.Context, reportID string, dims report.Dimensions) (*reportstore.Run, error)
}

// RunReader reads persisted run state and rows.
type RunReader interface {
	GetRun(ctx context.Context, id uuid.UUID) (*reportstore.Run, error)
	ListRuns(ctx context.Context, reportID string, limit, offset int) ([]*reportstore.Run, int, error)
	RowsByRun(ctx context.Context, runID uuid.UUID, limit, offset int) ([]report.ReportRow, int, error)
	AllRowsByRun(ctx context.Context, runID uuid.UUID) ([]report.ReportRow, error)
	FailedPagesByRun(ctx context.Context, runID uuid.UUID) ([]reportstore.FailedPage, error)
}

type Handler struct {
	runner Runner
	store  RunReader
}

func NewHandler(runner Runner, store RunReader) *Handler {
	return &Handler{runner: runner, store: store}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/reports", h.ListReports)
	api.GET("/reports/:id", h.GetReport)
	api.POST("/reports/:id/runs", h.StartRun)
	api.GET("/runs", h.ListRuns)
	api.GET("/runs/:id", h.GetRun)
	api.GET("/runs/:id/rows", h.GetRunRows)
	api.GET("/runs/:id/export", h.ExportRun)
}

// reportSummary is the listing shape of a report definition.
type reportSummary struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Programs []string `json:"programs"`
}

func (h *Handler) ListReports(c echo.Context) error {
	reports := h.runner.Reports()
	out := make([]reportSummary, 0, len(reports))
	for _, cfg := range reports {
		out = append(out, reportSummary{ID: cfg.ID, Name: cfg.Name, Programs: cfg.Programs})
	}
	return c.JSON(http.StatusOK, out)
}

// reportDetail adds the output columns to the summary.
type reportDetail struct {
	reportSummary
	Columns                         []report.Column `json:"columns"`
	DisableOrgUnitSelection         bool            `json:"disableOrgUnitSelection"`
	DisablePeriodSelection          bool            `json:"disablePeriodSelection"`
	IncludeEnrollmentWithoutService bool            `json:"includeEnrollmentWithoutService"`
	EndDateSelection                bool            `json:"endDateSelection"`
}

func (h *Handler) GetReport(c echo.Context) error {
	cfg, ok := h.runner.Report(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "report not found")
	}
	return c.JSON(http.StatusOK, reportDetail{
		reportSummary:                   reportSummary{ID: cfg.ID, Name: cfg.Name, Programs: cfg.Programs},
		Columns:                         cfg.Columns(),
		DisableOrgUnitSelection:         cfg.DisableOrgUnitSelection,
		DisablePeriodSelection:          cfg.DisablePeriodSelection,
		IncludeEnrollmentWithoutService: cfg.IncludeEnrollmentWithoutService,
		EndDateSelection:                cfg.EndDateSelection,
	})
}

// startRunRequest is the body of a run trigger.
type startRunRequest struct {
	OrgUnits []string `json:"orgUnits"`
	Periods  []string `json:"periods"`
}

func (h *Handler) StartRun(c echo.Context) error {
	cfg, ok := h.runner.Report(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "report not found")
	}
	var req startRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.OrgUnits) == 0 && !cfg.DisableOrgUnitSelection {
		return echo.NewHTTPError(http.StatusBadRequest, "orgUnits is required")
	}
	if len(req.Periods) == 0 && !cfg.DisablePeriodSelection {
		return echo.NewHTTPError(http.StatusBadRequest, "periods is required")
	}
	run, err := h.runner.StartRun(c.Request().Context(), cfg.ID, report.Dimensions{
		OrgUnits: req.OrgUnits,
		Periods:  req.Periods,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, run)
}

func (h *Handler) ListRuns(c echo.Context) error {
	pg := pagination.FromContext(c)
	runs, total, err := h.store.ListRuns(c.Request().Context(), c.QueryParam("report_id"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if runs == nil {
		runs = []*reportstore.Run{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(runs, total, pg.Limit, pg.Offset))
}

// runDetail is a run plus its recorded page failures.
type runDetail struct {
	*reportstore.Run
	FailedPages []reportstore.FailedPage `json:"failedPages,omitempty"`
}

func (h *Handler) GetRun(c echo.Context) error {
	run, err := h.getRun(c)
	if err != nil {
		return err
	}
	pages, err := h.store.FailedPagesByRun(c.Request().Context(), run.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, runDetail{Run: run, FailedPages: pages})
}

func (h *Handler) GetRunRows(c echo.Context) error {
	run, err := h.getRun(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	rows, total, err := h.store.RowsByRun(c.Request().Context(), run.ID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if rows == nil {
		rows = []report.ReportRow{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(rows, total, pg.Limit, pg.Offset))
}

func (h *Handler) ExportRun(c echo.Context) error {
	run, err := h.getRun(c)
	if err != nil {
		return err
	}
	if run.Status != reportstore.StatusCompleted {
		return echo.NewHTTPError(http.StatusConflict, "run is not completed")
	}
	cfg, ok := h.runner.Report(run.ReportID)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "report definition no longer loaded")
	}
	format, err := export.ParseFormat(c.QueryParam("format"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rows, err := h.store.AllRowsByRun(c.Request().Context(), run.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	name := export.FileName(cfg.ID, format, time.Now().UTC())
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+name+`"`)
	c.Response().Header().Set(echo.HeaderContentType, format.ContentType())
	c.Response().WriteHeader(http.StatusOK)
	return export.Write(c.Response(), format, cfg.Name, cfg.Columns(), rows)
}

func (h *Handler) getRun(c echo.Context) (*reportstore.Run, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid run id")
	}
	run, err := h.store.GetRun(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, reportstore.ErrRunNotFound) {
			return nil, echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return run, nil
}
