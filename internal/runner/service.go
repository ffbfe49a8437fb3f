// Package runner orchestrates report generation: it resolves the report
// definition, pulls program metadata and analytics data from DHIS2, runs
// the evaluation engine and persists the produced rows.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hispls/dreams-reports/internal/report"
	"github.com/hispls/dreams-reports/internal/reportstore"
)

// runTimeout bounds one asynchronous run end to end. Sequential paging over
// a year of national data stays well inside this.
const runTimeout = 30 * time.Minute

// Analytics is the DHIS2 surface the runner needs.
type Analytics interface {
	Events(ctx context.Context, q report.AnalyticsQuery) (*report.AnalyticsResponse, error)
	Enrollments(ctx context.Context, q report.AnalyticsQuery) (*report.AnalyticsResponse, error)
	Programs(ctx context.Context, ids []string) ([]report.Program, error)
	OrgUnits(ctx context.Context, ids []string) ([]report.OrgUnit, error)
}

// RunStore persists run lifecycle state and produced rows.
type RunStore interface {
	CreateRun(ctx context.Context, reportID string, dims report.Dimensions) (*reportstore.Run, error)
	MarkRunning(ctx context.Context, id uuid.UUID) error
	SetTotalRequests(ctx context.Context, id uuid.UUID, total int) error
	IncrementProgress(ctx context.Context, id uuid.UUID) error
	CompleteRun(ctx context.Context, id uuid.UUID, rowCount int) error
	FailRun(ctx context.Context, id uuid.UUID, msg string) error
	InsertRows(ctx context.Context, runID uuid.UUID, rows []report.ReportRow) error
	InsertFailedPages(ctx context.Context, runID uuid.UUID, pages []report.FailedPage) error
}

// Service runs reports against one DHIS2 instance.
type Service struct {
	reports []*report.ReportConfig
	byID    map[string]*report.ReportConfig
	client  Analytics
	store   RunStore
	logger  zerolog.Logger
}

// NewService builds a runner over the loaded report definitions. store may
// be nil when only synchronous Generate is used (the CLI path).
func NewService(reports []*report.ReportConfig, client Analytics, store RunStore, logger zerolog.Logger) *Service {
	byID := make(map[string]*report.ReportConfig, len(reports))
	for _, cfg := range reports {
		byID[cfg.ID] = cfg
	}
	return &Service{reports: reports, byID: byID, client: client, store: store, logger: logger}
}

// Reports returns the loaded report definitions in load order.
func (s *Service) Reports() []*report.ReportConfig { return s.reports }

// Report resolves a report definition by id.
func (s *Service) Report(id string) (*report.ReportConfig, bool) {
	cfg, ok := s.byID[id]
	return cfg, ok
}

// defaultCompletionEvaluators cover the three package-completion fields
// with stage-coverage semantics. Deployments with richer completion rules
// swap these before GetData.
func defaultCompletionEvaluators() map[string]report.CompletionEvaluator {
	return map[string]report.CompletionEvaluator{
		report.FieldCompletedPrimaryPackage:    report.StageCoverageEvaluator,
		report.FieldCompletedSecondaryPackage:  report.StageCoverageEvaluator,
		report.FieldCompletedPrimaryAtLeastSec: report.StageCoverageEvaluator,
	}
}

// buildModel constructs and primes a model for one report: program
// metadata fetched and installed, default completion evaluators set.
func (s *Service) buildModel(ctx context.Context, cfg *report.ReportConfig) (*report.Model, error) {
	m := report.NewModel(cfg, s.logger)
	programs, err := s.client.Programs(ctx, cfg.Programs)
	if err != nil {
		return nil, fmt.Errorf("fetch program metadata: %w", err)
	}
	m.SetProgramMetadata(programs)
	m.SetCompletionEvaluators(defaultCompletionEvaluators())
	return m, nil
}

// Result is the outcome of one synchronous generation.
type Result struct {
	Columns     []report.Column
	Rows        []report.ReportRow
	FailedPages []report.FailedPage
}

// Generate runs a report synchronously and returns the produced rows
// without persisting anything. Used by the one-shot CLI path.
func (s *Service) Generate(ctx context.Context, reportID string, dims report.Dimensions) (*Result, error) {
	cfg, ok := s.byID[reportID]
	if !ok {
		return nil, fmt.Errorf("unknown report %q", reportID)
	}
	m, err := s.buildModel(ctx, cfg)
	if err != nil {
		return nil, err
	}
	opts := report.GetDataOptions{
		Events:      s.client.Events,
		Enrollments: s.client.Enrollments,
	}
	if err := m.GetData(ctx, dims, opts); err != nil {
		return nil, fmt.Errorf("fetch analytics data: %w", err)
	}
	locations, err := s.resolveLocations(ctx, m)
	if err != nil {
		return nil, err
	}
	return &Result{
		Columns:     m.Columns(),
		Rows:        m.FormattedData(locations),
		FailedPages: m.FailedPages(),
	}, nil
}

// StartRun records a pending run and generates the report asynchronously.
// The returned run is in status pending; callers poll GetRun for progress.
func (s *Service) StartRun(ctx context.Context, reportID string, dims report.Dimensions) (*reportstore.Run, error) {
	cfg, ok := s.byID[reportID]
	if !ok {
		return nil, fmt.Errorf("unknown report %q", reportID)
	}
	run, err := s.store.CreateRun(ctx, reportID, dims)
	if err != nil {
		return nil, err
	}
	go func() {
		runCtx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		s.execute(runCtx, run.ID, cfg, dims)
	}()
	return run, nil
}

// execute performs one persisted run. Errors terminate the run as failed;
// lossy page failures are recorded but the run still completes.
func (s *Service) execute(ctx context.Context, runID uuid.UUID, cfg *report.ReportConfig, dims report.Dimensions) {
	logger := s.logger.With().Stringer("run_id", runID).Str("report", cfg.ID).Logger()

	if err := s.store.MarkRunning(ctx, runID); err != nil {
		logger.Error().Err(err).Msg("mark run running")
		return
	}

	fail := func(stage string, err error) {
		logger.Error().Err(err).Msg(stage)
		if ferr := s.store.FailRun(ctx, runID, err.Error()); ferr != nil {
			logger.Error().Err(ferr).Msg("record run failure")
		}
	}

	m, err := s.buildModel(ctx, cfg)
	if err != nil {
		fail("build report model", err)
		return
	}

	opts := report.GetDataOptions{
		Events:      s.client.Events,
		Enrollments: s.client.Enrollments,
		TotalRequests: func(total int) {
			if err := s.store.SetTotalRequests(ctx, runID, total); err != nil {
				logger.Warn().Err(err).Msg("record total requests")
			}
		},
		Progress: func() {
			if err := s.store.IncrementProgress(ctx, runID); err != nil {
				logger.Warn().Err(err).Msg("record progress")
			}
		},
	}
	if err := m.GetData(ctx, dims, opts); err != nil {
		fail("fetch analytics data", err)
		return
	}

	locations, err := s.resolveLocations(ctx, m)
	if err != nil {
		fail("resolve organisation units", err)
		return
	}

	rows := m.FormattedData(locations)
	if err := s.store.InsertRows(ctx, runID, rows); err != nil {
		fail("persist report rows", err)
		return
	}
	if failed := m.FailedPages(); len(failed) > 0 {
		logger.Warn().Int("pages", len(failed)).Msg("report generated with reduced coverage")
		if err := s.store.InsertFailedPages(ctx, runID, failed); err != nil {
			logger.Warn().Err(err).Msg("record failed pages")
		}
	}
	if err := s.store.CompleteRun(ctx, runID, len(rows)); err != nil {
		logger.Error().Err(err).Msg("complete run")
		return
	}
	logger.Info().Int("rows", len(rows)).Msg("report run completed")
}

// resolveLocations fetches the OrgUnit records (ancestors included) for
// every organisation unit present in the fetched data.
func (s *Service) resolveLocations(ctx context.Context, m *report.Model) ([]report.OrgUnit, error) {
	ids := m.OrgUnitIDs()
	if len(ids) == 0 {
		return nil, nil
	}
	locations, err := s.client.OrgUnits(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch organisation units: %w", err)
	}
	return locations, nil
}
