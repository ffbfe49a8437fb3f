package report

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrMetadataMissing is returned when a metadata-dependent method is called
// before SetProgramMetadata. This is a programming error in the caller and
// aborts the run.
var ErrMetadataMissing = errors.New("program metadata not set: call SetProgramMetadata first")

// Fetcher executes one analytics query. Implementations are injected by the
// caller; the engine never talks to the network itself.
type Fetcher func(ctx context.Context, q AnalyticsQuery) (*AnalyticsResponse, error)

// CompletionEvaluator computes a Yes/No-style package-completion value from
// one beneficiary's rows and the configured stage list. The three
// completion fields delegate to evaluators injected under their reserved
// ids.
type CompletionEvaluator func(rows []Row, stages []StageFields) string

// Dimensions are the caller's organisation-unit and period selections.
type Dimensions struct {
	OrgUnits []string
	Periods  []string
}

// GetDataOptions carries the collaborators GetData needs: the two query
// executors, a per-parameter-group progress callback, and a callback
// receiving the total number of parameter groups before fetching starts.
type GetDataOptions struct {
	Events        Fetcher
	Enrollments   Fetcher
	Progress      func()
	TotalRequests func(total int)
}

// Model owns one report's configuration, program metadata and fetched row
// set, and produces the final report rows. Construct it with NewModel, call
// SetProgramMetadata once, then GetData followed by any number of
// FormattedData projections. The fetched data is written once by GetData
// and read-only afterwards.
type Model struct {
	cfg         *ReportConfig
	metadata    []Program
	data        []Row
	failedPages []FailedPage
	completion  map[string]CompletionEvaluator
	logger      zerolog.Logger
}

// NewModel creates a model for the given report definition.
func NewModel(cfg *ReportConfig, logger zerolog.Logger) *Model {
	return &Model{cfg: cfg, logger: logger}
}

// Config returns the report definition the model was built from.
func (m *Model) Config() *ReportConfig { return m.cfg }

// Programs returns the report's declared program ids.
func (m *Model) Programs() []string {
	return append([]string{}, m.cfg.Programs...)
}

// Columns returns the unique output columns in declared order.
func (m *Model) Columns() []Column { return m.cfg.Columns() }

// Data returns the sanitized row set fetched by GetData.
func (m *Model) Data() []Row { return m.data }

// OrgUnitIDs returns the distinct organisation units the fetched rows were
// recorded against, in first-seen order. Callers resolve these to OrgUnit
// records (ancestors included) before projecting the report.
func (m *Model) OrgUnitIDs() []string {
	seen := map[string]bool{}
	var ids []string
	for _, r := range m.data {
		ou := r[keyOrgUnit]
		if ou == "" || seen[ou] {
			continue
		}
		seen[ou] = true
		ids = append(ids, ou)
	}
	return ids
}

// FailedPages lists the page fetches that failed during the last GetData
// call. A non-empty list means the report was produced from reduced
// coverage; callers decide whether to surface that.
func (m *Model) FailedPages() []FailedPage { return m.failedPages }

// SetProgramMetadata installs the program/stage/attribute metadata. Must be
// called once before any parameter derivation or stage/attribute lookup.
func (m *Model) SetProgramMetadata(programs []Program) {
	m.metadata = programs
}

// SetCompletionEvaluators installs the external package-completion
// evaluators, keyed by their reserved field ids. Fields whose evaluator is
// absent resolve to an empty value.
func (m *Model) SetCompletionEvaluators(evaluators map[string]CompletionEvaluator) {
	m.completion = evaluators
}

// ProgramByStage returns the id of the unique program whose stages contain
// the given stage, or "" when no program does.
func (m *Model) ProgramByStage(stageID string) (string, error) {
	if m.metadata == nil {
		return "", ErrMetadataMissing
	}
	for _, p := range m.metadata {
		if p.HasStage(stageID) {
			return p.ID, nil
		}
	}
	return "", nil
}

// AttributesByProgram returns the attribute fields of this report whose ids
// the given program actually tracks.
func (m *Model) AttributesByProgram(programID string) ([]FieldConfig, error) {
	if m.metadata == nil {
		return nil, ErrMetadataMissing
	}
	var program *Program
	for i := range m.metadata {
		if m.metadata[i].ID == programID {
			program = &m.metadata[i]
			break
		}
	}
	if program == nil {
		return nil, nil
	}
	var attrs []FieldConfig
	for _, f := range m.Attributes() {
		if program.HasAttribute(f.ID) {
			attrs = append(attrs, f)
		}
	}
	return attrs, nil
}

// GetData derives the query parameters, probes pagination for every group,
// then fetches all pages. Events and enrollments run as two concurrent
// tasks; within each, groups and their pages are fetched strictly
// sequentially. Per-page failures are logged and recorded, never
// propagated; only configuration errors abort the run.
func (m *Model) GetData(ctx context.Context, dims Dimensions, opts GetDataOptions) error {
	if opts.Events == nil {
		return fmt.Errorf("events fetcher is required")
	}

	pager := paginator{logger: m.logger}

	eventGroups, err := m.eventQueryGroups(ctx, dims, opts.Events, &pager)
	if err != nil {
		return err
	}

	var enrollmentGroups []queryGroup
	if m.cfg.IncludeEnrollmentWithoutService {
		if opts.Enrollments == nil {
			return fmt.Errorf("enrollments fetcher is required when includeEnrollmentWithoutService is set")
		}
		enrollmentGroups, err = m.enrollmentQueryGroups(ctx, dims, opts.Enrollments, &pager)
		if err != nil {
			return err
		}
	}

	if opts.TotalRequests != nil {
		opts.TotalRequests(len(eventGroups) + len(enrollmentGroups))
	}

	// Both fetch tasks report into the shared counter; serialize the
	// caller's callback so it never runs reentrantly.
	progress := opts.Progress
	if progress != nil {
		var progressMu sync.Mutex
		inner := opts.Progress
		progress = func() {
			progressMu.Lock()
			inner()
			progressMu.Unlock()
		}
	}

	var eventRows, enrollmentRows []Row
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		eventRows = pager.fetchGroups(gctx, opts.Events, eventGroups, progress)
		return nil
	})
	g.Go(func() error {
		enrollmentRows = pager.fetchGroups(gctx, opts.Enrollments, enrollmentGroups, progress)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	m.data = append(eventRows, enrollmentRows...)
	m.failedPages = pager.failedPages()
	return nil
}

// eventQueryGroups derives the event parameter groups and probes each one
// for its pagination.
func (m *Model) eventQueryGroups(ctx context.Context, dims Dimensions, fetch Fetcher, pager *paginator) ([]queryGroup, error) {
	params, err := m.EventParameters()
	if err != nil {
		return nil, err
	}

	groups := make([]queryGroup, 0, len(params))
	for _, p := range params {
		q := AnalyticsQuery{
			Program:  p.Program,
			Stage:    p.Stage,
			Dx:       p.Dx,
			OrgUnits: dims.OrgUnits,
		}
		if m.cfg.EndDateSelection {
			q.StartDate = eventsQueryStartDate
			q.EndDate = periodsEndDate(dims.Periods)
		} else {
			q.Periods = dims.Periods
		}
		groups = append(groups, queryGroup{query: q, pagination: pager.probe(ctx, fetch, q)})
	}
	return groups, nil
}

// enrollmentQueryGroups derives the enrollment parameter groups and probes
// each one for its pagination.
func (m *Model) enrollmentQueryGroups(ctx context.Context, dims Dimensions, fetch Fetcher, pager *paginator) ([]queryGroup, error) {
	params, err := m.EnrollmentParameters()
	if err != nil {
		return nil, err
	}

	groups := make([]queryGroup, 0, len(params))
	for _, p := range params {
		q := AnalyticsQuery{
			Program:  p.Program,
			Dx:       p.Dx,
			OrgUnits: dims.OrgUnits,
			Periods:  dims.Periods,
		}
		groups = append(groups, queryGroup{query: q, pagination: pager.probe(ctx, fetch, q)})
	}
	return groups, nil
}
