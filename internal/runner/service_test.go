package runner

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hispls/dreams-reports/internal/report"
	"github.com/hispls/dreams-reports/internal/reportstore"
)

const (
	testProgram = "em38qztTI8s"
	testStage   = "stageA"
	testElement = "deServiceA"
)

func testReport() *report.ReportConfig {
	return &report.ReportConfig{
		ID:       "ovc-served",
		Name:     "OVC Served",
		Programs: []string{testProgram},
		DxConfigs: []report.FieldConfig{
			{ID: testElement, Name: "Service", ProgramStage: testStage},
		},
	}
}

// fakeAnalytics answers probes with a fixed total and page fetches with a
// canned row set.
type fakeAnalytics struct {
	programsErr error
	orgUnitsErr error

	mu          sync.Mutex
	probes      int
	pageFetches int
}

func (f *fakeAnalytics) Events(_ context.Context, q report.AnalyticsQuery) (*report.AnalyticsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if q.SkipData {
		f.probes++
		return &report.AnalyticsResponse{
			MetaData: &report.MetaData{Pager: &report.Pager{Total: 2, Page: 1}},
		}, nil
	}
	f.pageFetches++
	return &report.AnalyticsResponse{
		Headers: []report.Header{
			{Name: "psi"}, {Name: "tei"}, {Name: "ou"}, {Name: "eventdate"}, {Name: testElement},
		},
		MetaData: &report.MetaData{
			Dimensions: map[string][]string{"ou": {"ouF1"}, "pe": {}, testElement: {}},
		},
		Rows: [][]string{
			{"ev1", "ben1", "ouF1", "2024-03-01", "Psychosocial support"},
			{"ev2", "ben1", "ouF1", "2024-04-01", "Psychosocial support"},
		},
	}, nil
}

func (f *fakeAnalytics) Enrollments(_ context.Context, _ report.AnalyticsQuery) (*report.AnalyticsResponse, error) {
	return &report.AnalyticsResponse{}, nil
}

func (f *fakeAnalytics) Programs(_ context.Context, ids []string) ([]report.Program, error) {
	if f.programsErr != nil {
		return nil, f.programsErr
	}
	var programs []report.Program
	for _, id := range ids {
		programs = append(programs, report.Program{
			ID: id,
			ProgramStages: []report.ProgramStage{
				{ID: testStage, DataElementIDs: []string{testElement}},
			},
		})
	}
	return programs, nil
}

func (f *fakeAnalytics) OrgUnits(_ context.Context, ids []string) ([]report.OrgUnit, error) {
	if f.orgUnitsErr != nil {
		return nil, f.orgUnitsErr
	}
	var out []report.OrgUnit
	for _, id := range ids {
		out = append(out, report.OrgUnit{ID: id, Level: 4, Name: "Clinic A"})
	}
	return out, nil
}

// fakeStore keeps run state in memory and signals terminal transitions.
type fakeStore struct {
	mu            sync.Mutex
	run           *reportstore.Run
	rows          []report.ReportRow
	failedPages   []report.FailedPage
	totalRequests int
	progress      int
	done          chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{done: make(chan struct{})}
}

func (f *fakeStore) CreateRun(_ context.Context, reportID string, dims report.Dimensions) (*reportstore.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.run = &reportstore.Run{
		ID:        uuid.New(),
		ReportID:  reportID,
		OrgUnits:  dims.OrgUnits,
		Periods:   dims.Periods,
		Status:    reportstore.StatusPending,
		CreatedAt: time.Now(),
	}
	return f.run, nil
}

func (f *fakeStore) MarkRunning(_ context.Context, _ uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.run.Status = reportstore.StatusRunning
	return nil
}

func (f *fakeStore) SetTotalRequests(_ context.Context, _ uuid.UUID, total int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.totalRequests = total
	return nil
}

func (f *fakeStore) IncrementProgress(_ context.Context, _ uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress++
	return nil
}

func (f *fakeStore) CompleteRun(_ context.Context, _ uuid.UUID, rowCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.run.Status = reportstore.StatusCompleted
	f.run.RowCount = rowCount
	close(f.done)
	return nil
}

func (f *fakeStore) FailRun(_ context.Context, _ uuid.UUID, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.run.Status = reportstore.StatusFailed
	f.run.Error = msg
	close(f.done)
	return nil
}

func (f *fakeStore) InsertRows(_ context.Context, _ uuid.UUID, rows []report.ReportRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = rows
	return nil
}

func (f *fakeStore) InsertFailedPages(_ context.Context, _ uuid.UUID, pages []report.FailedPage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failedPages = pages
	return nil
}

func newTestService(client Analytics, store RunStore) *Service {
	return NewService([]*report.ReportConfig{testReport()}, client, store, zerolog.Nop())
}

func TestGenerate_ProducesRows(t *testing.T) {
	client := &fakeAnalytics{}
	svc := newTestService(client, nil)

	dims := report.Dimensions{OrgUnits: []string{"district1"}, Periods: []string{"2024"}}
	res, err := svc.Generate(context.Background(), "ovc-served", dims)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if len(res.Rows) != 1 {
		t.Fatalf("expected 1 beneficiary row, got %d", len(res.Rows))
	}
	if got := res.Rows[0]["Service"]; got != "Psychosocial support" {
		t.Errorf("Service = %q, want %q", got, "Psychosocial support")
	}
	if len(res.Columns) != 1 || res.Columns[0].Key != "Service" {
		t.Errorf("unexpected columns: %+v", res.Columns)
	}
	if len(res.FailedPages) != 0 {
		t.Errorf("unexpected failed pages: %+v", res.FailedPages)
	}
	if client.probes != 1 {
		t.Errorf("expected 1 pagination probe, got %d", client.probes)
	}
	if client.pageFetches != 1 {
		t.Errorf("expected 1 page fetch, got %d", client.pageFetches)
	}
}

func TestGenerate_UnknownReport(t *testing.T) {
	svc := newTestService(&fakeAnalytics{}, nil)
	if _, err := svc.Generate(context.Background(), "nope", report.Dimensions{}); err == nil {
		t.Fatal("expected error for unknown report id")
	}
}

func TestStartRun_CompletesAsynchronously(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(&fakeAnalytics{}, store)

	dims := report.Dimensions{OrgUnits: []string{"district1"}, Periods: []string{"2024"}}
	run, err := svc.StartRun(context.Background(), "ovc-served", dims)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if run.Status != reportstore.StatusPending {
		t.Errorf("initial status = %q, want %q", run.Status, reportstore.StatusPending)
	}

	select {
	case <-store.done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish in time")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.run.Status != reportstore.StatusCompleted {
		t.Fatalf("final status = %q (error %q)", store.run.Status, store.run.Error)
	}
	if store.run.RowCount != 1 {
		t.Errorf("row count = %d, want 1", store.run.RowCount)
	}
	if len(store.rows) != 1 {
		t.Errorf("persisted rows = %d, want 1", len(store.rows))
	}
	if store.totalRequests != 1 {
		t.Errorf("total requests = %d, want 1", store.totalRequests)
	}
	if store.progress != 1 {
		t.Errorf("progress = %d, want 1", store.progress)
	}
}

func TestStartRun_UnknownReport(t *testing.T) {
	svc := newTestService(&fakeAnalytics{}, newFakeStore())
	if _, err := svc.StartRun(context.Background(), "nope", report.Dimensions{}); err == nil {
		t.Fatal("expected error for unknown report id")
	}
}

func TestExecute_FailsRunWhenMetadataUnavailable(t *testing.T) {
	client := &fakeAnalytics{programsErr: fmt.Errorf("dhis2 unreachable")}
	store := newFakeStore()
	svc := newTestService(client, store)

	run, err := store.CreateRun(context.Background(), "ovc-served", report.Dimensions{})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	svc.execute(context.Background(), run.ID, testReport(), report.Dimensions{})

	if store.run.Status != reportstore.StatusFailed {
		t.Fatalf("status = %q, want %q", store.run.Status, reportstore.StatusFailed)
	}
	if store.run.Error == "" {
		t.Error("expected failure message on run")
	}
}

func TestExecute_CompletesDespiteOrgUnitLookupForEmptyData(t *testing.T) {
	// A run over a window with no events produces zero rows and must still
	// complete without calling the org-unit endpoint.
	client := &fakeAnalytics{orgUnitsErr: fmt.Errorf("must not be called")}
	store := newFakeStore()
	svc := NewService([]*report.ReportConfig{testReport()}, emptyAnalytics{client}, store, zerolog.Nop())

	run, _ := store.CreateRun(context.Background(), "ovc-served", report.Dimensions{})
	svc.execute(context.Background(), run.ID, testReport(), report.Dimensions{})

	if store.run.Status != reportstore.StatusCompleted {
		t.Fatalf("status = %q (error %q)", store.run.Status, store.run.Error)
	}
	if store.run.RowCount != 0 {
		t.Errorf("row count = %d, want 0", store.run.RowCount)
	}
}

// emptyAnalytics wraps a fakeAnalytics but answers every analytics query
// with an empty result set.
type emptyAnalytics struct{ *fakeAnalytics }

func (e emptyAnalytics) Events(_ context.Context, q report.AnalyticsQuery) (*report.AnalyticsResponse, error) {
	if q.SkipData {
		return &report.AnalyticsResponse{
			MetaData: &report.MetaData{Pager: &report.Pager{Total: 0}},
		}, nil
	}
	return &report.AnalyticsResponse{}, nil
}
