package report

import (
	"context"
	"fmt"
	"strconv"
	"testing"
)

func TestPageCount(t *testing.T) {
	cases := []struct {
		total int
		want  int
	}{
		{0, 0},
		{1, 1},
		{PageSize, 1},
		{PageSize + 1, 2},
		{2*PageSize + 250, 3},
	}
	for _, tc := range cases {
		if got := pageCount(tc.total); got != tc.want {
			t.Errorf("pageCount(%d): expected %d, got %d", tc.total, tc.want, got)
		}
	}
}

// fakeFetcher serves a probe with a configured total and then canned pages;
// pages listed in failPages return an error.
type fakeFetcher struct {
	total     int
	failPages map[int]bool
	calls     []AnalyticsQuery
}

func (f *fakeFetcher) fetch(_ context.Context, q AnalyticsQuery) (*AnalyticsResponse, error) {
	f.calls = append(f.calls, q)
	if q.SkipData {
		return &AnalyticsResponse{
			MetaData: &MetaData{Pager: &Pager{Total: f.total, Page: 1, PageSize: q.PageSize}},
		}, nil
	}
	if f.failPages[q.Page] {
		return nil, fmt.Errorf("upstream unavailable")
	}
	return &AnalyticsResponse{
		Headers: []Header{{Name: "tei"}, {Name: "eventdate"}},
		Rows:    [][]string{{"tei-" + strconv.Itoa(q.Page), "2024-01-0" + strconv.Itoa(q.Page)}},
	}, nil
}

func TestGetData_PaginatesSequentially(t *testing.T) {
	cfg := &ReportConfig{
		ID:       "r1",
		Programs: []string{"hOEIHJDrrvz"},
		DxConfigs: []FieldConfig{
			{ID: "de1", Name: "DE one", ProgramStage: "stageA"},
		},
	}
	m := newTestModel(cfg)

	events := &fakeFetcher{total: 2*PageSize + 1}
	progress := 0
	totalGroups := -1

	err := m.GetData(context.Background(), Dimensions{OrgUnits: []string{"ou1"}, Periods: []string{"2024"}}, GetDataOptions{
		Events:        events.fetch,
		Progress:      func() { progress++ },
		TotalRequests: func(n int) { totalGroups = n },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 1 probe + 3 pages.
	if len(events.calls) != 4 {
		t.Fatalf("expected 4 fetch calls, got %d", len(events.calls))
	}
	if !events.calls[0].SkipData {
		t.Error("expected first call to be the metadata-only probe")
	}
	for i, page := 1, 1; i < len(events.calls); i, page = i+1, page+1 {
		if events.calls[i].Page != page {
			t.Errorf("call %d: expected page %d, got %d", i, page, events.calls[i].Page)
		}
	}
	if progress != 1 {
		t.Errorf("expected 1 progress increment per group, got %d", progress)
	}
	if totalGroups != 1 {
		t.Errorf("expected total of 1 parameter group, got %d", totalGroups)
	}
	if len(m.Data()) != 3 {
		t.Errorf("expected 3 rows, got %d", len(m.Data()))
	}
}

func TestGetData_ZeroTotalFetchesNoPages(t *testing.T) {
	cfg := &ReportConfig{
		ID:       "r1",
		Programs: []string{"hOEIHJDrrvz"},
		DxConfigs: []FieldConfig{
			{ID: "de1", Name: "DE one", ProgramStage: "stageA"},
		},
	}
	m := newTestModel(cfg)

	events := &fakeFetcher{total: 0}
	err := m.GetData(context.Background(), Dimensions{}, GetDataOptions{Events: events.fetch})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events.calls) != 1 {
		t.Errorf("expected only the probe call, got %d calls", len(events.calls))
	}
	if len(m.Data()) != 0 {
		t.Errorf("expected no rows, got %d", len(m.Data()))
	}
}

func TestGetData_FailedPageReducesCoverageWithoutAborting(t *testing.T) {
	cfg := &ReportConfig{
		ID:       "r1",
		Programs: []string{"hOEIHJDrrvz"},
		DxConfigs: []FieldConfig{
			{ID: "de1", Name: "DE one", ProgramStage: "stageA"},
		},
	}
	m := newTestModel(cfg)

	events := &fakeFetcher{total: 3 * PageSize, failPages: map[int]bool{2: true}}
	err := m.GetData(context.Background(), Dimensions{}, GetDataOptions{Events: events.fetch})
	if err != nil {
		t.Fatalf("expected run to continue past page failure, got %v", err)
	}
	if len(m.Data()) != 2 {
		t.Errorf("expected 2 rows from the surviving pages, got %d", len(m.Data()))
	}
	failed := m.FailedPages()
	if len(failed) != 1 {
		t.Fatalf("expected 1 failed page descriptor, got %d", len(failed))
	}
	if failed[0].Page != 2 || failed[0].Stage != "stageA" {
		t.Errorf("unexpected failed page descriptor: %+v", failed[0])
	}
}

func TestGetData_ConcurrentFailuresAllRecorded(t *testing.T) {
	cfg := &ReportConfig{
		ID:                              "r1",
		Programs:                        []string{"hOEIHJDrrvz"},
		IncludeEnrollmentWithoutService: true,
		DxConfigs: []FieldConfig{
			{ID: "de1", Name: "DE one", ProgramStage: "stageA"},
			{ID: "qZP982qpSPS", Name: "DOB", IsAttribute: true},
		},
	}
	m := newTestModel(cfg)

	// Every page of both classes fails, so the event and enrollment tasks
	// record failures and report progress at the same time.
	failAll := map[int]bool{}
	for page := 1; page <= 4; page++ {
		failAll[page] = true
	}
	events := &fakeFetcher{total: 4 * PageSize, failPages: failAll}
	enrollments := &fakeFetcher{total: 4 * PageSize, failPages: failAll}
	progress := 0

	err := m.GetData(context.Background(), Dimensions{}, GetDataOptions{
		Events:      events.fetch,
		Enrollments: enrollments.fetch,
		Progress:    func() { progress++ },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(m.FailedPages()); got != 8 {
		t.Errorf("expected all 8 failed pages recorded, got %d", got)
	}
	if progress != 2 {
		t.Errorf("expected one increment per parameter group, got %d", progress)
	}
	if len(m.Data()) != 0 {
		t.Errorf("expected no rows when every page fails, got %d", len(m.Data()))
	}
}

func TestGetData_EnrollmentsSkippedWithoutOptIn(t *testing.T) {
	cfg := &ReportConfig{
		ID:       "r1",
		Programs: []string{"hOEIHJDrrvz"},
		DxConfigs: []FieldConfig{
			{ID: "de1", Name: "DE one", ProgramStage: "stageA"},
			{ID: "qZP982qpSPS", Name: "DOB", IsAttribute: true},
		},
	}
	m := newTestModel(cfg)

	events := &fakeFetcher{total: 1}
	enrollments := &fakeFetcher{total: 1}

	err := m.GetData(context.Background(), Dimensions{}, GetDataOptions{
		Events:      events.fetch,
		Enrollments: enrollments.fetch,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(enrollments.calls) != 0 {
		t.Errorf("expected no enrollment requests without includeEnrollmentWithoutService, got %d", len(enrollments.calls))
	}
}

func TestGetData_EnrollmentsIncludedWhenConfigured(t *testing.T) {
	cfg := &ReportConfig{
		ID:                              "r1",
		Programs:                        []string{"hOEIHJDrrvz"},
		IncludeEnrollmentWithoutService: true,
		DxConfigs: []FieldConfig{
			{ID: "de1", Name: "DE one", ProgramStage: "stageA"},
			{ID: "qZP982qpSPS", Name: "DOB", IsAttribute: true},
		},
	}
	m := newTestModel(cfg)

	events := &fakeFetcher{total: 1}
	enrollments := &fakeFetcher{total: 1}
	progress := 0

	err := m.GetData(context.Background(), Dimensions{}, GetDataOptions{
		Events:      events.fetch,
		Enrollments: enrollments.fetch,
		Progress:    func() { progress++ },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(enrollments.calls) != 2 { // probe + 1 page
		t.Errorf("expected enrollment probe and page, got %d calls", len(enrollments.calls))
	}
	if progress != 2 {
		t.Errorf("expected one increment per parameter group, got %d", progress)
	}
}

func TestGetData_EndDateSelection(t *testing.T) {
	cfg := &ReportConfig{
		ID:               "r1",
		Programs:         []string{"hOEIHJDrrvz"},
		EndDateSelection: true,
		DxConfigs: []FieldConfig{
			{ID: "de1", Name: "DE one", ProgramStage: "stageA"},
		},
	}
	m := newTestModel(cfg)

	events := &fakeFetcher{total: 1}
	err := m.GetData(context.Background(), Dimensions{Periods: []string{"2024"}}, GetDataOptions{Events: events.fetch})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	probe := events.calls[0]
	if probe.StartDate != eventsQueryStartDate {
		t.Errorf("expected fixed start date, got %q", probe.StartDate)
	}
	if probe.EndDate != "2024-12-31" {
		t.Errorf("expected period end date 2024-12-31, got %q", probe.EndDate)
	}
	if len(probe.Periods) != 0 {
		t.Errorf("expected no pe dimension with endDateSelection, got %v", probe.Periods)
	}
}
