package report

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func testMetadata() []Program {
	return []Program{
		{
			ID: "hOEIHJDrrvz",
			ProgramStages: []ProgramStage{
				{ID: "stageA", DataElementIDs: []string{"de1", "de2", lastServiceProviderID}},
				{ID: "nVCqxOg0nMQ", DataElementIDs: []string{"de3"}},
			},
			AttributeIDs: []string{"qZP982qpSPS", "eIU7KMx4Tu3"},
		},
		{
			ID: "em38qztTI8s",
			ProgramStages: []ProgramStage{
				{ID: "stageB", DataElementIDs: []string{"de4"}},
			},
		},
	}
}

func newTestModel(cfg *ReportConfig) *Model {
	m := NewModel(cfg, zerolog.Nop())
	m.SetProgramMetadata(testMetadata())
	return m
}

func TestDataItems_ExpandsAndDeduplicates(t *testing.T) {
	cfg := &ReportConfig{
		ID:       "r1",
		Programs: []string{"hOEIHJDrrvz"},
		DxConfigs: []FieldConfig{
			{ID: FieldEligibleForPrep, IDs: []string{"de1", "de2"}, Name: "Eligible"},
			{ID: "de1", Name: "DE one"},
			{ID: FieldTotalServices, Name: "Total"},
		},
	}
	m := newTestModel(cfg)

	items := m.DataItems()
	if len(items) != 2 {
		t.Fatalf("expected 2 data items, got %d", len(items))
	}
	if items[0].ID != "de1" || items[1].ID != "de2" {
		t.Errorf("unexpected item ids: %s, %s", items[0].ID, items[1].ID)
	}
}

func TestDataItems_ExcludesAllReservedIDs(t *testing.T) {
	var configs []FieldConfig
	for id := range reservedFieldIDs {
		configs = append(configs, FieldConfig{ID: id, Name: id})
	}
	m := newTestModel(&ReportConfig{ID: "r", Programs: []string{"p"}, DxConfigs: configs})

	if items := m.DataItems(); len(items) != 0 {
		t.Errorf("expected no fetchable items from reserved ids, got %d", len(items))
	}
}

func TestProgramByStage(t *testing.T) {
	m := newTestModel(&ReportConfig{ID: "r", Programs: []string{"hOEIHJDrrvz"}})

	program, err := m.ProgramByStage("stageB")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if program != "em38qztTI8s" {
		t.Errorf("expected em38qztTI8s, got %q", program)
	}

	program, err = m.ProgramByStage("unknown-stage")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if program != "" {
		t.Errorf("expected empty program for unknown stage, got %q", program)
	}
}

func TestProgramByStage_MetadataMissing(t *testing.T) {
	m := NewModel(&ReportConfig{ID: "r", Programs: []string{"p"}}, zerolog.Nop())

	if _, err := m.ProgramByStage("stageA"); !errors.Is(err, ErrMetadataMissing) {
		t.Fatalf("expected ErrMetadataMissing, got %v", err)
	}
	if _, err := m.EventParameters(); !errors.Is(err, ErrMetadataMissing) {
		t.Fatalf("expected ErrMetadataMissing from EventParameters, got %v", err)
	}
	if _, err := m.EnrollmentParameters(); !errors.Is(err, ErrMetadataMissing) {
		t.Fatalf("expected ErrMetadataMissing from EnrollmentParameters, got %v", err)
	}
}

func TestEventParameters_GroupsByStageAndInjectsAttributes(t *testing.T) {
	cfg := &ReportConfig{
		ID:       "r1",
		Programs: []string{"hOEIHJDrrvz"},
		DxConfigs: []FieldConfig{
			{ID: "de1", Name: "DE one", ProgramStage: "stageA"},
			{ID: "de3", Name: "DE three", ProgramStage: "nVCqxOg0nMQ"},
			{ID: "qZP982qpSPS", Name: "DOB", IsAttribute: true, IsDate: true},
			{ID: FieldTotalServices, Name: "Total"},
		},
	}
	m := newTestModel(cfg)

	params, err := m.EventParameters()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(params) != 2 {
		t.Fatalf("expected 2 stage groups, got %d", len(params))
	}

	first := params[0]
	if first.Stage != "stageA" || first.Program != "hOEIHJDrrvz" {
		t.Errorf("unexpected first group: %+v", first)
	}
	wantDx := []string{"stageA.de1", "stageA.qZP982qpSPS"}
	if len(first.Dx) != len(wantDx) {
		t.Fatalf("expected dx %v, got %v", wantDx, first.Dx)
	}
	for i, dx := range wantDx {
		if first.Dx[i] != dx {
			t.Errorf("dx[%d]: expected %s, got %s", i, dx, first.Dx[i])
		}
	}

	second := params[1]
	if second.Stage != "nVCqxOg0nMQ" {
		t.Errorf("unexpected second stage: %s", second.Stage)
	}
	if len(second.Dx) != 2 || second.Dx[0] != "nVCqxOg0nMQ.de3" {
		t.Errorf("unexpected second dx: %v", second.Dx)
	}
}

func TestEventParameters_CrossStagesReplication(t *testing.T) {
	cfg := &ReportConfig{
		ID:       "r1",
		Programs: []string{"hOEIHJDrrvz"},
		DxConfigs: []FieldConfig{
			{ID: "de1", Name: "DE one", ProgramStage: "stageA"},
			{ID: "de3", Name: "DE three", ProgramStage: "nVCqxOg0nMQ"},
			{ID: "deX", Name: "Everywhere", CrossStages: true},
		},
	}
	m := newTestModel(cfg)

	params, err := m.EventParameters()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, p := range params {
		found := false
		for _, dx := range p.Dx {
			if dx == p.Stage+".deX" {
				found = true
			}
		}
		if !found {
			t.Errorf("stage %s missing cross-stage element: %v", p.Stage, p.Dx)
		}
	}
}

func TestEventParameters_DropsUnresolvedProgram(t *testing.T) {
	cfg := &ReportConfig{
		ID:       "r1",
		Programs: []string{"hOEIHJDrrvz"},
		DxConfigs: []FieldConfig{
			{ID: "de9", Name: "Orphan", ProgramStage: "not-in-any-program"},
		},
	}
	m := newTestModel(cfg)

	params, err := m.EventParameters()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(params) != 0 {
		t.Errorf("expected orphan stage group to be dropped, got %v", params)
	}
}

func TestEventParameters_MultiStageExpansion(t *testing.T) {
	cfg := &ReportConfig{
		ID:       "r1",
		Programs: []string{"hOEIHJDrrvz"},
		DxConfigs: []FieldConfig{
			{
				ID:   "unused",
				Name: "Spread",
				ProgramStages: []StageFields{
					{ID: "stageA", DataElements: []string{"de1", "de2"}},
					{ID: "nVCqxOg0nMQ", DataElements: []string{"de3"}},
				},
			},
		},
	}
	m := newTestModel(cfg)

	params, err := m.EventParameters()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(params) != 2 {
		t.Fatalf("expected 2 stage groups, got %d", len(params))
	}
	if len(params[0].Dx) < 2 {
		t.Errorf("expected stageA dx to carry de1 and de2, got %v", params[0].Dx)
	}
}

func TestEnrollmentParameters(t *testing.T) {
	cfg := &ReportConfig{
		ID:       "r1",
		Programs: []string{"hOEIHJDrrvz", "em38qztTI8s"},
		DxConfigs: []FieldConfig{
			{ID: "qZP982qpSPS", Name: "DOB", IsAttribute: true},
			{ID: "eIU7KMx4Tu3", Name: "UIC", IsAttribute: true},
			{ID: "de1", Name: "DE one", ProgramStage: "stageA"},
		},
	}
	m := newTestModel(cfg)

	params, err := m.EnrollmentParameters()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// em38qztTI8s tracks none of the attributes and is dropped.
	if len(params) != 1 {
		t.Fatalf("expected 1 enrollment group, got %d", len(params))
	}
	if params[0].Program != "hOEIHJDrrvz" || len(params[0].Dx) != 2 {
		t.Errorf("unexpected enrollment group: %+v", params[0])
	}
}

func TestReportProgramStageIDs(t *testing.T) {
	cfg := &ReportConfig{
		ID:       "r1",
		Programs: []string{"hOEIHJDrrvz"},
		DxConfigs: []FieldConfig{
			{ID: "de1", Name: "A", ProgramStage: "stageA"},
			{ID: "de2", Name: "B", ProgramStage: "stageA"},
			{ID: "x", Name: "C", ProgramStages: []StageFields{{ID: "stageB", DataElements: []string{"de4"}}}},
		},
	}
	m := newTestModel(cfg)

	stages := m.ReportProgramStageIDs()
	if len(stages) != 2 {
		t.Fatalf("expected 2 stages, got %v", stages)
	}
	if stages[0] != "stageA" || stages[1] != "stageB" {
		t.Errorf("unexpected stage order: %v", stages)
	}
}
