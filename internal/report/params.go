package report

// EventParameters describes one fetchable event analytics request shape:
// one program stage and the stage-qualified dx tokens to request.
type EventParameters struct {
	Program string
	Stage   string
	Dx      []string
}

// EnrollmentParameters describes one fetchable enrollment analytics request
// shape: one program and the attribute ids to request.
type EnrollmentParameters struct {
	Program string
	Dx      []string
}

// DataItems expands every field configuration carrying an ids list into one
// field per id, deduplicates by id, and drops the reserved computed-field
// ids. The result is the set of individually fetchable dimensions.
func (m *Model) DataItems() []FieldConfig {
	var expanded []FieldConfig
	for _, f := range m.cfg.DxConfigs {
		if len(f.IDs) == 0 {
			expanded = append(expanded, f)
			continue
		}
		for _, id := range f.IDs {
			item := f
			item.ID = id
			expanded = append(expanded, item)
		}
	}

	seen := map[string]bool{}
	var items []FieldConfig
	for _, f := range expanded {
		if seen[f.ID] || IsReservedFieldID(f.ID) {
			continue
		}
		seen[f.ID] = true
		items = append(items, f)
	}
	return items
}

// Attributes returns the fetchable data items marked as tracked-entity
// attributes.
func (m *Model) Attributes() []FieldConfig {
	var attrs []FieldConfig
	for _, f := range m.DataItems() {
		if f.IsAttribute {
			attrs = append(attrs, f)
		}
	}
	return attrs
}

// ReportProgramStageIDs returns every stage id any data item explicitly
// targets.
func (m *Model) ReportProgramStageIDs() []string {
	seen := map[string]bool{}
	var stages []string
	for _, f := range m.DataItems() {
		for _, id := range f.stageIDs() {
			if !seen[id] {
				seen[id] = true
				stages = append(stages, id)
			}
		}
	}
	return stages
}

// dataElements returns the non-attribute data items, fully resolved to
// program stages: fields declaring a programStages list are expanded into
// one item per (stage, data element), and fields with no stage at all are
// replicated across the report's stages, bound to each stage whose
// metadata actually captures the element. Stage resolution is best-effort
// when metadata is absent.
func (m *Model) dataElements() []FieldConfig {
	var elements []FieldConfig
	for _, f := range m.DataItems() {
		if f.IsAttribute {
			continue
		}
		if len(f.ProgramStages) == 0 {
			elements = append(elements, f)
			continue
		}
		for _, stage := range f.ProgramStages {
			for _, de := range stage.DataElements {
				item := f
				item.ID = de
				item.ProgramStage = stage.ID
				elements = append(elements, item)
			}
		}
	}

	var resolved []FieldConfig
	for _, f := range elements {
		if f.ProgramStage != "" {
			resolved = append(resolved, f)
			continue
		}
		for _, stageID := range m.ReportProgramStageIDs() {
			item := f
			if m.stageCapturesElement(stageID, f.ID) {
				item.ProgramStage = stageID
			}
			resolved = append(resolved, item)
		}
	}
	return resolved
}

// stageCapturesElement reports whether the given stage's metadata lists the
// data element. False when metadata is not set.
func (m *Model) stageCapturesElement(stageID, dataElementID string) bool {
	for _, p := range m.metadata {
		for _, s := range p.ProgramStages {
			if s.ID == stageID {
				return s.HasDataElement(dataElementID)
			}
		}
	}
	return false
}

// EventParameters groups the data elements by target program stage and
// renders each group into one event analytics request shape. Fields marked
// crossStages with no explicit stage are replicated into every stage
// group; each stage also receives the attribute fields of its program so
// attribute values (date of birth, UIC) are available alongside event
// data. Stage groups whose program cannot be resolved, or whose dx list
// ends up empty, are dropped.
func (m *Model) EventParameters() ([]EventParameters, error) {
	if m.metadata == nil {
		return nil, ErrMetadataMissing
	}

	elements := m.dataElements()

	var crossStage []FieldConfig
	for _, f := range elements {
		if f.CrossStages && f.ProgramStage == "" {
			crossStage = append(crossStage, f)
		}
	}

	grouped := map[string][]FieldConfig{}
	var stageOrder []string
	for _, f := range elements {
		if f.ProgramStage == "" {
			continue
		}
		if _, ok := grouped[f.ProgramStage]; !ok {
			stageOrder = append(stageOrder, f.ProgramStage)
		}
		grouped[f.ProgramStage] = append(grouped[f.ProgramStage], f)
	}
	for _, stage := range stageOrder {
		for _, f := range crossStage {
			item := f
			item.ProgramStage = stage
			grouped[stage] = append(grouped[stage], item)
		}
	}

	var params []EventParameters
	for _, stage := range stageOrder {
		group := grouped[stage]

		program, err := m.ProgramByStage(stage)
		if err != nil {
			return nil, err
		}
		if program != "" {
			attrs, err := m.AttributesByProgram(program)
			if err != nil {
				return nil, err
			}
			for _, a := range attrs {
				item := a
				item.ProgramStage = stage
				group = append(group, item)
			}
		}

		seen := map[string]bool{}
		var dx []string
		for _, f := range group {
			if IsReservedFieldID(f.ID) {
				continue
			}
			ids := f.IDs
			if len(ids) == 0 {
				ids = []string{f.ID}
			}
			for _, id := range ids {
				if id == "" {
					continue
				}
				token := stage + "." + id
				if !seen[token] {
					seen[token] = true
					dx = append(dx, token)
				}
			}
		}

		if program == "" || len(dx) == 0 {
			continue
		}
		params = append(params, EventParameters{Program: program, Stage: stage, Dx: dx})
	}
	return params, nil
}

// EnrollmentParameters renders, per declared program, the attribute fields
// that program actually tracks into one enrollment analytics request
// shape. Programs with no matching attributes are dropped.
func (m *Model) EnrollmentParameters() ([]EnrollmentParameters, error) {
	var params []EnrollmentParameters
	for _, program := range m.cfg.Programs {
		attrs, err := m.AttributesByProgram(program)
		if err != nil {
			return nil, err
		}
		seen := map[string]bool{}
		var dx []string
		for _, a := range attrs {
			if !seen[a.ID] {
				seen[a.ID] = true
				dx = append(dx, a.ID)
			}
		}
		if len(dx) == 0 {
			continue
		}
		params = append(params, EnrollmentParameters{Program: program, Dx: dx})
	}
	return params, nil
}
