package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DisplayValue maps a raw analytics value to the name shown on the report.
type DisplayValue struct {
	Value       string `yaml:"value" json:"value"`
	DisplayName string `yaml:"displayName" json:"displayName"`
}

// DataValue is one id/value pair a combined-value field must match.
type DataValue struct {
	ID    string `yaml:"id" json:"id"`
	Value string `yaml:"value" json:"value"`
}

// CombinedValues configures a field whose value is emitted only when every
// referenced data element carries its required value on the same event.
type CombinedValues struct {
	DataValues   []DataValue `yaml:"dataValues" json:"dataValues"`
	DisplayValue string      `yaml:"displayValue" json:"displayValue"`
}

// StageFields names a program stage together with the data elements read
// from it. Used both for multi-stage field expansion and as the stage list
// handed to the package-completion evaluators.
type StageFields struct {
	ID           string   `yaml:"id" json:"id"`
	DataElements []string `yaml:"dataElements" json:"dataElements"`
}

// FieldConfig (dxConfig) declares one output report column and how to
// compute it. ID is either a reserved rule keyword or a literal analytics
// dimension id; IDs supplies several dimension ids when a rule combines
// them. Name is the output column key and is not required to be unique:
// later fields sharing a Name reuse the first non-empty value computed
// under that name.
type FieldConfig struct {
	ID             string          `yaml:"id" json:"id"`
	IDs            []string        `yaml:"ids" json:"ids,omitempty"`
	Name           string          `yaml:"name" json:"name"`
	ProgramStage   string          `yaml:"programStage" json:"programStage,omitempty"`
	ProgramStages  []StageFields   `yaml:"programStages" json:"programStages,omitempty"`
	IsAttribute    bool            `yaml:"isAttribute" json:"isAttribute"`
	IsBoolean      bool            `yaml:"isBoolean" json:"isBoolean"`
	IsDate         bool            `yaml:"isDate" json:"isDate"`
	CrossStages    bool            `yaml:"crossStages" json:"crossStages"`
	Codes          []string        `yaml:"codes" json:"codes,omitempty"`
	DisplayValues  []DisplayValue  `yaml:"displayValues" json:"displayValues,omitempty"`
	CombinedValues *CombinedValues `yaml:"combinedValues" json:"combinedValues,omitempty"`
}

// stageIDs returns every stage this field explicitly targets.
func (f FieldConfig) stageIDs() []string {
	ids := make([]string, 0, 1+len(f.ProgramStages))
	if f.ProgramStage != "" {
		ids = append(ids, f.ProgramStage)
	}
	for _, s := range f.ProgramStages {
		if s.ID != "" {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// ReportConfig is the declarative definition of one report: the programs it
// draws from and the ordered column list. DxConfigs are evaluated in
// declared order; the order matters because of first-writer-wins on column
// names.
type ReportConfig struct {
	ID                              string        `yaml:"id" json:"id"`
	Name                            string        `yaml:"name" json:"name"`
	Programs                        []string      `yaml:"programs" json:"programs"`
	DxConfigs                       []FieldConfig `yaml:"dxConfigs" json:"dxConfigs"`
	DisableOrgUnitSelection         bool          `yaml:"disableOrgUnitSelection" json:"disableOrgUnitSelection"`
	DisablePeriodSelection          bool          `yaml:"disablePeriodSelection" json:"disablePeriodSelection"`
	IncludeEnrollmentWithoutService bool          `yaml:"includeEnrollmentWithoutService" json:"includeEnrollmentWithoutService"`
	EndDateSelection                bool          `yaml:"endDateSelection" json:"endDateSelection"`
}

// Column is one header of the rendered report table.
type Column struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// Columns returns the unique output columns in declared order.
func (c *ReportConfig) Columns() []Column {
	seen := map[string]bool{}
	var cols []Column
	for _, f := range c.DxConfigs {
		if seen[f.Name] {
			continue
		}
		seen[f.Name] = true
		cols = append(cols, Column{Key: f.Name, Label: f.Name})
	}
	return cols
}

// LoadConfig reads a single report definition from a YAML file.
func LoadConfig(path string) (*ReportConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report config %s: %w", path, err)
	}
	cfg := &ReportConfig{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse report config %s: %w", path, err)
	}
	if cfg.ID == "" {
		return nil, fmt.Errorf("report config %s: id is required", path)
	}
	if len(cfg.Programs) == 0 {
		return nil, fmt.Errorf("report config %s: at least one program is required", path)
	}
	return cfg, nil
}

// LoadConfigDir reads every .yml/.yaml report definition in dir, sorted by
// file name so the listing order is stable.
func LoadConfigDir(dir string) ([]*ReportConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read report config directory %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".yml") || strings.HasSuffix(name, ".yaml") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var configs []*ReportConfig
	for _, name := range names {
		cfg, err := LoadConfig(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}
