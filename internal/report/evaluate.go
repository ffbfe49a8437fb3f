package report

import (
	"strconv"
	"strings"
	"time"
)

// ReportRow is one flattened output record: column name to rendered value,
// plus the "id" key carrying the beneficiary id.
type ReportRow map[string]string

// evalContext carries everything the resolvers may read for one
// beneficiary. The output accumulator is explicit here rather than closed
// over, so resolvers that read previously computed columns do so visibly.
type evalContext struct {
	tei        string
	rows       []Row
	locations  []OrgUnit
	programs   []Program
	completion map[string]CompletionEvaluator
	notAgyw    bool
	now        time.Time
}

// resolver computes one field's raw value from a beneficiary's rows.
type resolver func(ctx *evalContext, f FieldConfig) string

// resolvers is the full rule registry: one entry per reserved computed
// field id, plus the two provider data elements that resolve through the
// last-service rule. Fields whose id is absent here fall through to the
// combined-value or literal-dimension lookup.
var resolvers = map[string]resolver{
	FieldTotalServices: func(ctx *evalContext, _ FieldConfig) string {
		seen := map[string]bool{}
		for _, r := range ctx.rows {
			if psi, ok := r[keyPSI]; ok {
				seen[psi] = true
			}
		}
		return strconv.Itoa(len(seen))
	},

	lastServiceProviderID: func(ctx *evalContext, f FieldConfig) string {
		service := lastServiceRow(ctx.rows, f.ProgramStage)
		if service == nil {
			return ""
		}
		if v := service[lastServiceProviderID]; v != "" {
			return v
		}
		return service[enrolledServiceProviderID]
	},

	lastIPProvideServiceID: func(ctx *evalContext, f FieldConfig) string {
		service := lastServiceRow(ctx.rows, f.ProgramStage)
		if service == nil {
			return ""
		}
		if v := service[lastIPProvideServiceID]; v != "" {
			return v
		}
		return service[enrolledIPID]
	},

	FieldCompletedPrimaryPackage:    completionResolver(FieldCompletedPrimaryPackage),
	FieldCompletedSecondaryPackage:  completionResolver(FieldCompletedSecondaryPackage),
	FieldCompletedPrimaryAtLeastSec: completionResolver(FieldCompletedPrimaryAtLeastSec),

	FieldDistrictOfResidence: func(ctx *evalContext, _ FieldConfig) string {
		return locationNameAtLevel(ctx.locations, districtLevel, firstOrgUnit(ctx.rows))
	},

	FieldCouncilOfResidence: func(ctx *evalContext, _ FieldConfig) string {
		return locationNameAtLevel(ctx.locations, communityCouncilLevel, firstOrgUnit(ctx.rows))
	},

	FieldEligibleForPrep: func(ctx *evalContext, f FieldConfig) string {
		return eligibleForPrep(ctx.rows, f.IDs)
	},

	FieldScreenedForPrep: func(ctx *evalContext, f FieldConfig) string {
		if screenedForPrep(ctx.rows, f.IDs) {
			return "Yes"
		}
		return "No"
	},

	FieldPrepBeneficiaryStatus: func(ctx *evalContext, _ FieldConfig) string {
		return prepBeneficiaryStatus(ctx.rows)
	},

	FieldAssessmentDate: func(ctx *evalContext, _ FieldConfig) string {
		return strings.SplitN(assessmentDate(ctx.rows), " ", 2)[0]
	},

	FieldAssessmentConducted: func(ctx *evalContext, _ FieldConfig) string {
		if assessmentDate(ctx.rows) == "" {
			return "No"
		}
		return "Yes"
	},

	FieldHIVRiskResult: func(ctx *evalContext, f FieldConfig) string {
		return hivRiskResult(ctx.rows, f.IDs)
	},

	FieldBeneficiaryAge: func(ctx *evalContext, f FieldConfig) string {
		if age, ok := resolveAge(ctx, f); ok {
			return strconv.Itoa(age)
		}
		return ""
	},

	FieldBeneficiaryAgeRange: func(ctx *evalContext, f FieldConfig) string {
		if age, ok := resolveAge(ctx, f); ok {
			return ageRange(age)
		}
		return ""
	},

	FieldBeneficiaryAgeRanges: func(ctx *evalContext, f FieldConfig) string {
		if age, ok := resolveAge(ctx, f); ok {
			return ageRanges(age)
		}
		return ""
	},

	FieldHouseholdID: func(ctx *evalContext, _ FieldConfig) string {
		return householdID(ctx.rows)
	},

	FieldBeneficiaryType: func(ctx *evalContext, _ FieldConfig) string {
		return beneficiaryType(ctx.rows, ctx.programs)
	},

	FieldPrepFromLongForm: func(ctx *evalContext, f FieldConfig) string {
		return longFormPrepValue(ctx.rows, f.IDs, f.ProgramStage)
	},

	FieldServiceProvided: func(ctx *evalContext, f FieldConfig) string {
		if lastServiceRow(ctx.rows, f.ProgramStage) != nil {
			return "Yes"
		}
		return ""
	},

	FieldLastServiceCouncil: func(ctx *evalContext, f FieldConfig) string {
		service := lastServiceRow(ctx.rows, f.ProgramStage)
		if service == nil {
			return ""
		}
		return locationNameAtLevel(ctx.locations, communityCouncilLevel, service[keyOrgUnit])
	},

	FieldFacilityName: func(ctx *evalContext, _ FieldConfig) string {
		return locationNameAtLevel(ctx.locations, facilityLevel, firstOrgUnit(ctx.rows))
	},

	FieldDistrictOfService: func(ctx *evalContext, _ FieldConfig) string {
		return locationNameAtLevel(ctx.locations, districtLevel, firstOrgUnit(ctx.rows))
	},

	FieldServiceFromReferral: func(ctx *evalContext, f FieldConfig) string {
		return serviceFromReferral(ctx.rows, f.ProgramStage, f.Codes)
	},

	FieldDateOfLastService: lastServiceDateResolver,
	FieldDateCasePlan:      lastServiceDateResolver,

	FieldIsAgywBeneficiary: func(ctx *evalContext, _ FieldConfig) string {
		if ctx.notAgyw {
			return "No"
		}
		return "Yes"
	},
}

func completionResolver(id string) resolver {
	return func(ctx *evalContext, f FieldConfig) string {
		evaluate, ok := ctx.completion[id]
		if !ok {
			return ""
		}
		return evaluate(ctx.rows, f.ProgramStages)
	}
}

func lastServiceDateResolver(ctx *evalContext, f FieldConfig) string {
	service := lastServiceRow(ctx.rows, f.ProgramStage)
	if service == nil {
		return ""
	}
	return service[keyEventDate]
}

// resolveAge derives the date of birth from the fixed reference attributes
// and computes the whole-year age.
func resolveAge(ctx *evalContext, f FieldConfig) (int, bool) {
	dob := valueFromRows(ctx.rows, dateOfBirthReferenceIDs, f.ProgramStage)
	if dob == "" {
		return 0, false
	}
	age := beneficiaryAge(dob, ctx.now)
	if age < 0 {
		return 0, false
	}
	return age, true
}

// resolveField selects and runs the rule for one field: the registry for
// reserved ids (and the two provider elements), the combined-value match
// when configured, otherwise the literal dimension lookup.
func resolveField(ctx *evalContext, f FieldConfig) string {
	if r, ok := resolvers[f.ID]; ok {
		return r(ctx, f)
	}
	if len(f.IDs) > 0 && f.CombinedValues != nil {
		return combinedValue(ctx.rows, f.IDs, f.CombinedValues, f.ProgramStage)
	}
	return literalValue(ctx.rows, f)
}

// combinedValue emits the configured display value when, on any single row
// of the stage, every referenced id equals its required value.
func combinedValue(rows []Row, ids []string, combined *CombinedValues, stage string) string {
	required := make(map[string]string, len(combined.DataValues))
	for _, dv := range combined.DataValues {
		required[dv.ID] = dv.Value
	}

	for _, r := range rows {
		if r[keyProgramStage] != stage {
			continue
		}
		matched := true
		for _, id := range ids {
			want, ok := required[id]
			if !ok || want == "" || r[id] != want {
				matched = false
				break
			}
		}
		if matched {
			return combined.DisplayValue
		}
	}
	return ""
}

// literalValue locates the first row carrying the field's dimension id
// (restricted to the configured stage, and to the configured code set when
// one is present) and returns its value.
func literalValue(rows []Row, f FieldConfig) string {
	if f.ID == "" {
		return ""
	}
	for _, r := range rows {
		if !r.Has(f.ID) {
			continue
		}
		if len(f.Codes) > 0 && !containsString(f.Codes, r[f.ID]) {
			continue
		}
		if f.ProgramStage != "" {
			if r[keyProgramStage] == "" || r[keyProgramStage] != f.ProgramStage {
				continue
			}
		}
		return r[f.ID]
	}
	return ""
}

// FormattedData projects the fetched row set into final report rows: group
// by beneficiary, evaluate every field in declared order, sanitize values,
// run the provider post-processing pass and deduplicate by beneficiary id.
// It is a pure projection of Data and may be called repeatedly.
func (m *Model) FormattedData(locations []OrgUnit) []ReportRow {
	groups := map[string][]Row{}
	var order []string
	for _, r := range m.data {
		tei := r[keyTEI]
		if _, ok := groups[tei]; !ok {
			order = append(order, tei)
		}
		groups[tei] = append(groups[tei], r)
	}

	seen := map[string]bool{}
	var out []ReportRow
	for _, tei := range order {
		if seen[tei] {
			continue
		}
		seen[tei] = true
		row := m.evaluateBeneficiary(tei, groups[tei], locations)
		out = append(out, postProcessProviderFields(row))
	}
	return out
}

// evaluateBeneficiary computes one beneficiary's report row. Before a
// field writes its column, a previously written non-empty value under the
// same name wins and the new computation is discarded (first-writer-wins).
func (m *Model) evaluateBeneficiary(tei string, rows []Row, locations []OrgUnit) ReportRow {
	ctx := &evalContext{
		tei:        tei,
		rows:       rows,
		locations:  locations,
		programs:   m.metadata,
		completion: m.completion,
		notAgyw:    isNotAgywBeneficiary(rows),
		now:        time.Now().UTC(),
	}

	out := ReportRow{}
	for _, f := range m.cfg.DxConfigs {
		if f.ID == FieldFollowingUpVisit {
			for key, date := range followingUpVisits(rows) {
				out[key] = date
			}
			continue
		}

		value := resolveField(ctx, f)
		if prev, ok := out[f.Name]; ok && prev != "" {
			value = prev
		}
		if value != "" {
			out[f.Name] = sanitizeReportValue(value, f, rows, ctx.notAgyw)
		} else {
			out[f.Name] = sanitizeDisplayValue(value, f.DisplayValues, ctx.notAgyw)
		}
	}
	out["id"] = tei
	return out
}

// Provider columns rewritten by the post-processing pass.
const (
	colEnrolledServiceProvider = "Enrolled Service Provider"
	colEnrolledIP              = "Enrolled IP"
	colEnrolledSubIP           = "Enrolled Sub IP"
	colLastServiceProvider     = "Last Service Provider"
	colLastIPProvideService    = "Last IP provide service"
)

// postProcessProviderFields rewrites provider values written by the bulk
// upload automation account to the fixed marker and blanks the dependent
// IP columns.
func postProcessProviderFields(row ReportRow) ReportRow {
	if row[colEnrolledServiceProvider] == automationSentinel {
		row[colEnrolledServiceProvider] = uploadedMarker
		row[colEnrolledIP] = ""
		if _, ok := row[colEnrolledSubIP]; ok {
			row[colEnrolledSubIP] = ""
		}
	}
	if row[colLastServiceProvider] == automationSentinel {
		row[colLastServiceProvider] = uploadedMarker
		row[colLastIPProvideService] = ""
	}
	return row
}
