package report

import (
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// dateParseLayouts are the formats event dates and attribute dates arrive
// in, in likelihood order.
var dateParseLayouts = []string{
	dateLayout,
	"2006-01-02 15:04:05.0",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.000",
	time.RFC3339,
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateParseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormattedDate normalizes a raw date value to YYYY-MM-DD. Unparseable
// input defensively formats today instead of failing the report.
func FormattedDate(value string) string {
	t, ok := parseDate(value)
	if !ok {
		t = time.Now()
	}
	return t.Format(dateLayout)
}

// sanitizeReportValue normalizes a non-empty resolved value against the
// field's expected shape: code membership and session-count validation
// first, then boolean and date normalization, then display-name
// substitution.
func sanitizeReportValue(value string, f FieldConfig, rows []Row, skipDisplayName bool) string {
	displayNames := make([]string, 0, len(f.DisplayValues)+2)
	for _, dv := range f.DisplayValues {
		displayNames = append(displayNames, dv.DisplayName)
	}
	displayNames = append(displayNames, "Yes", "1")

	requiresSessionValidation := false
	for _, code := range f.Codes {
		if _, ok := sessionTotals[code]; ok {
			requiresSessionValidation = true
			break
		}
	}
	isCurriculumPair := isCurriculumCombination(f.Codes)

	sanitized := ""
	switch {
	case len(f.Codes) > 0 && !requiresSessionValidation && !isCurriculumPair:
		if containsString(f.Codes, value) || containsString(displayNames, value) {
			sanitized = "Yes"
		}
	case requiresSessionValidation || isCurriculumPair:
		sanitized = sessionCompletionForCodes(rows, f.ProgramStage, f.Codes)
	case f.IsBoolean:
		if containsString(displayNames, value) {
			sanitized = "Yes"
		}
	case f.IsDate:
		sanitized = FormattedDate(value)
	default:
		sanitized = value
	}

	if len(f.DisplayValues) > 0 {
		return sanitizeDisplayValue(sanitized, f.DisplayValues, skipDisplayName)
	}
	return sanitized
}

// sanitizeDisplayValue substitutes the configured display name for a value,
// matched case-insensitively. Substitution is skipped for non-AGYW
// beneficiaries, whose reports keep raw values.
func sanitizeDisplayValue(value string, displayValues []DisplayValue, skip bool) string {
	if skip {
		return value
	}
	for _, dv := range displayValues {
		if strings.EqualFold(dv.Value, value) {
			return dv.DisplayName
		}
	}
	return value
}
