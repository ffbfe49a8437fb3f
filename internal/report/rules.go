package report

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// truthyValues are the raw values the prep rules accept as an affirmative
// answer.
var truthyValues = map[string]bool{"Yes": true, "true": true, "1": true}

// lastServiceRow returns the most-recent-by-event-date row, optionally
// restricted to one program stage. Rows without an event date are ignored.
// The zero-length row means no service was found.
func lastServiceRow(rows []Row, stage string) Row {
	var candidates []Row
	for _, r := range rows {
		if stage != "" && r[keyProgramStage] != stage {
			continue
		}
		if !r.Has(keyEventDate) {
			continue
		}
		candidates = append(candidates, r)
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i][keyEventDate] < candidates[j][keyEventDate]
	})
	return candidates[len(candidates)-1]
}

// valueFromRows returns the last non-empty value any of the given ids
// carries across the beneficiary's rows, considering rows without a stage,
// rows in the given stage, or every row when stage is empty.
func valueFromRows(rows []Row, ids []string, stage string) string {
	value := ""
	for _, r := range rows {
		if rowStage := r[keyProgramStage]; rowStage != "" && rowStage != stage && stage != "" {
			continue
		}
		for _, id := range ids {
			if v, ok := r[id]; ok && v != "" {
				value = v
			}
		}
	}
	return value
}

// assessmentDate returns the most recent event date among the case-plan
// stages, taking the later stage in the fixed list when both have data.
func assessmentDate(rows []Row) string {
	date := ""
	for _, stage := range casePlanStageIDs {
		if service := lastServiceRow(rows, stage); service != nil {
			if d := service[keyEventDate]; d != "" {
				date = d
			}
		}
	}
	return date
}

// eligibleForPrep requires every configured id to be affirmative on every
// row that defines it. One non-affirmative value permanently disqualifies
// the id; rows that do not carry the id leave it intact.
func eligibleForPrep(rows []Row, ids []string) string {
	for _, id := range ids {
		for _, r := range rows {
			if v, ok := r[id]; ok && !truthyValues[v] {
				return "No"
			}
		}
	}
	return "Yes"
}

// screenedForPrep reports whether any row carries a non-empty value for any
// of the configured ids.
func screenedForPrep(rows []Row, ids []string) bool {
	for _, r := range rows {
		for _, id := range ids {
			if v, ok := r[id]; ok && strings.TrimSpace(v) != "" {
				return true
			}
		}
	}
	return false
}

// prepVisitRows filters the rows belonging to the prep-visit stages.
func prepVisitRows(rows []Row) []Row {
	var visits []Row
	for _, r := range rows {
		if containsString(prepVisitStageIDs, r[keyProgramStage]) {
			visits = append(visits, r)
		}
	}
	return visits
}

// prepBeneficiaryStatus buckets the beneficiary by prep-visit count:
// exactly one visit is a new client, more is a continuing one.
func prepBeneficiaryStatus(rows []Row) string {
	switch visits := len(prepVisitRows(rows)); {
	case visits == 1:
		return "PrEP New"
	case visits > 1:
		return "PrEP Continue"
	default:
		return ""
	}
}

// followingUpVisits expands the beneficiary's prep-visit rows into dated
// "Follow up Visit N" keys, most recent first.
func followingUpVisits(rows []Row) map[string]string {
	visits := prepVisitRows(rows)
	sort.SliceStable(visits, func(i, j int) bool {
		return visits[i][keyEventDate] < visits[j][keyEventDate]
	})

	out := map[string]string{}
	index := 0
	for i := len(visits) - 1; i >= 0; i-- {
		index++
		out[FollowUpVisitKey+" "+strconv.Itoa(index)] = FormattedDate(visits[i][keyEventDate])
	}
	return out
}

// longFormPrepValue checks a single stage row against the configured field
// list: every field must equal "1". A missing row or field yields "0".
func longFormPrepValue(rows []Row, fields []string, stage string) string {
	var stageRow Row
	for _, r := range rows {
		if r[keyProgramStage] != "" && r[keyProgramStage] == stage {
			stageRow = r
			break
		}
	}
	if stageRow == nil {
		return "0"
	}
	for _, field := range fields {
		if v, ok := stageRow[field]; !ok || v != "1" {
			return "0"
		}
	}
	return "1"
}

// hivRiskResult ORs the fixed date-of-birth reference fields across the
// configured reference stages: any affirmative value means high risk, any
// other non-empty value means low risk.
func hivRiskResult(rows []Row, referenceIDs []string) string {
	risk := ""
	for _, referenceID := range referenceIDs {
		value := strings.ToLower(valueFromRows(rows, dateOfBirthReferenceIDs, referenceID))
		switch {
		case value == "yes" || value == "1" || value == "true":
			risk = "High risk"
		case value != "" && risk != "High risk":
			risk = "Low risk"
		}
	}
	return risk
}

// serviceFromReferral reports whether the stage's row records a provided
// service whose community or facility referral value is in the configured
// code set.
func serviceFromReferral(rows []Row, stage string, codes []string) string {
	var stageRow Row
	for _, r := range rows {
		if r[keyProgramStage] != "" && r[keyProgramStage] == stage {
			stageRow = r
			break
		}
	}
	if stageRow == nil {
		return "No"
	}
	if stageRow[serviceProvidedFlagID] != "1" {
		return "No"
	}
	for _, referralField := range []string{communityServiceID, facilityServiceID} {
		if containsString(codes, stageRow[referralField]) {
			return "Yes"
		}
	}
	return "No"
}

// householdID returns the first non-empty secondary-UIC value with its
// trailing member suffix stripped.
func householdID(rows []Row) string {
	code := ""
	for _, r := range rows {
		if v := r[householdUICID]; v != "" {
			code = v
			break
		}
	}
	if code == "" {
		return ""
	}
	runes := []rune(code)
	return string(runes[:len(runes)-1])
}

// beneficiaryType maps the beneficiary's program, resolved via its first
// observed stage, to a caregiver/child classification. An unresolved
// program falls back to a rule based solely on the primary-child flag.
func beneficiaryType(rows []Row, programs []Program) string {
	var firstStage string
	for _, r := range rows {
		if stage := r[keyProgramStage]; stage != "" {
			firstStage = stage
			break
		}
	}

	programID := ""
	if firstStage != "" {
		for _, p := range programs {
			if p.HasStage(firstStage) {
				programID = p.ID
			}
		}
	}

	primaryChild := strings.ToLower(valueFromRows(rows, []string{primaryChildCheckID}, ""))
	isPrimaryChild := primaryChild == "true" || primaryChild == "1"

	switch programID {
	case caregiverProgramID:
		return "Caregiver"
	case ovcProgramID:
		if isPrimaryChild {
			return "Primary Child"
		}
		return "Child"
	case "":
		if primaryChild == "" {
			return "Caregiver"
		}
		if isPrimaryChild {
			return "Primary Child"
		}
		return "Child"
	}
	return ""
}

// isNotAgywBeneficiary reports whether any of the beneficiary's rows lives
// in a stage outside the AGYW participation set.
func isNotAgywBeneficiary(rows []Row) bool {
	for _, r := range rows {
		stage := r[keyProgramStage]
		if containsString(nonAgywParticipationStageIDs, stage) ||
			containsString(nonAgywBeneficiaryStageIDs, stage) {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Age computation
// ---------------------------------------------------------------------------

// beneficiaryAge computes the whole-year age for a date of birth, in UTC.
// Returns -1 when the date cannot be parsed.
func beneficiaryAge(dob string, now time.Time) int {
	birth, ok := parseDate(dob)
	if !ok {
		return -1
	}
	now = now.UTC()
	years := now.Year() - birth.Year()
	if now.Month() < birth.Month() ||
		(now.Month() == birth.Month() && now.Day() < birth.Day()) {
		years--
	}
	if years < 0 {
		return -1
	}
	return years
}

// ageRange buckets an age into the two-tier minor/adult split.
func ageRange(age int) string {
	if age < 18 {
		return "0-17"
	}
	return "18+"
}

// ageRanges buckets an age into the fine-grained reporting bands. Infants
// under one year fall outside every band and yield an empty value.
func ageRanges(age int) string {
	switch {
	case age < 1:
		return ""
	case age < 5:
		return "1-4"
	case age < 10:
		return "5-9"
	case age < 15:
		return "10-14"
	case age < 18:
		return "15-17"
	case age < 21:
		return "18-20"
	default:
		return "20+"
	}
}

// ---------------------------------------------------------------------------
// Location resolution
// ---------------------------------------------------------------------------

// firstOrgUnit returns the beneficiary's first observed org-unit id.
func firstOrgUnit(rows []Row) string {
	for _, r := range rows {
		if ou := r[keyOrgUnit]; ou != "" {
			return ou
		}
	}
	return ""
}

// locationNameAtLevel resolves an org-unit id to its own name when it sits
// at the requested level, or to the name of its ancestor at that level.
func locationNameAtLevel(locations []OrgUnit, level int, orgUnitID string) string {
	var location *OrgUnit
	for i := range locations {
		if locations[i].ID == orgUnitID {
			location = &locations[i]
			break
		}
	}
	if location == nil {
		return ""
	}
	if location.Level == level {
		return location.Name
	}
	for _, ancestor := range location.Ancestors {
		if ancestor.Level == level {
			return ancestor.Name
		}
	}
	return ""
}

// ---------------------------------------------------------------------------
// Small helpers
// ---------------------------------------------------------------------------

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
