package report

// ProgramStage is one repeatable event template within a program, together
// with the data elements it captures.
type ProgramStage struct {
	ID             string   `json:"id"`
	DataElementIDs []string `json:"dataElementIds"`
}

// HasDataElement reports whether the stage captures the given data element.
func (s ProgramStage) HasDataElement(id string) bool {
	for _, de := range s.DataElementIDs {
		if de == id {
			return true
		}
	}
	return false
}

// Program is the slice of tracker-program metadata the engine needs: the
// stage list and the tracked-entity attributes enrollments carry.
type Program struct {
	ID            string         `json:"id"`
	ProgramStages []ProgramStage `json:"programStages"`
	AttributeIDs  []string       `json:"attributeIds"`
}

// HasStage reports whether the program contains the given stage.
func (p Program) HasStage(stageID string) bool {
	for _, s := range p.ProgramStages {
		if s.ID == stageID {
			return true
		}
	}
	return false
}

// HasAttribute reports whether the program tracks the given attribute.
func (p Program) HasAttribute(attributeID string) bool {
	for _, a := range p.AttributeIDs {
		if a == attributeID {
			return true
		}
	}
	return false
}

// OrgUnitAncestor is one level of an organisation unit's lineage.
type OrgUnitAncestor struct {
	ID    string `json:"id"`
	Level int    `json:"level"`
	Name  string `json:"name"`
}

// OrgUnit is one node of the organisation-unit tree, with enough of its
// lineage to resolve the ancestor at any level.
type OrgUnit struct {
	ID        string            `json:"id"`
	Level     int               `json:"level"`
	Name      string            `json:"name"`
	Ancestors []OrgUnitAncestor `json:"ancestors"`
}

// Organisation-unit hierarchy levels used for location resolution.
const (
	districtLevel         = 2
	communityCouncilLevel = 3
	facilityLevel         = 4
)

// Reserved field ids. A FieldConfig whose id is one of these selects a
// computed resolution rule; reserved ids are never rendered into analytics
// query dimensions.
const (
	FieldTotalServices              = "total_services"
	FieldCompletedPrimaryPackage    = "completed_primary_package"
	FieldCompletedSecondaryPackage  = "completed_secondary_package"
	FieldCompletedPrimaryAtLeastSec = "completed_primary_package_and_atleast_secondary"
	FieldDistrictOfResidence        = "district_of_residence"
	FieldCouncilOfResidence         = "community_council_of_residence"
	FieldEligibleForPrep            = "is_eligible_for_prep"
	FieldScreenedForPrep            = "is_screened_for_prep"
	FieldPrepBeneficiaryStatus      = "prep_beneficairy_status"
	FieldAssessmentDate             = "assessmment_date"
	FieldAssessmentConducted        = "is_assemmenet_conducted"
	FieldHIVRiskResult              = "hiv_risk_assessment_result"
	FieldBeneficiaryAge             = "beneficiary_age"
	FieldBeneficiaryAgeRange        = "beneficiary_age_range"
	FieldBeneficiaryAgeRanges       = "beneficiary_age_ranges"
	FieldHouseholdID                = "household_id"
	FieldBeneficiaryType            = "beneficiary_type"
	FieldPrepFromLongForm           = "prep_from_long_form"
	FieldServiceProvided            = "is_service_provided"
	FieldLastServiceCouncil         = "last_service_community_council"
	FieldFacilityName               = "facility_name"
	FieldDistrictOfService          = "district_of_service"
	FieldServiceFromReferral        = "service_from_referral"
	FieldDateOfLastService          = "date_of_last_service_received"
	FieldDateCasePlan               = "date_case_plan"
	FieldIsAgywBeneficiary          = "isAgywBeneficiary"
	FieldFollowingUpVisit           = "following_up_visit"
)

// reservedFieldIDs is the full set of computed field ids excluded from
// fetchable data items.
var reservedFieldIDs = map[string]bool{
	FieldTotalServices:              true,
	FieldCompletedPrimaryPackage:    true,
	FieldCompletedSecondaryPackage:  true,
	FieldCompletedPrimaryAtLeastSec: true,
	FieldDistrictOfResidence:        true,
	FieldCouncilOfResidence:         true,
	FieldEligibleForPrep:            true,
	FieldScreenedForPrep:            true,
	FieldPrepBeneficiaryStatus:      true,
	FieldAssessmentDate:             true,
	FieldAssessmentConducted:        true,
	FieldHIVRiskResult:              true,
	FieldBeneficiaryAge:             true,
	FieldBeneficiaryAgeRange:        true,
	FieldBeneficiaryAgeRanges:       true,
	FieldHouseholdID:                true,
	FieldBeneficiaryType:            true,
	FieldPrepFromLongForm:           true,
	FieldServiceProvided:            true,
	FieldLastServiceCouncil:         true,
	FieldFacilityName:               true,
	FieldDistrictOfService:          true,
	FieldServiceFromReferral:        true,
	FieldDateOfLastService:          true,
	FieldDateCasePlan:               true,
	FieldIsAgywBeneficiary:          true,
	FieldFollowingUpVisit:           true,
}

// IsReservedFieldID reports whether id selects a computed rule rather than
// a fetchable analytics dimension.
func IsReservedFieldID(id string) bool {
	return reservedFieldIDs[id]
}

// Fixed metadata ids the resolution rules key on. These are data elements
// and attributes of the national OVC/DREAMS tracker configuration.
const (
	lastServiceProviderID     = "GsWaSx1t3Qs"
	lastIPProvideServiceID    = "lcyyWZnfQNJ"
	enrolledServiceProviderID = "DdnlE8kmIkT"
	enrolledIPID              = "klLkGxy328c"
	primaryChildCheckID       = "KO5NC4pfBmv"
	householdUICID            = "eIU7KMx4Tu3"
	communityServiceID        = "rsh5Kvx6qAU"
	facilityServiceID         = "OrC9Bh2bcFz"
	serviceProvidedFlagID     = "hXyqgOWZ17b"

	caregiverProgramID = "BNsDaCclOiu"
	ovcProgramID       = "em38qztTI8s"
)

var (
	// dateOfBirthReferenceIDs are the attributes a beneficiary's date of
	// birth may be recorded under, in lookup order.
	dateOfBirthReferenceIDs = []string{"qZP982qpSPS", "jVSwC6Ln95H"}

	prepVisitStageIDs            = []string{"nVCqxOg0nMQ", "Yn6AJ0CAxb2"}
	casePlanStageIDs             = []string{"gkNKXUxpyv9", "vjF07cZNST3"}
	nonAgywParticipationStageIDs = []string{"uctHRP6BBXP"}
	nonAgywBeneficiaryStageIDs   = []string{"Yn6AJ0CAxb2"}
)

// Post-processing sentinel: rows whose provider fields were written by the
// bulk-upload automation account are rewritten to a fixed marker.
const (
	automationSentinel = "scriptrunner"
	uploadedMarker     = "UPLOADED"
)

// FollowUpVisitKey prefixes the dated columns the following_up_visit rule
// expands into ("Follow up Visit 1", "Follow up Visit 2", ...).
const FollowUpVisitKey = "Follow up Visit"
