package report

// Row is one sanitized analytics record (event or enrollment) keyed by
// dimension id, plus the injected tei and, for events, programStage keys.
// A key is present only when the upstream response carried a matching
// header column.
type Row map[string]string

// Has reports whether the row carries the given dimension.
func (r Row) Has(key string) bool {
	_, ok := r[key]
	return ok
}

// Reserved analytics row keys.
const (
	keyTEI          = "tei"
	keyPSI          = "psi"
	keyOrgUnit      = "ou"
	keyEventDate    = "eventdate"
	keyProgramStage = "programStage"
)

// defaultAnalyticsKeys are the standard columns every event/enrollment
// analytics response may carry; they are always extracted when present.
var defaultAnalyticsKeys = []string{
	keyPSI,
	"ps",
	keyTEI,
	"pi",
	keyEventDate,
	"enrollmentdate",
	"incidentdate",
	keyOrgUnit,
	"ouname",
	"programstatus",
	"eventstatus",
	"longitude",
	"latitude",
	"lastupdated",
}

// Header describes one column of a columnar analytics response.
type Header struct {
	Name string `json:"name"`
}

// Pager is the pagination block of an analytics response.
type Pager struct {
	Page      int `json:"page"`
	PageCount int `json:"pageCount"`
	Total     int `json:"total"`
	PageSize  int `json:"pageSize"`
}

// MetaData carries the pager and the dimension item listing of an
// analytics response.
type MetaData struct {
	Pager      *Pager              `json:"pager,omitempty"`
	Dimensions map[string][]string `json:"dimensions,omitempty"`
}

// AnalyticsResponse is the fixed columnar encoding analytics queries
// return: one header per column and one string slice per record.
type AnalyticsResponse struct {
	Headers  []Header   `json:"headers"`
	MetaData *MetaData  `json:"metaData,omitempty"`
	Rows     [][]string `json:"rows"`
}

// AnalyticsQuery describes one fetchable analytics request, for events
// (Stage set) or enrollments (Stage empty).
type AnalyticsQuery struct {
	Program   string
	Stage     string
	Dx        []string
	OrgUnits  []string
	Periods   []string
	StartDate string
	EndDate   string
	Page      int
	PageSize  int
	SkipData  bool
	SkipMeta  bool
}

// SanitizeAnalyticsData converts a columnar analytics response into keyed
// rows. The extracted keys are the default analytics columns plus every
// dimension listed in the response metadata except the organisation-unit
// and period dimensions (and the org-unit items themselves). stage, when
// non-empty, is injected into every row as the programStage key. A key
// whose header is missing from the response is simply absent from the row.
func SanitizeAnalyticsData(resp *AnalyticsResponse, stage string) []Row {
	if resp == nil {
		return nil
	}

	keys := append([]string{}, defaultAnalyticsKeys...)
	if resp.MetaData != nil {
		ouItems := map[string]bool{}
		for _, item := range resp.MetaData.Dimensions[keyOrgUnit] {
			ouItems[item] = true
		}
		for dim := range resp.MetaData.Dimensions {
			if dim == keyOrgUnit || dim == "pe" || ouItems[dim] {
				continue
			}
			keys = append(keys, dim)
		}
	}

	index := make(map[string]int, len(resp.Headers))
	for i, h := range resp.Headers {
		if _, ok := index[h.Name]; !ok {
			index[h.Name] = i
		}
	}

	rows := make([]Row, 0, len(resp.Rows))
	for _, raw := range resp.Rows {
		row := Row{}
		if stage != "" {
			row[keyProgramStage] = stage
		}
		for _, key := range keys {
			if i, ok := index[key]; ok && i < len(raw) {
				row[key] = raw[i]
			}
		}
		rows = append(rows, row)
	}
	return rows
}
