package report

import "testing"

func TestSanitizeAnalyticsData_MapsHeadersToKeys(t *testing.T) {
	resp := &AnalyticsResponse{
		Headers: []Header{{Name: "psi"}, {Name: "tei"}, {Name: "eventdate"}, {Name: "de1"}},
		MetaData: &MetaData{
			Dimensions: map[string][]string{
				"de1": {},
				"ou":  {"ouA"},
				"pe":  {"2024"},
				"ouA": {},
			},
		},
		Rows: [][]string{
			{"evt1", "ben1", "2024-03-01", "Yes"},
			{"evt2", "ben2", "2024-03-02", "No"},
		},
	}

	rows := SanitizeAnalyticsData(resp, "stageA")
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	first := rows[0]
	if first[keyProgramStage] != "stageA" {
		t.Errorf("expected injected programStage, got %q", first[keyProgramStage])
	}
	if first[keyTEI] != "ben1" || first["de1"] != "Yes" || first[keyEventDate] != "2024-03-01" {
		t.Errorf("unexpected row values: %v", first)
	}
	if first.Has("ouA") {
		t.Error("org-unit dimension items must not become row keys")
	}
}

func TestSanitizeAnalyticsData_MissingHeaderOmitsKey(t *testing.T) {
	resp := &AnalyticsResponse{
		Headers: []Header{{Name: "tei"}},
		MetaData: &MetaData{
			Dimensions: map[string][]string{"de9": {}},
		},
		Rows: [][]string{{"ben1"}},
	}

	rows := SanitizeAnalyticsData(resp, "")
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].Has("de9") {
		t.Error("expected key without a header column to be absent")
	}
	if rows[0].Has(keyProgramStage) {
		t.Error("enrollment rows must not carry a programStage key")
	}
}

func TestSanitizeAnalyticsData_NilResponse(t *testing.T) {
	if rows := SanitizeAnalyticsData(nil, "stageA"); rows != nil {
		t.Errorf("expected nil rows for nil response, got %v", rows)
	}
}
