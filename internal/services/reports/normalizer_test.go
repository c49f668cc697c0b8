package reports

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scrutor/internal/models"
	"github.com/ternarybob/scrutor/internal/services/analyzer"
)

func newNormalizer() *Normalizer {
	return NewNormalizer(arbor.NewLogger())
}

func TestMergeMapsSynonymsAndCoercesCurrency(t *testing.T) {
	reportObj := map[string]interface{}{
		"runId": "job-1",
		"kpis": map[string]interface{}{
			"total":       "$1,234.56",
			"count":       "42",
			"avg":         10.5,
			"custom_note": "keep me",
		},
	}

	report, _ := newNormalizer().Merge("job-1", reportObj, nil, nil, nil, "", "")

	assert.Equal(t, 1234.56, report.KPIs["total_amount"])
	assert.Equal(t, 42.0, report.KPIs["transaction_count"])
	assert.Equal(t, 10.5, report.KPIs["average_transaction_value"])
	assert.Equal(t, "keep me", report.KPIs["custom_note"])
}

func TestMergeDerivesAliasesWithoutOverwriting(t *testing.T) {
	reportObj := map[string]interface{}{
		"kpis": map[string]interface{}{
			"total_amount":  100.0,
			"revenue_total": 999.0,
		},
	}

	report, _ := newNormalizer().Merge("job-1", reportObj, nil, nil, nil, "", "")

	assert.Equal(t, 999.0, report.KPIs["revenue_total"])
	assert.Equal(t, 100.0, report.KPIs["total_amount_reported"])
	assert.Equal(t, 100.0, report.KPIs["total_revenue"])
}

func TestMergeScansTopLevelScalarsForSynonyms(t *testing.T) {
	reportObj := map[string]interface{}{
		"runId":   "job-1",
		"summary": "quarterly numbers",
		"total":   "$500",
	}

	report, _ := newNormalizer().Merge("job-1", reportObj, nil, nil, nil, "", "")

	assert.Equal(t, 500.0, report.KPIs["total_amount"])
	// Envelope fields never leak into the KPI map
	_, hasRunID := report.KPIs["runId"]
	assert.False(t, hasRunID)
	_, hasSummary := report.KPIs["summary"]
	assert.False(t, hasSummary)
}

func TestMergeLocalKPIsAreAuthoritativeWithShadows(t *testing.T) {
	reportObj := map[string]interface{}{
		"kpis": map[string]interface{}{
			"revenue_total": 1.0,
		},
	}
	local := &analyzer.Result{
		KPIs: map[string]interface{}{
			"revenue_total":  300.0,
			"expenses_total": 120.0,
			"ebitda_total":   180.0,
		},
	}

	report, _ := newNormalizer().Merge("job-1", reportObj, nil, local, nil, "", "")

	assert.Equal(t, 300.0, report.KPIs["revenue_total"])
	assert.Equal(t, 300.0, report.KPIs["revenue_total_local"])
	assert.Equal(t, 120.0, report.KPIs["expenses_total"])
	assert.Equal(t, 180.0, report.KPIs["ebitda_total"])
	assert.Equal(t, 300.0, report.KPIs["revenue"])
	assert.Equal(t, 120.0, report.KPIs["expenses"])
	assert.Equal(t, 180.0, report.KPIs["ebitda"])
}

func TestMergeDeduplicatesRedFlagsByID(t *testing.T) {
	reportObj := map[string]interface{}{
		"redFlags": []interface{}{
			map[string]interface{}{
				"id":          "negatives_a.csv",
				"title":       "Negative amounts",
				"severity":    "high",
				"description": "provider wording",
			},
		},
	}
	local := &analyzer.Result{
		RedFlags: []models.RedFlag{
			{
				ID:          "negatives_a.csv",
				Title:       "Negative values detected in a.csv",
				Severity:    models.SeverityHigh,
				Description: "local wording",
				Evidence:    []models.Evidence{{Doc: "a.csv", Snippet: "-50"}},
			},
			{
				ID:       "outliers_a.csv",
				Title:    "Potential outliers in a.csv",
				Severity: models.SeverityLow,
			},
		},
	}

	report, _ := newNormalizer().Merge("job-1", reportObj, nil, local, nil, "", "")

	require.Len(t, report.RedFlags, 2)
	// Duplicate collapsed onto the provider flag, evidence filled in
	assert.Equal(t, "Negative amounts", report.RedFlags[0].Title)
	require.Len(t, report.RedFlags[0].Evidence, 1)
	assert.Equal(t, "a.csv", report.RedFlags[0].Evidence[0].Doc)
	assert.Equal(t, "outliers_a.csv", report.RedFlags[1].ID)
}

func TestMergeDeduplicatesRedFlagsByTitleWhenNoID(t *testing.T) {
	reportObj := map[string]interface{}{
		"redFlags": []interface{}{
			map[string]interface{}{"title": "Large outflow", "severity": "high"},
		},
	}
	local := &analyzer.Result{
		RedFlags: []models.RedFlag{
			{Title: "Large outflow", Severity: models.SeverityHigh},
		},
	}

	report, _ := newNormalizer().Merge("job-1", reportObj, nil, local, nil, "", "")
	assert.Len(t, report.RedFlags, 1)
}

func TestMergeFillsDefaults(t *testing.T) {
	report, _ := newNormalizer().Merge("job-9", map[string]interface{}{}, nil, nil, []string{"a.csv"}, "", "")

	assert.Equal(t, "job-9", report.RunID)
	assert.Equal(t, []string{"a.csv"}, report.Files)
	assert.NotEmpty(t, report.CreatedAt)
	assert.NotEmpty(t, report.CompletedAt)
}

func TestMergeIsIdempotent(t *testing.T) {
	reportObj := map[string]interface{}{
		"runId":   "job-1",
		"summary": "first pass",
		"kpis": map[string]interface{}{
			"total": "$100",
		},
		"redFlags": []interface{}{
			map[string]interface{}{"id": "rf-1", "title": "Anomaly", "severity": "low"},
		},
		"trends": []interface{}{
			map[string]interface{}{"title": "Revenue change 2026-01 -> 2026-02", "description": "5.0%"},
		},
	}
	local := &analyzer.Result{
		KPIs: map[string]interface{}{
			"revenue_total":  300.0,
			"expenses_total": 120.0,
		},
		RedFlags: []models.RedFlag{
			{ID: "rf-1", Title: "Anomaly", Severity: models.SeverityLow},
		},
	}

	n := newNormalizer()
	first, _ := n.Merge("job-1", reportObj, nil, local, []string{"a.csv"}, "", "")

	encoded, err := json.Marshal(first)
	require.NoError(t, err)
	var roundTripped map[string]interface{}
	require.NoError(t, json.Unmarshal(encoded, &roundTripped))

	second, _ := n.Merge("job-1", roundTripped, nil, local, []string{"a.csv"}, first.CreatedAt, first.CompletedAt)

	assert.Equal(t, first.KPIs, second.KPIs)
	assert.Equal(t, first.RedFlags, second.RedFlags)
	assert.Equal(t, first.Trends, second.Trends)
	assert.Equal(t, first.Files, second.Files)
	assert.Equal(t, first.RunID, second.RunID)
	assert.Equal(t, first.Summary, second.Summary)
}

func TestCanonicalizeUnwrapsEnvelopePayload(t *testing.T) {
	payload := `{"report":{"runId":"job-5","summary":"ok","kpis":{"total":"$5"}},"analysis":{"sections":[{"title":"s1","content":"c1"}],"insights":["watch overhead"]}}`

	report, analysis, err := newNormalizer().Canonicalize("job-5", payload)
	require.NoError(t, err)

	assert.Equal(t, "job-5", report.RunID)
	assert.Equal(t, 5.0, report.KPIs["total_amount"])
	require.NotNil(t, analysis)
	assert.Equal(t, "job-5", analysis.ReportRunID)
	require.Len(t, analysis.Sections, 1)
	assert.Equal(t, "s1", analysis.Sections[0].Title)
	assert.Equal(t, []string{"watch overhead"}, analysis.Insights)
}

func TestCanonicalizeIsStableOnCanonicalInput(t *testing.T) {
	n := newNormalizer()
	first, _, err := n.Canonicalize("job-5", `{"report":{"runId":"job-5","kpis":{"total":200}},"analysis":null}`)
	require.NoError(t, err)

	encoded, err := json.Marshal(first)
	require.NoError(t, err)

	second, _, err := n.Canonicalize("job-5", string(encoded))
	require.NoError(t, err)

	assert.Equal(t, first.KPIs, second.KPIs)
	assert.Equal(t, first.RunID, second.RunID)
}
