// -----------------------------------------------------------------------
// Report Normalizer - reconciles provider report output with local
// analysis into the canonical persisted report shape
// -----------------------------------------------------------------------

package reports

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scrutor/internal/common"
	"github.com/ternarybob/scrutor/internal/models"
	"github.com/ternarybob/scrutor/internal/services/analyzer"
	"github.com/ternarybob/scrutor/internal/services/llm"
)

// kpiSynonyms maps each canonical KPI key to the provider spellings it
// absorbs, in priority order. The canonical name leads its own list so
// normalization is a no-op on already-normalized input.
var kpiSynonyms = map[string][]string{
	"total_amount": {
		"total_amount",
		"total",
		"total_amount_reported",
		"revenue_total",
		"total_amount_per_file",
		"sum",
		"amount_total",
	},
	"transaction_count": {
		"transaction_count",
		"count",
		"transactions",
		"transaction_total",
		"num_transactions",
		"rows",
	},
	"average_transaction_value": {
		"average_transaction_value",
		"avg",
		"avg_transaction_value",
		"mean_transaction_value",
		"average_value",
	},
}

// kpiAliases maps canonical keys to the UI alias keys derived from them.
// Aliases never overwrite a value that already exists.
var kpiAliases = map[string][]string{
	"total_amount":              {"revenue_total", "total_amount_reported", "total_revenue"},
	"transaction_count":         {"total_transactions", "num_transactions"},
	"average_transaction_value": {"average_transaction_amount", "avg_transaction_value"},
}

// localAliases mirrors canonical local totals to the short keys the UI reads
var localAliases = map[string]string{
	"revenue_total":  "revenue",
	"expenses_total": "expenses",
	"ebitda_total":   "ebitda",
}

// Normalizer builds the canonical report object from provider output
// and local analysis. Merge is idempotent: re-running it over its own
// output produces the same report, which lets read paths re-derive
// canonical form from legacy persisted payloads.
type Normalizer struct {
	logger arbor.ILogger
}

// NewNormalizer creates a new report normalizer
func NewNormalizer(logger arbor.ILogger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Merge reconciles a provider report object with local analysis output.
// Local numeric KPIs are authoritative for canonical totals; the local
// value is additionally recorded under a "{key}_local" shadow key.
// Red flags are combined with duplicates collapsed by id, then title,
// then structural equality, augmenting evidence-less duplicates.
func (n *Normalizer) Merge(
	jobID string,
	reportObj map[string]interface{},
	analysisObj map[string]interface{},
	local *analyzer.Result,
	files []string,
	createdAt string,
	completedAt string,
) (*models.Report, *models.Analysis) {
	if reportObj == nil {
		reportObj = map[string]interface{}{}
	}

	kpis := normalizeKPIs(reportObj)
	flags := decodeRedFlags(reportObj["redFlags"])

	if local != nil {
		for k, v := range local.KPIs {
			if num, ok := coerceNumber(v); ok {
				kpis[k] = num
				kpis[k+"_local"] = num
			} else {
				kpis[k] = v
			}
		}
		flags = mergeRedFlags(flags, local.RedFlags)
	}

	for canonical, alias := range localAliases {
		if v, ok := kpis[canonical]; ok {
			kpis[alias] = v
		}
	}

	// Close the synonym/alias graph to a fixed point so a second merge
	// over this output cannot introduce new keys
	completeCanonicalKeys(kpis)

	now := time.Now().UTC().Format(time.RFC3339)
	if createdAt == "" {
		createdAt = stringOr(reportObj["createdAt"], now)
	}
	if completedAt == "" {
		completedAt = stringOr(reportObj["completedAt"], now)
	}
	if len(files) == 0 {
		files = toStringSlice(reportObj["files"])
	}

	report := &models.Report{
		RunID:       stringOr(reportObj["runId"], jobID),
		CreatedAt:   stringOr(reportObj["createdAt"], createdAt),
		CompletedAt: stringOr(reportObj["completedAt"], completedAt),
		Summary:     stringOr(reportObj["summary"], ""),
		KPIs:        kpis,
		RedFlags:    flags,
		Trends:      decodeTrends(reportObj["trends"]),
		Files:       files,
	}
	if report.RunID == "" {
		report.RunID = jobID
	}

	analysis := n.buildAnalysis(jobID, analysisObj, report.CreatedAt)
	return report, analysis
}

// Canonicalize re-derives a canonical report from a raw persisted
// provider payload. Running it over an already-canonical JSON report is
// a no-op apart from timestamps it fills when absent.
func (n *Normalizer) Canonicalize(jobID, payload string) (*models.Report, *models.Analysis, error) {
	result := llm.ParseProviderOutput(payload)
	if len(result.Report) == 0 {
		return nil, nil, fmt.Errorf("no report object recoverable from payload for job %s", jobID)
	}
	report, analysis := n.Merge(jobID, result.Report, result.Analysis, nil, nil, "", "")
	return report, analysis, nil
}

func (n *Normalizer) buildAnalysis(jobID string, analysisObj map[string]interface{}, createdAt string) *models.Analysis {
	if analysisObj == nil {
		return nil
	}

	analysis := &models.Analysis{
		AnalysisID:  stringOr(analysisObj["analysisId"], ""),
		ReportRunID: jobID,
		CreatedAt:   stringOr(analysisObj["createdAt"], createdAt),
	}
	if analysis.AnalysisID == "" {
		analysis.AnalysisID = common.NewAnalysisID()
	}

	if sections, ok := analysisObj["sections"].([]interface{}); ok {
		for _, s := range sections {
			m, ok := s.(map[string]interface{})
			if !ok {
				continue
			}
			analysis.Sections = append(analysis.Sections, models.AnalysisSection{
				Title:   stringOr(m["title"], ""),
				Content: stringOr(m["content"], ""),
			})
		}
	}
	if insights, ok := analysisObj["insights"].([]interface{}); ok {
		for _, i := range insights {
			analysis.Insights = append(analysis.Insights, stringOr(i, fmt.Sprintf("%v", i)))
		}
	}
	return analysis
}

// normalizeKPIs collapses provider synonym keys into canonical KPI names,
// coercing currency-formatted strings to numbers, then derives UI alias
// keys. Keys inside the kpis object that map to nothing are kept verbatim.
// Top-level scalars on the report are scanned for synonyms only, so that
// envelope fields like runId never leak into the KPI map.
func normalizeKPIs(reportObj map[string]interface{}) map[string]interface{} {
	source := map[string]interface{}{}
	if nested, ok := reportObj["kpis"].(map[string]interface{}); ok {
		for k, v := range nested {
			source[k] = v
		}
	}

	topLevel := map[string]interface{}{}
	for k, v := range reportObj {
		switch v.(type) {
		case map[string]interface{}, []interface{}:
		default:
			if _, exists := source[k]; !exists {
				topLevel[k] = v
			}
		}
	}

	out := map[string]interface{}{}
	for canonical, names := range kpiSynonyms {
		for _, name := range names {
			v, ok := source[name]
			if !ok {
				v, ok = topLevel[name]
			}
			if !ok || v == nil {
				continue
			}
			if num, coerced := coerceNumber(v); coerced {
				out[canonical] = num
				break
			}
		}
	}

	for k, v := range source {
		if _, exists := out[k]; !exists {
			out[k] = v
		}
	}

	for canonical, aliases := range kpiAliases {
		v, ok := out[canonical]
		if !ok {
			continue
		}
		for _, alias := range aliases {
			if _, exists := out[alias]; !exists {
				out[alias] = v
			}
		}
	}

	return out
}

// completeCanonicalKeys back-fills any canonical key whose synonym is
// present and then derives missing aliases, never overwriting
func completeCanonicalKeys(kpis map[string]interface{}) {
	for canonical, names := range kpiSynonyms {
		if _, ok := kpis[canonical]; ok {
			continue
		}
		for _, name := range names {
			v, ok := kpis[name]
			if !ok || v == nil {
				continue
			}
			if num, coerced := coerceNumber(v); coerced {
				kpis[canonical] = num
				break
			}
		}
	}
	for canonical, aliases := range kpiAliases {
		v, ok := kpis[canonical]
		if !ok {
			continue
		}
		for _, alias := range aliases {
			if _, exists := kpis[alias]; !exists {
				kpis[alias] = v
			}
		}
	}
}

// mergeRedFlags appends incoming flags, collapsing duplicates and
// filling missing evidence from the duplicate
func mergeRedFlags(existing []models.RedFlag, incoming []models.RedFlag) []models.RedFlag {
	merged := make([]models.RedFlag, len(existing))
	copy(merged, existing)

	for _, flag := range incoming {
		key := flagKey(&flag)
		found := false
		for i := range merged {
			if flagKey(&merged[i]) == key {
				found = true
				if len(merged[i].Evidence) == 0 && len(flag.Evidence) > 0 {
					merged[i].Evidence = flag.Evidence
				}
				break
			}
		}
		if !found {
			merged = append(merged, flag)
		}
	}
	return merged
}

// flagKey returns id, else title, else the full structural encoding
func flagKey(flag *models.RedFlag) string {
	if k := flag.Key(); k != "" {
		return k
	}
	encoded, err := json.Marshal(flag)
	if err != nil {
		return fmt.Sprintf("%v", *flag)
	}
	return string(encoded)
}

func decodeRedFlags(v interface{}) []models.RedFlag {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	var flags []models.RedFlag
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		flag := models.RedFlag{
			ID:          stringOr(m["id"], ""),
			Title:       stringOr(m["title"], ""),
			Severity:    stringOr(m["severity"], ""),
			Description: stringOr(m["description"], ""),
		}
		if evidence, ok := m["evidence"].([]interface{}); ok {
			for _, e := range evidence {
				em, ok := e.(map[string]interface{})
				if !ok {
					continue
				}
				flag.Evidence = append(flag.Evidence, models.Evidence{
					Doc:     stringOr(em["doc"], ""),
					Snippet: stringOr(em["snippet"], ""),
				})
			}
		}
		flags = append(flags, flag)
	}
	return flags
}

func decodeTrends(v interface{}) []models.Trend {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	var trends []models.Trend
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		trends = append(trends, models.Trend{
			Title:       stringOr(m["title"], ""),
			Description: stringOr(m["description"], ""),
		})
	}
	return trends
}

// coerceNumber converts numbers and currency-formatted strings like
// "$1,234.56" to float64
func coerceNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		var b strings.Builder
		for _, r := range n {
			if (r >= '0' && r <= '9') || r == '-' || r == '.' {
				b.WriteRune(r)
			}
		}
		cleaned := b.String()
		if cleaned == "" || cleaned == "-" || cleaned == "." {
			return 0, false
		}
		f, err := strconv.ParseFloat(cleaned, 64)
		return f, err == nil
	}
	return 0, false
}

func stringOr(v interface{}, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}

func toStringSlice(v interface{}) []string {
	switch items := v.(type) {
	case []string:
		return items
	case []interface{}:
		out := make([]string, 0, len(items))
		for _, item := range items {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	}
	return nil
}
