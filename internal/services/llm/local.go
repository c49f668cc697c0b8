package llm

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scrutor/internal/common"
)

// LocalGenerator produces a deterministic report directly from the
// uploaded files, with no network calls. It is both the fallback for
// provider failures and the primary path when no provider is configured.
type LocalGenerator struct {
	uploadsDir string
	logger     arbor.ILogger
}

// NewLocalGenerator creates a new local report generator
func NewLocalGenerator(uploadsDir string, logger arbor.ILogger) *LocalGenerator {
	return &LocalGenerator{
		uploadsDir: uploadsDir,
		logger:     logger,
	}
}

var amountHeaderRegex = regexp.MustCompile(`(?i)amount|amt|value|total|price`)
var dateHeaderRegex = regexp.MustCompile(`(?i)date`)

// Generate builds {report, analysis} for the job from its files.
// Positive amounts accumulate into revenue and negative into expenses,
// monthly buckets drive month-over-month trend lines, and any single
// outflow above 100000 raises a high severity red flag.
func (g *LocalGenerator) Generate(jobID string, files []string) *GenerationResult {
	now := time.Now().UTC().Format(time.RFC3339)

	report := map[string]interface{}{
		"runId":       jobID,
		"createdAt":   now,
		"completedAt": now,
		"summary":     fmt.Sprintf("Report for job %s", jobID),
		"kpis":        map[string]interface{}{},
		"redFlags":    []interface{}{},
		"trends":      []interface{}{},
		"files":       files,
	}
	analysis := map[string]interface{}{
		"analysisId":  common.NewAnalysisID(),
		"reportRunId": jobID,
		"createdAt":   now,
		"sections":    []interface{}{},
		"insights":    []interface{}{},
	}

	kpis := report["kpis"].(map[string]interface{})
	var redFlags, trends, sections, insights []interface{}
	var revenueTotal float64

	for _, f := range files {
		text, err := g.readFile(f)
		if err != nil {
			redFlags = append(redFlags, map[string]interface{}{
				"id":          common.NewJobID(),
				"title":       "File read error",
				"severity":    "medium",
				"description": fmt.Sprintf("Could not read file %s: %v", f, err),
			})
			continue
		}

		if !strings.Contains(text, ",") {
			snippet := text
			if len(snippet) > 1000 {
				snippet = snippet[:1000]
			}
			sections = append(sections, map[string]interface{}{
				"title":   fmt.Sprintf("File %s text", f),
				"content": "Text snippet: " + snippet,
			})
			continue
		}

		headers, rows := parseLocalCSV(text)
		amountKey := pickColumn(headers, amountHeaderRegex)
		dateKey := pickColumn(headers, dateHeaderRegex)

		var revenue, expenses float64
		monthly := map[string]*monthBucket{}

		for _, row := range rows {
			amount := parseLocalAmount(row[amountKey])
			if amount >= 0 {
				revenue += amount
			} else {
				expenses += -amount
			}

			if dateKey != "" && row[dateKey] != "" {
				if month, ok := monthOf(row[dateKey]); ok {
					bucket := monthly[month]
					if bucket == nil {
						bucket = &monthBucket{}
						monthly[month] = bucket
					}
					if amount >= 0 {
						bucket.revenue += amount
					} else {
						bucket.expenses += -amount
					}
				}
			}

			if amount < 0 && -amount > 100000 {
				redFlags = append(redFlags, map[string]interface{}{
					"id":          common.NewJobID(),
					"title":       "Large outflow",
					"severity":    "high",
					"description": fmt.Sprintf("Large negative transaction %g in file %s", amount, f),
				})
			}
		}

		revenueTotal += revenue
		ebitda := revenue - expenses
		kpis["revenue_"+f] = fmt.Sprintf("$%.2f", revenue)
		kpis["expenses_"+f] = fmt.Sprintf("$%.2f", expenses)
		kpis["revenue_total"] = fmt.Sprintf("$%.2f", revenueTotal)
		kpis["ebitda"] = fmt.Sprintf("$%.2f", ebitda)

		trends = append(trends, monthlyTrends(monthly)...)

		sections = append(sections, map[string]interface{}{
			"title":   fmt.Sprintf("File %s extraction", f),
			"content": fmt.Sprintf("Detected %d rows with headers: %s.", len(rows), strings.Join(headers, ", ")),
		})
		insights = append(insights, fmt.Sprintf(
			"Total revenue %v, total expenses %v, ebitda %v.",
			kpis["revenue_"+f], kpis["expenses_"+f], kpis["ebitda"],
		))
	}

	summaryRevenue := "N/A"
	if v, ok := kpis["revenue_total"]; ok {
		summaryRevenue = fmt.Sprintf("%v", v)
	}
	summaryEbitda := "N/A"
	if v, ok := kpis["ebitda"]; ok {
		summaryEbitda = fmt.Sprintf("%v", v)
	}
	report["summary"] = fmt.Sprintf("Generated deterministic report for job %s: revenue %s, ebitda %s", jobID, summaryRevenue, summaryEbitda)

	report["redFlags"] = redFlags
	report["trends"] = trends
	analysis["sections"] = sections
	analysis["insights"] = insights

	return &GenerationResult{
		Report:   report,
		Analysis: analysis,
		Raw:      "",
	}
}

type monthBucket struct {
	revenue  float64
	expenses float64
}

func (g *LocalGenerator) readFile(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(g.uploadsDir, name))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// parseLocalCSV returns header names and rows as column-name keyed maps
func parseLocalCSV(text string) ([]string, []map[string]string) {
	var lines []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, strings.TrimSpace(line))
		}
	}
	if len(lines) == 0 {
		return nil, nil
	}

	headers := strings.Split(lines[0], ",")
	for i := range headers {
		headers[i] = strings.TrimSpace(headers[i])
	}

	rows := make([]map[string]string, 0, len(lines)-1)
	for _, line := range lines[1:] {
		cells := strings.Split(line, ",")
		row := make(map[string]string, len(headers))
		for i, h := range headers {
			if i < len(cells) {
				row[h] = strings.TrimSpace(cells[i])
			} else {
				row[h] = ""
			}
		}
		rows = append(rows, row)
	}
	return headers, rows
}

// pickColumn returns the first header matching the pattern, falling back
// to the first header for amount-style lookups
func pickColumn(headers []string, pattern *regexp.Regexp) string {
	for _, h := range headers {
		if pattern.MatchString(h) {
			return h
		}
	}
	if pattern == amountHeaderRegex && len(headers) > 0 {
		return headers[0]
	}
	return ""
}

func parseLocalAmount(v string) float64 {
	var b strings.Builder
	for _, r := range v {
		if (r >= '0' && r <= '9') || r == '-' || r == '.' {
			b.WriteRune(r)
		}
	}
	n, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0
	}
	return n
}

func monthOf(raw string) (string, bool) {
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006/01/02", "01/02/2006"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC().Format("2006-01"), true
		}
	}
	return "", false
}

// monthlyTrends emits month-over-month revenue change lines in month order
func monthlyTrends(monthly map[string]*monthBucket) []interface{} {
	months := make([]string, 0, len(monthly))
	for m := range monthly {
		months = append(months, m)
	}
	sort.Strings(months)

	var trends []interface{}
	for i := 1; i < len(months); i++ {
		prev := monthly[months[i-1]].revenue
		cur := monthly[months[i]].revenue
		var pct float64
		if prev == 0 {
			if cur != 0 {
				pct = 100
			}
		} else {
			pct = (cur - prev) / abs(prev) * 100
		}
		trends = append(trends, map[string]interface{}{
			"title":       fmt.Sprintf("Revenue change %s -> %s", months[i-1], months[i]),
			"description": fmt.Sprintf("%.1f%%", pct),
		})
	}
	return trends
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
