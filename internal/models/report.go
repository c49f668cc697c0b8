// -----------------------------------------------------------------------
// Report / Analysis - canonical persisted artifacts for a completed job
// -----------------------------------------------------------------------

package models

// Severity levels for red flags.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// Evidence links a finding to a source document with an optional snippet.
type Evidence struct {
	Doc     string `json:"doc"`
	Snippet string `json:"snippet,omitempty"`
}

// RedFlag is a structured risk or anomaly finding. Flags are deduplicated
// by ID, falling back to Title, then structural equality.
type RedFlag struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Severity    string     `json:"severity"`
	Description string     `json:"description"`
	Evidence    []Evidence `json:"evidence,omitempty"`
}

// Key returns the dedupe key for the flag: ID, else Title.
// Callers fall back to structural comparison when both are empty.
func (r *RedFlag) Key() string {
	if r.ID != "" {
		return r.ID
	}
	return r.Title
}

// Trend is a named observation over time, e.g. month-over-month revenue.
type Trend struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Report is the canonical, alias-populated report object and the single
// persisted source of truth for a job's findings. KPI values are numeric
// where coercible, otherwise the provider's original string.
type Report struct {
	RunID       string                 `json:"runId" badgerhold:"key"`
	CreatedAt   string                 `json:"createdAt"`
	CompletedAt string                 `json:"completedAt"`
	Summary     string                 `json:"summary"`
	KPIs        map[string]interface{} `json:"kpis"`
	RedFlags    []RedFlag              `json:"redFlags"`
	Trends      []Trend                `json:"trends"`
	Files       []string               `json:"files"`
}

// AnalysisSection is one titled block of narrative analysis.
type AnalysisSection struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Analysis holds the narrative companion to a report.
type Analysis struct {
	AnalysisID  string            `json:"analysisId" badgerhold:"key"`
	ReportRunID string            `json:"reportRunId"`
	CreatedAt   string            `json:"createdAt"`
	Sections    []AnalysisSection `json:"sections"`
	Insights    []string          `json:"insights"`
}
