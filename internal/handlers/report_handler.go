// -----------------------------------------------------------------------
// Reports - canonical report reads with self-healing of legacy raw
// payloads, plus PDF and HTML export
// -----------------------------------------------------------------------

package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scrutor/internal/interfaces"
	"github.com/ternarybob/scrutor/internal/models"
	"github.com/ternarybob/scrutor/internal/services/reports"
	"github.com/yuin/goldmark"
)

// ReportHandler handles report and analysis read API requests
type ReportHandler struct {
	reports    interfaces.ReportStorage
	normalizer *reports.Normalizer
	logger     arbor.ILogger
}

// NewReportHandler creates a new report handler
func NewReportHandler(reportStorage interfaces.ReportStorage, normalizer *reports.Normalizer, logger arbor.ILogger) *ReportHandler {
	return &ReportHandler{
		reports:    reportStorage,
		normalizer: normalizer,
		logger:     logger,
	}
}

// GetReportHandler handles GET /api/reports/{id}. When no canonical
// report exists but a raw provider payload does, the payload is
// re-derived into canonical form and persisted back.
func (h *ReportHandler) GetReportHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobID := jobIDFromPath(r.URL.Path)
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "missing job id")
		return
	}

	report, err := h.loadReport(r, jobID)
	if err != nil {
		if errors.Is(err, interfaces.ErrReportNotFound) {
			WriteError(w, http.StatusNotFound, "report not found")
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to load report")
		WriteError(w, http.StatusInternalServerError, "failed to load report")
		return
	}

	WriteJSON(w, http.StatusOK, report)
}

// GetAnalysisHandler handles GET /api/analysis/{id}
func (h *ReportHandler) GetAnalysisHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobID := jobIDFromPath(r.URL.Path)
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "missing job id")
		return
	}

	analysis, err := h.reports.GetAnalysisByRun(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, interfaces.ErrAnalysisNotFound) {
			WriteError(w, http.StatusNotFound, "analysis not found")
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to load analysis")
		WriteError(w, http.StatusInternalServerError, "failed to load analysis")
		return
	}

	WriteJSON(w, http.StatusOK, analysis)
}

// PDFReportHandler handles GET /api/reports/{id}/pdf
func (h *ReportHandler) PDFReportHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobID := jobIDFromPath(strings.TrimSuffix(r.URL.Path, "/pdf"))
	report, err := h.loadReport(r, jobID)
	if err != nil {
		if errors.Is(err, interfaces.ErrReportNotFound) {
			WriteError(w, http.StatusNotFound, "report not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "failed to load report")
		return
	}

	pdf := buildReportPDF(report)
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=report_%s.pdf", jobID))
	if err := pdf.Output(w); err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to render PDF")
	}
}

// HTMLReportHandler handles GET /api/reports/{id}/html, rendering the
// report summary and analysis through goldmark
func (h *ReportHandler) HTMLReportHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobID := jobIDFromPath(strings.TrimSuffix(r.URL.Path, "/html"))
	report, err := h.loadReport(r, jobID)
	if err != nil {
		if errors.Is(err, interfaces.ErrReportNotFound) {
			WriteError(w, http.StatusNotFound, "report not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "failed to load report")
		return
	}

	analysis, analysisErr := h.reports.GetAnalysisByRun(r.Context(), jobID)
	if analysisErr != nil {
		analysis = nil
	}

	var html bytes.Buffer
	if err := goldmark.Convert([]byte(reportMarkdown(report, analysis)), &html); err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to render HTML")
		WriteError(w, http.StatusInternalServerError, "failed to render report")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(html.Bytes())
}

// loadReport returns the canonical report, re-deriving and persisting it
// from a stored raw payload when necessary
func (h *ReportHandler) loadReport(r *http.Request, jobID string) (*models.Report, error) {
	ctx := r.Context()

	report, err := h.reports.GetReport(ctx, jobID)
	if err == nil {
		return report, nil
	}
	if !errors.Is(err, interfaces.ErrReportNotFound) {
		return nil, err
	}

	payload, rawErr := h.reports.GetRawPayload(ctx, jobID)
	if rawErr != nil || len(payload) == 0 {
		return nil, interfaces.ErrReportNotFound
	}

	report, analysis, canonErr := h.normalizer.Canonicalize(jobID, string(payload))
	if canonErr != nil {
		h.logger.Warn().Err(canonErr).Str("job_id", jobID).Msg("Raw payload not recoverable as report")
		return nil, interfaces.ErrReportNotFound
	}

	// Persist the canonical form back so the next read skips re-derivation
	if err := h.reports.SaveReport(ctx, report); err != nil {
		h.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to persist canonicalized report")
	}
	if analysis != nil {
		if err := h.reports.SaveAnalysis(ctx, analysis); err != nil {
			h.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to persist canonicalized analysis")
		}
	}

	h.logger.Info().Str("job_id", jobID).Msg("Canonicalized legacy report payload")
	return report, nil
}

func buildReportPDF(report *models.Report) *fpdf.Fpdf {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, fmt.Sprintf("Due Diligence Report %s", report.RunID))
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 10)
	pdf.MultiCell(0, 5, report.Summary, "", "L", false)
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "KPIs")
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 9)
	for _, key := range sortedKPIKeys(report.KPIs) {
		pdf.CellFormat(90, 6, key, "1", 0, "L", false, 0, "")
		pdf.CellFormat(90, 6, fmt.Sprintf("%v", report.KPIs[key]), "1", 1, "R", false, 0, "")
	}
	pdf.Ln(4)

	if len(report.RedFlags) > 0 {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.Cell(0, 8, "Red Flags")
		pdf.Ln(8)
		pdf.SetFont("Helvetica", "", 9)
		for _, flag := range report.RedFlags {
			pdf.MultiCell(0, 5, fmt.Sprintf("[%s] %s: %s", strings.ToUpper(flag.Severity), flag.Title, flag.Description), "", "L", false)
			pdf.Ln(1)
		}
		pdf.Ln(3)
	}

	if len(report.Trends) > 0 {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.Cell(0, 8, "Trends")
		pdf.Ln(8)
		pdf.SetFont("Helvetica", "", 9)
		for _, trend := range report.Trends {
			pdf.MultiCell(0, 5, fmt.Sprintf("%s: %s", trend.Title, trend.Description), "", "L", false)
		}
	}

	return pdf
}

// reportMarkdown renders the report and analysis as markdown for the
// HTML view
func reportMarkdown(report *models.Report, analysis *models.Analysis) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Due Diligence Report %s\n\n", report.RunID)
	if report.Summary != "" {
		fmt.Fprintf(&b, "%s\n\n", report.Summary)
	}

	if len(report.KPIs) > 0 {
		b.WriteString("## KPIs\n\n")
		for _, key := range sortedKPIKeys(report.KPIs) {
			fmt.Fprintf(&b, "- **%s**: %v\n", key, report.KPIs[key])
		}
		b.WriteString("\n")
	}

	if len(report.RedFlags) > 0 {
		b.WriteString("## Red Flags\n\n")
		for _, flag := range report.RedFlags {
			fmt.Fprintf(&b, "- **%s** (%s): %s\n", flag.Title, flag.Severity, flag.Description)
		}
		b.WriteString("\n")
	}

	if len(report.Trends) > 0 {
		b.WriteString("## Trends\n\n")
		for _, trend := range report.Trends {
			fmt.Fprintf(&b, "- **%s**: %s\n", trend.Title, trend.Description)
		}
		b.WriteString("\n")
	}

	if analysis != nil {
		for _, section := range analysis.Sections {
			fmt.Fprintf(&b, "## %s\n\n%s\n\n", section.Title, section.Content)
		}
		if len(analysis.Insights) > 0 {
			b.WriteString("## Insights\n\n")
			for _, insight := range analysis.Insights {
				fmt.Fprintf(&b, "- %s\n", insight)
			}
		}
	}

	return b.String()
}

func sortedKPIKeys(kpis map[string]interface{}) []string {
	keys := make([]string, 0, len(kpis))
	for k := range kpis {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
