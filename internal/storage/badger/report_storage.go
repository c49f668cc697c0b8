package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scrutor/internal/interfaces"
	"github.com/ternarybob/scrutor/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// rawPayload captures provider responses that resisted JSON extraction,
// kept for later inspection
type rawPayload struct {
	RunID     string    `badgerhold:"key"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"createdAt"`
}

// ReportStorage implements the ReportStorage interface for Badger
type ReportStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewReportStorage creates a new ReportStorage instance
func NewReportStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ReportStorage {
	return &ReportStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ReportStorage) SaveReport(ctx context.Context, report *models.Report) error {
	if report.RunID == "" {
		return fmt.Errorf("report run ID is required")
	}

	if err := s.db.Store().Upsert(report.RunID, report); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

func (s *ReportStorage) GetReport(ctx context.Context, runID string) (*models.Report, error) {
	var report models.Report
	if err := s.db.Store().Get(runID, &report); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrReportNotFound
		}
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return &report, nil
}

func (s *ReportStorage) DeleteReport(ctx context.Context, runID string) error {
	if err := s.db.Store().Delete(runID, &models.Report{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrReportNotFound
		}
		return fmt.Errorf("failed to delete report: %w", err)
	}
	// Companion records go with the report, missing ones are not an error
	if err := s.db.Store().Delete(runID, &rawPayload{}); err != nil && err != badgerhold.ErrNotFound {
		s.logger.Warn().Err(err).Str("run_id", runID).Msg("Failed to delete raw payload")
	}
	var analyses []models.Analysis
	if err := s.db.Store().Find(&analyses, badgerhold.Where("ReportRunID").Eq(runID)); err == nil {
		for i := range analyses {
			if err := s.db.Store().Delete(analyses[i].AnalysisID, &models.Analysis{}); err != nil && err != badgerhold.ErrNotFound {
				s.logger.Warn().Err(err).Str("analysis_id", analyses[i].AnalysisID).Msg("Failed to delete analysis")
			}
		}
	}
	return nil
}

func (s *ReportStorage) SaveAnalysis(ctx context.Context, analysis *models.Analysis) error {
	if analysis.AnalysisID == "" {
		return fmt.Errorf("analysis ID is required")
	}

	if err := s.db.Store().Upsert(analysis.AnalysisID, analysis); err != nil {
		return fmt.Errorf("failed to save analysis: %w", err)
	}
	return nil
}

func (s *ReportStorage) GetAnalysis(ctx context.Context, analysisID string) (*models.Analysis, error) {
	var analysis models.Analysis
	if err := s.db.Store().Get(analysisID, &analysis); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrAnalysisNotFound
		}
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}
	return &analysis, nil
}

func (s *ReportStorage) GetAnalysisByRun(ctx context.Context, runID string) (*models.Analysis, error) {
	var analyses []models.Analysis
	if err := s.db.Store().Find(&analyses, badgerhold.Where("ReportRunID").Eq(runID).SortBy("CreatedAt").Reverse().Limit(1)); err != nil {
		return nil, fmt.Errorf("failed to find analysis: %w", err)
	}
	if len(analyses) == 0 {
		return nil, interfaces.ErrAnalysisNotFound
	}
	return &analyses[0], nil
}

func (s *ReportStorage) SaveRawPayload(ctx context.Context, runID string, payload []byte) error {
	if runID == "" {
		return fmt.Errorf("run ID is required")
	}

	record := &rawPayload{
		RunID:     runID,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.Store().Upsert(runID, record); err != nil {
		return fmt.Errorf("failed to save raw payload: %w", err)
	}
	return nil
}

func (s *ReportStorage) GetRawPayload(ctx context.Context, runID string) ([]byte, error) {
	var record rawPayload
	if err := s.db.Store().Get(runID, &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrReportNotFound
		}
		return nil, fmt.Errorf("failed to get raw payload: %w", err)
	}
	return record.Payload, nil
}
