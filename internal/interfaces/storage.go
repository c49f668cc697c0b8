package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/scrutor/internal/models"
)

// Sentinel errors returned by storage implementations
var (
	ErrJobNotFound      = errors.New("job not found")
	ErrDuplicateJob     = errors.New("job already exists")
	ErrReportNotFound   = errors.New("report not found")
	ErrAnalysisNotFound = errors.New("analysis not found")
)

// JobStorage - interface for ingest job persistence
type JobStorage interface {
	// CreateJob stores a new job. Returns ErrDuplicateJob when a job
	// with the same ID already exists.
	CreateJob(ctx context.Context, job *models.Job) error
	UpdateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	ListJobs(ctx context.Context, limit int) ([]*models.Job, error)
	DeleteJob(ctx context.Context, jobID string) error

	// DeleteJobsBefore removes terminal jobs created before the cutoff.
	// Returns the number of jobs removed.
	DeleteJobsBefore(ctx context.Context, cutoff time.Time) (int, error)

	CountJobs(ctx context.Context) (int, error)
}

// ReportStorage - interface for generated report and analysis persistence
type ReportStorage interface {
	SaveReport(ctx context.Context, report *models.Report) error
	GetReport(ctx context.Context, runID string) (*models.Report, error)
	DeleteReport(ctx context.Context, runID string) error

	SaveAnalysis(ctx context.Context, analysis *models.Analysis) error
	GetAnalysis(ctx context.Context, analysisID string) (*models.Analysis, error)
	GetAnalysisByRun(ctx context.Context, runID string) (*models.Analysis, error)

	// Raw payload capture for provider responses that resisted extraction
	SaveRawPayload(ctx context.Context, runID string, payload []byte) error
	GetRawPayload(ctx context.Context, runID string) ([]byte, error)
}

// UsageStorage - interface for provider call accounting
type UsageStorage interface {
	// IncrementUsage bumps the call counter for a provider on the given
	// date and returns the updated record.
	IncrementUsage(ctx context.Context, provider, date string, tokens int) (*models.UsageRecord, error)
	GetUsage(ctx context.Context, provider, date string) (*models.UsageRecord, error)
}

// DocumentStorage - interface for indexed chunk persistence
type DocumentStorage interface {
	SaveChunks(ctx context.Context, chunks []*models.DocumentChunk) error
	GetChunksByJob(ctx context.Context, jobID string) ([]*models.DocumentChunk, error)
	DeleteChunksByJob(ctx context.Context, jobID string) error
	CountChunks(ctx context.Context) (int, error)
}

// StorageManager - composite interface for all storage operations
type StorageManager interface {
	JobStorage() JobStorage
	ReportStorage() ReportStorage
	UsageStorage() UsageStorage
	DocumentStorage() DocumentStorage
	Close() error
}
