package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/scrutor/internal/interfaces"
	"github.com/ternarybob/scrutor/internal/models"
)

type memJobs struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: map[string]*models.Job{}}
}

func (m *memJobs) CreateJob(ctx context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.JobID]; ok {
		return interfaces.ErrDuplicateJob
	}
	copied := *job
	m.jobs[job.JobID] = &copied
	return nil
}

func (m *memJobs) UpdateJob(ctx context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *job
	m.jobs[job.JobID] = &copied
	return nil
}

func (m *memJobs) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, interfaces.ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

func (m *memJobs) ListJobs(ctx context.Context, limit int) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Job
	for _, job := range m.jobs {
		copied := *job
		out = append(out, &copied)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memJobs) DeleteJob(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, jobID)
	return nil
}

func (m *memJobs) DeleteJobsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}

func (m *memJobs) CountJobs(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs), nil
}

type memReports struct {
	mu       sync.Mutex
	reports  map[string]*models.Report
	analyses map[string]*models.Analysis
	raw      map[string][]byte
}

func newMemReports() *memReports {
	return &memReports{
		reports:  map[string]*models.Report{},
		analyses: map[string]*models.Analysis{},
		raw:      map[string][]byte{},
	}
}

func (m *memReports) SaveReport(ctx context.Context, report *models.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[report.RunID] = report
	return nil
}

func (m *memReports) GetReport(ctx context.Context, runID string) (*models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	report, ok := m.reports[runID]
	if !ok {
		return nil, interfaces.ErrReportNotFound
	}
	return report, nil
}

func (m *memReports) DeleteReport(ctx context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reports, runID)
	return nil
}

func (m *memReports) SaveAnalysis(ctx context.Context, analysis *models.Analysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analyses[analysis.AnalysisID] = analysis
	return nil
}

func (m *memReports) GetAnalysis(ctx context.Context, analysisID string) (*models.Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	analysis, ok := m.analyses[analysisID]
	if !ok {
		return nil, interfaces.ErrAnalysisNotFound
	}
	return analysis, nil
}

func (m *memReports) GetAnalysisByRun(ctx context.Context, runID string) (*models.Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.analyses {
		if a.ReportRunID == runID {
			return a, nil
		}
	}
	return nil, interfaces.ErrAnalysisNotFound
}

func (m *memReports) SaveRawPayload(ctx context.Context, runID string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raw[runID] = payload
	return nil
}

func (m *memReports) GetRawPayload(ctx context.Context, runID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.raw[runID], nil
}

type fakeStarter struct {
	mu      sync.Mutex
	started []string
}

func (f *fakeStarter) Start(ctx context.Context, jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, jobID)
}

func (f *fakeStarter) startedJobs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...)
}
