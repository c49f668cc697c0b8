// -----------------------------------------------------------------------
// Retention - scheduled cleanup of old terminal jobs and their artifacts
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scrutor/internal/common"
	"github.com/ternarybob/scrutor/internal/interfaces"
)

// Retention sweeps terminal jobs older than the configured window,
// cascading to their reports, indexed chunks and uploaded files.
// Running jobs are never touched.
type Retention struct {
	config  *common.Config
	jobs    interfaces.JobStorage
	reports interfaces.ReportStorage
	search  interfaces.SearchService
	logger  arbor.ILogger
	cron    *cron.Cron
	now     func() time.Time
}

// NewRetention creates a retention sweeper over the given storage
func NewRetention(config *common.Config, storage interfaces.StorageManager, searchSvc interfaces.SearchService, logger arbor.ILogger) *Retention {
	return &Retention{
		config:  config,
		jobs:    storage.JobStorage(),
		reports: storage.ReportStorage(),
		search:  searchSvc,
		logger:  logger,
		now:     time.Now,
	}
}

// Start schedules the sweep on the configured cron expression. The
// schedule uses the six-field format with a seconds column.
func (r *Retention) Start() error {
	if !r.config.Retention.Enabled {
		r.logger.Debug().Msg("Retention sweep disabled")
		return nil
	}

	c := cron.New(cron.WithSeconds())
	_, err := c.AddFunc(r.config.Retention.Schedule, func() {
		if _, err := r.Sweep(context.Background()); err != nil {
			r.logger.Warn().Err(err).Msg("Retention sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule retention sweep: %w", err)
	}

	c.Start()
	r.cron = c

	r.logger.Info().
		Str("schedule", r.config.Retention.Schedule).
		Str("max_age", r.config.Retention.MaxAge).
		Msg("Retention sweep scheduled")
	return nil
}

// Stop halts the scheduler. Safe to call when Start was never called.
func (r *Retention) Stop() {
	if r.cron != nil {
		r.cron.Stop()
	}
}

// Sweep removes terminal jobs created before the retention cutoff along
// with their reports, chunk indexes and uploaded files. Returns the
// number of jobs removed. Artifact cleanup failures are logged and do
// not abort the sweep.
func (r *Retention) Sweep(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.config.RetentionMaxAge())

	all, err := r.jobs.ListJobs(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list jobs for retention sweep: %w", err)
	}

	for _, job := range all {
		if !job.IsTerminal() || !job.CreatedAt.Before(cutoff) {
			continue
		}
		r.removeArtifacts(ctx, job.JobID, job.Files)
	}

	removed, err := r.jobs.DeleteJobsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired jobs: %w", err)
	}

	if removed > 0 {
		r.logger.Info().
			Int("removed", removed).
			Str("cutoff", cutoff.UTC().Format(time.RFC3339)).
			Msg("Retention sweep removed expired jobs")
	}
	return removed, nil
}

func (r *Retention) removeArtifacts(ctx context.Context, jobID string, files []string) {
	if err := r.reports.DeleteReport(ctx, jobID); err != nil && !errors.Is(err, interfaces.ErrReportNotFound) {
		r.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to delete report during retention sweep")
	}
	if err := r.search.RemoveJob(ctx, jobID); err != nil {
		r.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to drop search index during retention sweep")
	}
	for _, name := range files {
		path := filepath.Join(r.config.Storage.Uploads, name)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			r.logger.Warn().Err(err).Str("file", path).Msg("Failed to remove uploaded file during retention sweep")
		}
	}
}
