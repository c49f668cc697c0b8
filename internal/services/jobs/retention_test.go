package jobs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scrutor/internal/common"
	"github.com/ternarybob/scrutor/internal/interfaces"
	"github.com/ternarybob/scrutor/internal/models"
	"github.com/ternarybob/scrutor/internal/services/search"
)

func newRetentionFixture(t *testing.T) (*Retention, *memJobs, *memReports, *memDocuments) {
	t.Helper()

	cfg := common.NewDefaultConfig()
	cfg.Retention.Enabled = true
	cfg.Retention.MaxAge = "720h"
	cfg.Storage.Uploads = t.TempDir()

	jobsStore := newMemJobs()
	reportsStore := newMemReports()
	docs := &memDocuments{}
	manager := &memManager{jobs: jobsStore, reports: reportsStore, documents: docs}
	searchSvc := search.NewService(docs, &cfg.Search, arbor.NewLogger())

	r := NewRetention(cfg, manager, searchSvc, arbor.NewLogger())
	return r, jobsStore, reportsStore, docs
}

func agedJob(jobID string, status models.JobStatus, age time.Duration, files ...string) *models.Job {
	job := models.NewJob(jobID, files)
	job.Status = status
	job.CreatedAt = time.Now().Add(-age)
	return job
}

func TestRetentionSweepRemovesExpiredTerminalJobs(t *testing.T) {
	r, jobsStore, reportsStore, docs := newRetentionFixture(t)
	ctx := context.Background()

	stored := "1-abc-old.csv"
	uploadPath := filepath.Join(r.config.Storage.Uploads, stored)
	require.NoError(t, os.WriteFile(uploadPath, []byte("date,amount\n"), 0o644))

	require.NoError(t, jobsStore.CreateJob(ctx, agedJob("job-old", models.JobStatusCompleted, 31*24*time.Hour, stored)))
	require.NoError(t, reportsStore.SaveReport(ctx, &models.Report{RunID: "job-old"}))

	removed, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = jobsStore.GetJob(ctx, "job-old")
	assert.ErrorIs(t, err, interfaces.ErrJobNotFound)
	_, err = reportsStore.GetReport(ctx, "job-old")
	assert.ErrorIs(t, err, interfaces.ErrReportNotFound)
	assert.Contains(t, docs.deleted, "job-old")
	_, err = os.Stat(uploadPath)
	assert.True(t, os.IsNotExist(err))
}

func TestRetentionSweepKeepsRecentAndRunningJobs(t *testing.T) {
	r, jobsStore, _, _ := newRetentionFixture(t)
	ctx := context.Background()

	require.NoError(t, jobsStore.CreateJob(ctx, agedJob("job-recent", models.JobStatusCompleted, time.Hour)))
	require.NoError(t, jobsStore.CreateJob(ctx, agedJob("job-running", models.JobStatusProcessing, 60*24*time.Hour)))

	removed, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	_, err = jobsStore.GetJob(ctx, "job-recent")
	assert.NoError(t, err)
	_, err = jobsStore.GetJob(ctx, "job-running")
	assert.NoError(t, err)
}

func TestRetentionSweepToleratesMissingArtifacts(t *testing.T) {
	r, jobsStore, _, _ := newRetentionFixture(t)
	ctx := context.Background()

	// Failed job with no report, no chunks and an upload that was
	// already removed by hand.
	require.NoError(t, jobsStore.CreateJob(ctx, agedJob("job-bare", models.JobStatusFailed, 45*24*time.Hour, "gone.csv")))

	removed, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestRetentionStartDisabledIsNoop(t *testing.T) {
	r, _, _, _ := newRetentionFixture(t)
	r.config.Retention.Enabled = false

	require.NoError(t, r.Start())
	assert.Nil(t, r.cron)
	r.Stop()
}

func TestRetentionStartRejectsBadSchedule(t *testing.T) {
	r, _, _, _ := newRetentionFixture(t)
	r.config.Retention.Schedule = "not a schedule"

	err := r.Start()
	require.Error(t, err)
}
