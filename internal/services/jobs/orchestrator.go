// -----------------------------------------------------------------------
// Job Orchestrator - drives a job from pending through analysis and
// report generation to a terminal state
// -----------------------------------------------------------------------

package jobs

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scrutor/internal/common"
	"github.com/ternarybob/scrutor/internal/interfaces"
	"github.com/ternarybob/scrutor/internal/models"
	"github.com/ternarybob/scrutor/internal/services/analyzer"
	"github.com/ternarybob/scrutor/internal/services/llm"
	"github.com/ternarybob/scrutor/internal/services/reports"
)

// ReportGenerator produces {report, analysis, raw} for a job. Satisfied
// by llm.Service.
type ReportGenerator interface {
	GenerateReport(ctx context.Context, jobID string, files []string, topK int) (*llm.GenerationResult, error)
	RawDiagnostic(err error) string
}

// FallbackGenerator is the deterministic last-resort report path.
// Satisfied by llm.LocalGenerator.
type FallbackGenerator interface {
	Generate(jobID string, files []string) *llm.GenerationResult
}

// Orchestrator owns the job state machine. It is the only component that
// transitions a job to failed, and no partial report is ever persisted
// for a failed job.
type Orchestrator struct {
	config     *common.Config
	jobs       interfaces.JobStorage
	reports    interfaces.ReportStorage
	analyzer   *analyzer.Service
	generator  ReportGenerator
	fallback   FallbackGenerator
	normalizer *reports.Normalizer
	search     interfaces.SearchService
	logger     arbor.ILogger

	// Optional observer invoked after each persisted job change
	notify func(*models.Job)

	// Injection points for tests
	sleep  func(time.Duration)
	jitter func(n int) int
}

// SetNotifier registers an observer for persisted job changes, used to
// push websocket events
func (o *Orchestrator) SetNotifier(fn func(*models.Job)) {
	o.notify = fn
}

func (o *Orchestrator) publish(job *models.Job) {
	if o.notify != nil {
		o.notify(job)
	}
}

// NewOrchestrator creates a new job orchestrator
func NewOrchestrator(
	config *common.Config,
	storage interfaces.StorageManager,
	analyzerSvc *analyzer.Service,
	generator ReportGenerator,
	fallback FallbackGenerator,
	normalizer *reports.Normalizer,
	searchSvc interfaces.SearchService,
	logger arbor.ILogger,
) *Orchestrator {
	return &Orchestrator{
		config:     config,
		jobs:       storage.JobStorage(),
		reports:    storage.ReportStorage(),
		analyzer:   analyzerSvc,
		generator:  generator,
		fallback:   fallback,
		normalizer: normalizer,
		search:     searchSvc,
		logger:     logger,
		sleep:      time.Sleep,
		jitter:     rand.Intn,
	}
}

// Start launches the job pipeline in its own goroutine
func (o *Orchestrator) Start(ctx context.Context, jobID string) {
	go func() {
		if err := o.Process(ctx, jobID); err != nil {
			o.logger.Error().Err(err).Str("job_id", jobID).Msg("Job processing failed")
		}
	}()
}

// Process runs the full pipeline for one job: processing transition,
// per-file progress simulation with concurrent document indexing, then
// finalization through the report generator and merger.
func (o *Orchestrator) Process(ctx context.Context, jobID string) error {
	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if job.IsTerminal() {
		return nil
	}

	job.MarkProcessing()
	if err := o.jobs.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("failed to mark job %s processing: %w", jobID, err)
	}
	o.publish(job)

	// Index uploads concurrently with the progress simulation. Failures
	// here never fail the job, they only leave a diagnostic.
	var wg sync.WaitGroup
	var diagMu sync.Mutex
	var indexDiags []string
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, diag := range o.indexFiles(ctx, jobID, job.Files) {
			diagMu.Lock()
			indexDiags = append(indexDiags, diag)
			diagMu.Unlock()
		}
	}()

	o.simulateProgress(ctx, job)

	// Context assembly at finalization reads the chunk index, so join
	// the indexing task before generating
	wg.Wait()
	diagMu.Lock()
	for _, diag := range indexDiags {
		job.AppendDiagnostic(diag)
	}
	diagMu.Unlock()
	if len(indexDiags) > 0 {
		if err := o.jobs.UpdateJob(ctx, job); err != nil {
			o.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to persist indexing diagnostics")
		}
	}

	result, genErr := o.generator.GenerateReport(ctx, jobID, job.Files, o.config.LLM.TopK)
	if genErr == nil {
		if err := o.finalize(ctx, job, result); err == nil {
			return nil
		} else {
			genErr = err
		}
	}

	return o.handleFailure(ctx, job, genErr)
}

// simulateProgress walks progress toward 90 with jitter, one step per
// file, never exceeding 95 before finalization
func (o *Orchestrator) simulateProgress(ctx context.Context, job *models.Job) {
	total := len(job.Files)
	if total < 1 {
		total = 1
	}

	minDelay, maxDelay := o.config.StepDelayBounds()
	spread := int(maxDelay - minDelay)

	for i := 0; i < total; i++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		delay := minDelay
		if spread > 0 {
			delay += time.Duration(o.jitter(spread))
		}
		o.sleep(delay)

		progress := (i+1)*90/total + o.jitter(7) - 3
		if progress > 95 {
			progress = 95
		}
		job.SetProgress(progress)
		if err := o.jobs.UpdateJob(ctx, job); err != nil {
			o.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to persist progress")
			continue
		}
		o.publish(job)
		o.logger.Debug().Str("job_id", job.JobID).Int("progress", job.Progress).Msg("Job progress")
	}
}

// finalize merges generator output with local analysis and persists the
// canonical report, then completes the job
func (o *Orchestrator) finalize(ctx context.Context, job *models.Job, result *llm.GenerationResult) error {
	completedAt := time.Now().UTC()

	startedAt := ""
	if job.StartedAt != nil {
		startedAt = job.StartedAt.UTC().Format(time.RFC3339)
	}

	local := o.analyzer.Analyze(job.Files)
	report, analysis := o.normalizer.Merge(
		job.JobID,
		result.Report,
		result.Analysis,
		local,
		job.Files,
		startedAt,
		completedAt.Format(time.RFC3339),
	)

	// Raw provider output is kept for inspection, loss is non-fatal
	if result.Raw != "" {
		if err := o.reports.SaveRawPayload(ctx, job.JobID, []byte(result.Raw)); err != nil {
			o.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to persist raw provider output")
		}
	}

	if err := o.reports.SaveReport(ctx, report); err != nil {
		return fmt.Errorf("failed to persist report for job %s: %w", job.JobID, err)
	}

	if analysis == nil {
		analysis = &models.Analysis{
			AnalysisID:  common.NewAnalysisID(),
			ReportRunID: job.JobID,
			CreatedAt:   completedAt.Format(time.RFC3339),
		}
	}
	if err := o.reports.SaveAnalysis(ctx, analysis); err != nil {
		o.discardReport(ctx, job.JobID)
		return fmt.Errorf("failed to persist analysis for job %s: %w", job.JobID, err)
	}

	job.MarkCompleted(completedAt)
	if err := o.jobs.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("failed to complete job %s: %w", job.JobID, err)
	}
	o.publish(job)

	o.logger.Info().Str("job_id", job.JobID).Msg("Job completed")
	return nil
}

// discardReport removes a half-persisted report so a failed job never
// leaves a partial artifact behind
func (o *Orchestrator) discardReport(ctx context.Context, jobID string) {
	if err := o.reports.DeleteReport(ctx, jobID); err != nil {
		o.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to discard partial report")
	}
}

// handleFailure persists any raw diagnostic, attempts the deterministic
// fallback when fail-open is enabled, and otherwise fails the job with
// the original error
func (o *Orchestrator) handleFailure(ctx context.Context, job *models.Job, genErr error) error {
	o.logger.Error().Err(genErr).Str("job_id", job.JobID).Msg("Report generation failed")

	if raw := o.generator.RawDiagnostic(genErr); raw != "" {
		if err := o.reports.SaveRawPayload(ctx, job.JobID, []byte(raw)); err != nil {
			o.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to persist raw error output")
		}
	}

	if o.config.LLM.FailOpen && o.fallback != nil {
		o.logger.Info().Str("job_id", job.JobID).Msg("Attempting deterministic fallback report")
		if err := o.finalize(ctx, job, o.fallback.Generate(job.JobID, job.Files)); err == nil {
			return nil
		} else {
			o.logger.Error().Err(err).Str("job_id", job.JobID).Msg("Fallback report generation failed")
		}
	}

	// The job records the original failure, not the fallback's
	job.MarkFailed(genErr.Error())
	if err := o.jobs.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("failed to mark job %s failed: %w", job.JobID, err)
	}
	o.publish(job)
	return genErr
}

// indexFiles feeds upload content into the search index with bounded
// exponential backoff per file. Returns diagnostics for files that
// could not be indexed.
func (o *Orchestrator) indexFiles(ctx context.Context, jobID string, files []string) []string {
	var diags []string
	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(o.config.Storage.Uploads, f))
		if err != nil {
			o.logger.Warn().Err(err).Str("job_id", jobID).Str("file", f).Msg("Cannot read upload for indexing")
			diags = append(diags, fmt.Sprintf("indexing skipped for %s: %v", f, err))
			continue
		}

		if err := o.retryIndex(ctx, jobID, f, string(data)); err != nil {
			o.logger.Warn().Err(err).Str("job_id", jobID).Str("file", f).Msg("Indexing failed after retries")
			diags = append(diags, fmt.Sprintf("indexing failed for %s: %v", f, err))
		}
	}
	return diags
}

func (o *Orchestrator) retryIndex(ctx context.Context, jobID, fileName, content string) error {
	const attempts = 3
	backoff := 500 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			o.sleep(backoff)
			backoff *= 2
		}
		if _, err := o.search.IndexFile(ctx, jobID, fileName, content); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return lastErr
}
