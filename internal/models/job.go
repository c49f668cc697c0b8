// -----------------------------------------------------------------------
// Job - lifecycle record for one uploaded file set
// -----------------------------------------------------------------------

package models

import (
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of an ingest job.
// Transitions are forward-only: pending -> processing -> completed|failed.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// DiagnosticSeparator joins accumulated diagnostics into the single error
// string exposed on the wire. Kept stable for compatibility with stored
// job records.
const DiagnosticSeparator = " | "

// Job tracks one uploaded file set through analysis to a finished report.
// The job store is the single source of truth for Status and Progress;
// only the orchestrator mutates a job after creation.
type Job struct {
	JobID       string     `json:"jobId" badgerhold:"key"`
	Files       []string   `json:"files"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"` // 0-100, never decreases
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	// Diagnostics accumulates human-readable error context. Entries are
	// append-only so an auxiliary-path failure never erases the primary
	// failure message. Serialized as a single joined string via Error().
	Diagnostics []string `json:"diagnostics,omitempty"`
}

// NewJob creates a pending job for the given stored filenames.
func NewJob(jobID string, files []string) *Job {
	now := time.Now().UTC()
	return &Job{
		JobID:     jobID,
		Files:     files,
		Status:    JobStatusPending,
		Progress:  0,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// MarkProcessing transitions the job to processing and stamps StartedAt.
// No-op if the job is already terminal.
func (j *Job) MarkProcessing() {
	if j.IsTerminal() {
		return
	}
	now := time.Now().UTC()
	j.Status = JobStatusProcessing
	j.StartedAt = &now
	j.UpdatedAt = now
}

// SetProgress advances progress, clamped to [0,100]. Progress never
// decreases; callers may jitter within a stage but a lower value is ignored.
func (j *Job) SetProgress(p int) {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	if p <= j.Progress {
		return
	}
	j.Progress = p
	j.UpdatedAt = time.Now().UTC()
}

// MarkCompleted transitions the job to completed, pins progress to 100 and
// stamps CompletedAt.
func (j *Job) MarkCompleted(completedAt time.Time) {
	if j.IsTerminal() {
		return
	}
	j.Status = JobStatusCompleted
	j.Progress = 100
	t := completedAt.UTC()
	j.CompletedAt = &t
	j.UpdatedAt = t
}

// MarkFailed transitions the job to failed, retaining current progress.
// The message is appended to the diagnostic log, never overwriting prior
// entries.
func (j *Job) MarkFailed(msg string) {
	if j.IsTerminal() {
		return
	}
	now := time.Now().UTC()
	j.Status = JobStatusFailed
	j.CompletedAt = &now
	j.UpdatedAt = now
	j.AppendDiagnostic(msg)
}

// AppendDiagnostic records an error message without changing job state.
func (j *Job) AppendDiagnostic(msg string) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return
	}
	j.Diagnostics = append(j.Diagnostics, msg)
	j.UpdatedAt = time.Now().UTC()
}

// Error returns the accumulated diagnostics as a single string, matching
// the historical jobs.json format. Empty when no diagnostics exist.
func (j *Job) Error() string {
	return strings.Join(j.Diagnostics, DiagnosticSeparator)
}

// IsTerminal returns true once the job has completed or failed.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// CanTransitionTo reports whether moving to the target status respects the
// forward-only state machine.
func (j *Job) CanTransitionTo(target JobStatus) bool {
	switch j.Status {
	case JobStatusPending:
		return target == JobStatusProcessing
	case JobStatusProcessing:
		return target == JobStatusCompleted || target == JobStatusFailed
	default:
		return false
	}
}
