package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobLifecycleTransitions(t *testing.T) {
	job := NewJob("job-1", []string{"ledger.csv"})
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Equal(t, 0, job.Progress)
	assert.False(t, job.IsTerminal())

	job.MarkProcessing()
	assert.Equal(t, JobStatusProcessing, job.Status)
	require.NotNil(t, job.StartedAt)

	job.MarkCompleted(time.Now())
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.CompletedAt)
	assert.True(t, job.IsTerminal())
}

func TestJobTerminalStateIsFinal(t *testing.T) {
	job := NewJob("job-1", nil)
	job.MarkProcessing()
	job.MarkFailed("provider unreachable")

	// Terminal jobs ignore further transitions.
	job.MarkCompleted(time.Now())
	assert.Equal(t, JobStatusFailed, job.Status)

	job.MarkProcessing()
	assert.Equal(t, JobStatusFailed, job.Status)
}

func TestJobProgressNeverDecreases(t *testing.T) {
	job := NewJob("job-1", nil)
	job.SetProgress(40)
	job.SetProgress(30)
	assert.Equal(t, 40, job.Progress)

	job.SetProgress(150)
	assert.Equal(t, 100, job.Progress)
}

func TestJobFailureRetainsProgress(t *testing.T) {
	job := NewJob("job-1", nil)
	job.MarkProcessing()
	job.SetProgress(60)
	job.MarkFailed("disk full")

	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, 60, job.Progress)
	assert.Equal(t, "disk full", job.Error())
}

func TestJobDiagnosticsAccumulate(t *testing.T) {
	job := NewJob("job-1", nil)
	job.AppendDiagnostic("indexing skipped for notes.txt")
	job.AppendDiagnostic("  ")
	job.MarkFailed("provider unreachable")

	assert.Equal(t, "indexing skipped for notes.txt | provider unreachable", job.Error())
}
