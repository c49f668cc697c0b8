// -----------------------------------------------------------------------
// Jobs - read and stream endpoints over the job store
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scrutor/internal/interfaces"
)

// JobHandler handles job read and stream API requests
type JobHandler struct {
	jobs   interfaces.JobStorage
	logger arbor.ILogger

	// Poll cadence for the SSE stream, shortened in tests
	streamInterval time.Duration
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobStorage interfaces.JobStorage, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		jobs:           jobStorage,
		logger:         logger,
		streamInterval: time.Second,
	}
}

// ListJobsHandler handles GET /api/jobs?limit=50
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	jobList, err := h.jobs.ListJobs(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		WriteError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	views := make([]*JobView, 0, len(jobList))
	for _, job := range jobList {
		views = append(views, NewJobView(job))
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  views,
		"count": len(views),
	})
}

// GetJobHandler handles GET /api/jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobID := jobIDFromPath(r.URL.Path)
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "missing job id")
		return
	}

	job, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, interfaces.ErrJobNotFound) {
			WriteError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to load job")
		WriteError(w, http.StatusInternalServerError, "failed to load job")
		return
	}

	WriteJSON(w, http.StatusOK, NewJobView(job))
}

// StreamJobHandler handles GET /api/jobs/{id}/stream as server-sent
// events. A snapshot is emitted whenever the serialized job changes,
// with a single terminal "done" event once the job completes or fails.
func (h *JobHandler) StreamJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobID := jobIDFromPath(strings.TrimSuffix(r.URL.Path, "/stream"))
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "missing job id")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Long-running jobs outlive the server write timeout, so clear it
	// for this response. Not all writers support deadlines.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	ticker := time.NewTicker(h.streamInterval)
	defer ticker.Stop()

	last := ""
	for {
		job, err := h.jobs.GetJob(r.Context(), jobID)
		if err != nil {
			fmt.Fprintf(w, "event: error\ndata: {\"error\":\"job not found\"}\n\n")
			flusher.Flush()
			return
		}

		encoded, err := json.Marshal(NewJobView(job))
		if err != nil {
			h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to encode job snapshot")
			return
		}

		if current := string(encoded); current != last {
			last = current
			fmt.Fprintf(w, "data: %s\n\n", current)
			flusher.Flush()
		}

		if job.IsTerminal() {
			fmt.Fprintf(w, "event: done\ndata: %s\n\n", last)
			flusher.Flush()
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// jobIDFromPath extracts the trailing id from /api/jobs/{id}
func jobIDFromPath(path string) string {
	trimmed := strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 || idx == len(trimmed)-1 {
		return ""
	}
	return trimmed[idx+1:]
}
