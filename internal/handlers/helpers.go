package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ternarybob/scrutor/internal/models"
)

// RequireMethod validates that the request uses the given method, writing
// a 405 otherwise
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a standard error JSON response
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// JobView is the wire shape for a job. The accumulated diagnostics are
// flattened into a single error string.
type JobView struct {
	JobID       string   `json:"jobId"`
	Files       []string `json:"files"`
	Status      string   `json:"status"`
	Progress    int      `json:"progress"`
	CreatedAt   string   `json:"createdAt"`
	UpdatedAt   string   `json:"updatedAt"`
	StartedAt   string   `json:"startedAt,omitempty"`
	CompletedAt string   `json:"completedAt,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// NewJobView converts a stored job into its wire shape
func NewJobView(job *models.Job) *JobView {
	view := &JobView{
		JobID:     job.JobID,
		Files:     job.Files,
		Status:    string(job.Status),
		Progress:  job.Progress,
		CreatedAt: job.CreatedAt.Format(timeFormat),
		UpdatedAt: job.UpdatedAt.Format(timeFormat),
		Error:     job.Error(),
	}
	if job.StartedAt != nil {
		view.StartedAt = job.StartedAt.Format(timeFormat)
	}
	if job.CompletedAt != nil {
		view.CompletedAt = job.CompletedAt.Format(timeFormat)
	}
	return view
}

const timeFormat = "2006-01-02T15:04:05Z07:00"
