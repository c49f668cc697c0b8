// -----------------------------------------------------------------------
// Ingest - multipart upload entry point that creates jobs and starts
// the processing pipeline
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scrutor/internal/common"
	"github.com/ternarybob/scrutor/internal/interfaces"
	"github.com/ternarybob/scrutor/internal/models"
)

// JobStarter launches the background pipeline for a created job.
// Satisfied by jobs.Orchestrator.
type JobStarter interface {
	Start(ctx context.Context, jobID string)
}

// IngestHandler handles file upload and job creation
type IngestHandler struct {
	config       *common.Config
	jobs         interfaces.JobStorage
	orchestrator JobStarter
	validate     *validator.Validate
	logger       arbor.ILogger
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(config *common.Config, jobStorage interfaces.JobStorage, orchestrator JobStarter, logger arbor.ILogger) *IngestHandler {
	return &IngestHandler{
		config:       config,
		jobs:         jobStorage,
		orchestrator: orchestrator,
		validate:     validator.New(),
		logger:       logger,
	}
}

type ingestRequest struct {
	Files []string `validate:"required,min=1,dive,required"`
}

// IngestHandler handles POST /api/ingest. Files arrive as multipart form
// data under the "files" field; each is stored under a sanitized unique
// name and the response carries the new job id.
func (h *IngestHandler) IngestHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	ctx := r.Context()

	maxBytes := h.config.Ingest.MaxFileSizeBytes
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid multipart request")
		return
	}
	defer r.MultipartForm.RemoveAll()

	fileHeaders := r.MultipartForm.File["files"]
	if len(fileHeaders) == 0 {
		WriteError(w, http.StatusBadRequest, "no files uploaded")
		return
	}
	if max := h.config.Ingest.MaxFiles; max > 0 && len(fileHeaders) > max {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("too many files: %d exceeds limit of %d", len(fileHeaders), max))
		return
	}

	if err := os.MkdirAll(h.config.Storage.Uploads, 0755); err != nil {
		h.logger.Error().Err(err).Msg("Cannot create uploads directory")
		WriteError(w, http.StatusInternalServerError, "failed to store uploads")
		return
	}

	var stored []string
	for _, header := range fileHeaders {
		if header.Size > maxBytes {
			WriteError(w, http.StatusBadRequest, fmt.Sprintf("file %s exceeds size limit", header.Filename))
			return
		}
		if !h.extensionAllowed(header.Filename) {
			WriteError(w, http.StatusBadRequest, fmt.Sprintf("file type not allowed: %s", header.Filename))
			return
		}

		name, err := h.storeUpload(header)
		if err != nil {
			h.logger.Error().Err(err).Str("file", header.Filename).Msg("Failed to store upload")
			WriteError(w, http.StatusInternalServerError, "failed to store uploads")
			return
		}
		stored = append(stored, name)
	}

	if err := h.validate.Struct(&ingestRequest{Files: stored}); err != nil {
		WriteError(w, http.StatusBadRequest, "no files uploaded")
		return
	}

	jobID := common.NewJobID()
	job := models.NewJob(jobID, stored)
	if err := h.jobs.CreateJob(ctx, job); err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to create job")
		WriteError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	h.logger.Info().
		Str("job_id", jobID).
		Int("files", len(stored)).
		Msg("Ingest job created")

	// Pipeline outlives the request
	h.orchestrator.Start(context.Background(), jobID)

	WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"jobId":  jobID,
		"status": job.Status,
	})
}

func (h *IngestHandler) extensionAllowed(name string) bool {
	allowed := h.config.Ingest.AllowedExtensions
	if len(allowed) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, a := range allowed {
		if ext == a {
			return true
		}
	}
	return false
}

// storeUpload writes the upload under a unique collision-free name:
// <unix-millis>-<uuid>-<sanitized original name>
func (h *IngestHandler) storeUpload(header *multipart.FileHeader) (string, error) {
	src, err := header.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	name := fmt.Sprintf("%d-%s-%s", time.Now().UnixMilli(), uuid.New().String()[:8], sanitizeFilename(header.Filename))
	dst, err := os.Create(filepath.Join(h.config.Storage.Uploads, name))
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("failed to write upload file: %w", err)
	}
	return name, nil
}

// sanitizeFilename keeps the base name and replaces anything outside
// [a-zA-Z0-9._-] so stored names are safe as path components
func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return "upload"
	}
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "upload"
	}
	return b.String()
}
