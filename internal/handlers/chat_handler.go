// -----------------------------------------------------------------------
// Chat - question answering over a job's indexed documents
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scrutor/internal/services/llm"
)

// chatTopK bounds the snippets retrieved to ground an answer
const chatTopK = 5

// Answerer produces grounded answers for ad-hoc questions.
// Satisfied by llm.Service.
type Answerer interface {
	Answer(ctx context.Context, jobID, question string, topK int) (*llm.AnswerResult, error)
}

// ChatHandler handles questions asked against an ingested job
type ChatHandler struct {
	answerer Answerer
	validate *validator.Validate
	logger   arbor.ILogger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(answerer Answerer, logger arbor.ILogger) *ChatHandler {
	return &ChatHandler{
		answerer: answerer,
		validate: validator.New(),
		logger:   logger,
	}
}

type chatRequest struct {
	JobID    string `json:"jobId" validate:"required"`
	Question string `json:"question" validate:"required"`
}

// ChatHandler handles POST /api/chat. The body carries {jobId, question};
// the answer is grounded in the job's indexed documents.
func (h *ChatHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Missing jobId or question")
		return
	}

	result, err := h.answerer.Answer(r.Context(), req.JobID, req.Question, chatTopK)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", req.JobID).Msg("Answer generation failed")
		WriteError(w, http.StatusBadGateway, "Failed to generate answer")
		return
	}

	WriteJSON(w, http.StatusOK, result)
}
