package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ternarybob/scrutor/internal/common"
	"github.com/ternarybob/scrutor/internal/models"
)

// AnswerResult is the wire shape for an ad-hoc question answered over a
// job's indexed documents.
type AnswerResult struct {
	Answer  string              `json:"answer"`
	Sources []*models.SearchHit `json:"sources"`
}

// noAnswerText is returned when retrieval finds nothing relevant
const noAnswerText = "I couldn't find relevant information."

// Answer responds to a question using the job's indexed documents as
// grounding. Retrieval always runs locally; answer synthesis uses the
// configured provider under the same budget, retry and fail-open policy
// as report generation. The local path concatenates the retrieved
// snippets directly.
func (s *Service) Answer(ctx context.Context, jobID, question string, topK int) (*AnswerResult, error) {
	hits, err := s.search.Search(ctx, jobID, question, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to search job documents: %w", err)
	}

	providerType := s.config.LLM.Provider
	if providerType == common.LLMProviderLocal || !s.config.ProviderConfigured() {
		return localAnswer(hits), nil
	}

	providerName := string(providerType)

	if err := s.budget.Check(ctx, providerName); err != nil {
		if errors.Is(err, ErrBudgetExceeded) && s.config.LLM.FailOpen {
			s.logger.Warn().Str("job_id", jobID).Msg("Budget exhausted, answering from local snippets")
			return localAnswer(hits), nil
		}
		return nil, err
	}

	provider, err := s.providerFn(ctx, providerType)
	if err != nil {
		if s.config.LLM.FailOpen {
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Provider unavailable, answering from local snippets")
			return localAnswer(hits), nil
		}
		return nil, err
	}

	prompt := buildAnswerPrompt(jobID, question, hits)

	maxRetries := s.config.LLM.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	retryDelay := s.config.RetryDelay()

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		text, callErr := provider.GenerateContent(ctx, prompt)
		if callErr == nil {
			s.budget.Record(ctx, providerName, len(text)/4)
			answer := strings.TrimSpace(text)
			if answer == "" {
				answer = noAnswerText
			}
			return &AnswerResult{Answer: answer, Sources: sourcesOrEmpty(hits)}, nil
		}
		lastErr = callErr

		if IsAuthOrModel(callErr) {
			s.logger.Error().Err(callErr).Str("job_id", jobID).Msg("Auth/model provider error, failing fast")
			return nil, callErr
		}

		if IsTransient(callErr) && attempt < maxRetries {
			s.logger.Warn().
				Err(callErr).
				Int("attempt", attempt+1).
				Int("max_retries", maxRetries).
				Msg("Transient provider error, retrying")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			s.sleep(retryDelay)
			continue
		}
		break
	}

	if s.config.LLM.FailOpen {
		s.logger.Warn().Err(lastErr).Str("job_id", jobID).Msg("Provider failed, answering from local snippets")
		return localAnswer(hits), nil
	}
	return nil, lastErr
}

// localAnswer joins the retrieved snippets, mirroring the behavior of
// the deterministic generator: no model, just the evidence.
func localAnswer(hits []*models.SearchHit) *AnswerResult {
	if len(hits) == 0 {
		return &AnswerResult{Answer: noAnswerText, Sources: []*models.SearchHit{}}
	}
	snippets := make([]string, 0, len(hits))
	for _, hit := range hits {
		snippets = append(snippets, hit.Snippet)
	}
	return &AnswerResult{Answer: strings.Join(snippets, "\n\n"), Sources: hits}
}

func sourcesOrEmpty(hits []*models.SearchHit) []*models.SearchHit {
	if hits == nil {
		return []*models.SearchHit{}
	}
	return hits
}

func buildAnswerPrompt(jobID, question string, hits []*models.SearchHit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an analyst assistant answering a question about the documents uploaded for job %s.\n", jobID)
	b.WriteString("Answer concisely using only the excerpts below. If the excerpts do not contain the answer, say so.\n\n")
	for i, hit := range hits {
		fmt.Fprintf(&b, "Excerpt %d (%s):\n%s\n\n", i+1, hit.FileName, hit.Snippet)
	}
	fmt.Fprintf(&b, "Question: %s\n", question)
	return b.String()
}
