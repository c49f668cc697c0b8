package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scrutor/internal/common"
	"github.com/ternarybob/scrutor/internal/interfaces"
)

// Service drives report generation for a job: provider selection, budget
// enforcement, prompt assembly, retry policy and the local fallback.
type Service struct {
	config  *common.Config
	factory *ProviderFactory
	search  interfaces.SearchService
	local   *LocalGenerator
	budget  *Budget
	logger  arbor.ILogger

	// Injection point for tests; defaults to the factory
	providerFn func(ctx context.Context, t common.LLMProvider) (Provider, error)
	sleep      func(time.Duration)
}

// NewService creates a new LLM report generation service
func NewService(
	config *common.Config,
	factory *ProviderFactory,
	searchSvc interfaces.SearchService,
	local *LocalGenerator,
	budget *Budget,
	logger arbor.ILogger,
) *Service {
	s := &Service{
		config:  config,
		factory: factory,
		search:  searchSvc,
		local:   local,
		budget:  budget,
		logger:  logger,
		sleep:   time.Sleep,
	}
	s.providerFn = func(ctx context.Context, t common.LLMProvider) (Provider, error) {
		return factory.Provider(ctx, t)
	}
	return s
}

// GenerateReport produces {report, analysis, raw} for a job. When no
// provider is configured the deterministic local generator runs directly.
// Provider failures follow the retry and fail-open policy: transient
// errors get bounded retries, auth and model errors fail immediately with
// no retry and no fallback, everything else falls back to the local
// generator when fail-open is enabled.
func (s *Service) GenerateReport(ctx context.Context, jobID string, files []string, topK int) (*GenerationResult, error) {
	providerType := s.config.LLM.Provider
	if providerType == common.LLMProviderLocal || !s.config.ProviderConfigured() {
		s.logger.Info().Str("job_id", jobID).Msg("Using local report generator")
		return s.local.Generate(jobID, files), nil
	}

	providerName := string(providerType)

	// Budget check is fail-fast but remains fallback-eligible
	if err := s.budget.Check(ctx, providerName); err != nil {
		if errors.Is(err, ErrBudgetExceeded) && s.config.LLM.FailOpen {
			s.logger.Warn().Str("job_id", jobID).Msg("Budget exhausted, falling back to local generator")
			return s.local.Generate(jobID, files), nil
		}
		return nil, err
	}

	provider, err := s.providerFn(ctx, providerType)
	if err != nil {
		if s.config.LLM.FailOpen {
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Provider unavailable, falling back to local generator")
			return s.local.Generate(jobID, files), nil
		}
		return nil, err
	}

	docText, err := s.search.AssembleContext(ctx, jobID, topK)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Context assembly failed, proceeding with empty context")
		docText = ""
	}

	prompt := buildReportPrompt(jobID, docText)

	maxRetries := s.config.LLM.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	retryDelay := s.config.RetryDelay()

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		text, callErr := provider.GenerateContent(ctx, prompt)
		if callErr == nil {
			result := ParseProviderOutput(text)
			// Rough token estimate, enough for budget accounting
			s.budget.Record(ctx, providerName, len(text)/4)
			return result, nil
		}
		lastErr = callErr

		// Misconfiguration: no retry, no fallback
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

	// Retries exhausted or non-retryable error class
	if s.config.LLM.FailOpen {
		s.logger.Warn().Err(lastErr).Str("job_id", jobID).Msg("Provider failed, falling back to local generator")
		return s.local.Generate(jobID, files), nil
	}
	return nil, lastErr
}

// RawDiagnostic surfaces any raw payload attached to a provider error so
// callers can persist it for inspection
func (s *Service) RawDiagnostic(err error) string {
	return rawFromError(err)
}

func buildReportPrompt(jobID, docText string) string {
	return fmt.Sprintf(`You are an analyst assistant. The following is assembled document text for job %s. It may contain CSV rows, invoices, receipts, and transactions. Carefully analyze the numeric data and text and produce a single JSON object only. The JSON MUST have two top-level keys: "report" and "analysis".

"report" must include: runId (string), createdAt (ISO timestamp), completedAt (ISO timestamp), summary (short 1-2 sentence executive summary), kpis (object of named KPI keys to numeric or human-friendly string values), redFlags (array of objects with id,title,severity (low|medium|high),description), trends (array of {title,description}), files (array of filenames).

"analysis" must include structured sections (array) with titles and content and optionally insights (array of short strings).

Important: return ONLY valid JSON. Do not emit any explanatory text. Use ISO timestamps, numeric values where appropriate, and keep summaries concise.

Document content:
%s
`, jobID, docText)
}
