package llm

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scrutor/internal/common"
	"github.com/ternarybob/scrutor/internal/models"
)

// hitSearch serves fixed search hits
type hitSearch struct {
	staticSearch
	hits      []*models.SearchHit
	searchErr error
}

func (s *hitSearch) Search(ctx context.Context, jobID, query string, limit int) ([]*models.SearchHit, error) {
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return s.hits, nil
}

func sampleHits() []*models.SearchHit {
	return []*models.SearchHit{
		{ChunkID: "c1", JobID: "job-1", FileName: "sales.csv", Score: 2.5, Snippet: "sales,100,USD"},
		{ChunkID: "c2", JobID: "job-1", FileName: "notes.txt", Score: 1.0, Snippet: "Q1 revenue grew steadily."},
	}
}

func newAnswerService(t *testing.T, provider Provider, search *hitSearch, providerType common.LLMProvider, failOpen bool) (*Service, *memoryUsage) {
	t.Helper()

	cfg := common.NewDefaultConfig()
	cfg.LLM.Provider = providerType
	cfg.LLM.FailOpen = failOpen
	cfg.LLM.MaxRetries = 2
	cfg.Gemini.APIKey = "test-key"
	cfg.Storage.Uploads = t.TempDir()

	logger := arbor.NewLogger()
	usage := newMemoryUsage()
	budget := NewBudget(usage, cfg.LLM.MaxCallsPerDay, logger)
	local := NewLocalGenerator(cfg.Storage.Uploads, logger)
	svc := NewService(cfg, nil, search, local, budget, logger)
	svc.providerFn = func(ctx context.Context, _ common.LLMProvider) (Provider, error) {
		return provider, nil
	}
	svc.sleep = func(time.Duration) {}
	return svc, usage
}

func TestAnswerLocalProviderJoinsSnippets(t *testing.T) {
	provider := &scriptedProvider{}
	svc, _ := newAnswerService(t, provider, &hitSearch{hits: sampleHits()}, common.LLMProviderLocal, false)

	result, err := svc.Answer(context.Background(), "job-1", "what was revenue", 5)
	require.NoError(t, err)
	assert.Equal(t, "sales,100,USD\n\nQ1 revenue grew steadily.", result.Answer)
	assert.Len(t, result.Sources, 2)
	assert.Equal(t, 0, provider.calls)
}

func TestAnswerNoHitsReturnsDefaultMessage(t *testing.T) {
	svc, _ := newAnswerService(t, &scriptedProvider{}, &hitSearch{}, common.LLMProviderLocal, false)

	result, err := svc.Answer(context.Background(), "job-1", "anything", 5)
	require.NoError(t, err)
	assert.Equal(t, "I couldn't find relevant information.", result.Answer)
	assert.Empty(t, result.Sources)
}

func TestAnswerUsesProviderAndRecordsUsage(t *testing.T) {
	provider := &scriptedProvider{responses: []string{"  Revenue for Q1 was $100.  "}}
	svc, usage := newAnswerService(t, provider, &hitSearch{hits: sampleHits()}, common.LLMProviderGemini, false)

	result, err := svc.Answer(context.Background(), "job-1", "what was revenue", 5)
	require.NoError(t, err)
	assert.Equal(t, "Revenue for Q1 was $100.", result.Answer)
	assert.Len(t, result.Sources, 2)
	assert.Equal(t, 1, provider.calls)

	recorded := 0
	for _, r := range usage.records {
		recorded += r.Calls
	}
	assert.Equal(t, 1, recorded)
}

func TestAnswerFallsBackToSnippetsOnProviderFailure(t *testing.T) {
	provider := &scriptedProvider{errs: []error{transientErr(500), transientErr(500), transientErr(500)}}
	svc, _ := newAnswerService(t, provider, &hitSearch{hits: sampleHits()}, common.LLMProviderGemini, true)

	result, err := svc.Answer(context.Background(), "job-1", "what was revenue", 5)
	require.NoError(t, err)
	assert.Equal(t, "sales,100,USD\n\nQ1 revenue grew steadily.", result.Answer)
	assert.Equal(t, 3, provider.calls)
}

func TestAnswerFailsFastOnAuthError(t *testing.T) {
	provider := &scriptedProvider{errs: []error{transientErr(404)}}
	svc, _ := newAnswerService(t, provider, &hitSearch{hits: sampleHits()}, common.LLMProviderGemini, true)

	_, err := svc.Answer(context.Background(), "job-1", "what was revenue", 5)
	require.Error(t, err)
	assert.Equal(t, 1, provider.calls)
}

func TestAnswerPropagatesSearchFailure(t *testing.T) {
	search := &hitSearch{searchErr: fmt.Errorf("index unavailable")}
	svc, _ := newAnswerService(t, &scriptedProvider{}, search, common.LLMProviderLocal, false)

	_, err := svc.Answer(context.Background(), "job-1", "anything", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to search job documents")
}
