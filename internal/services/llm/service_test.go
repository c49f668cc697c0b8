package llm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scrutor/internal/common"
	"github.com/ternarybob/scrutor/internal/models"
)

// scriptedProvider returns queued responses or errors in order
type scriptedProvider struct {
	calls     int
	responses []string
	errs      []error
}

func (p *scriptedProvider) GenerateContent(ctx context.Context, prompt string) (string, error) {
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return "", p.errs[i]
	}
	if i < len(p.responses) {
		return p.responses[i], nil
	}
	return "", fmt.Errorf("no scripted response for call %d", i)
}

func (p *scriptedProvider) Name() string { return "gemini" }
func (p *scriptedProvider) Close() error { return nil }

// memoryUsage is an in-memory UsageStorage for budget tests
type memoryUsage struct {
	records map[string]*models.UsageRecord
}

func newMemoryUsage() *memoryUsage {
	return &memoryUsage{records: map[string]*models.UsageRecord{}}
}

func (m *memoryUsage) IncrementUsage(ctx context.Context, provider, date string, tokens int) (*models.UsageRecord, error) {
	key := provider + "|" + date
	r := m.records[key]
	if r == nil {
		r = &models.UsageRecord{Key: key, Provider: provider, Date: date}
		m.records[key] = r
	}
	r.Calls++
	r.Tokens += tokens
	return r, nil
}

func (m *memoryUsage) GetUsage(ctx context.Context, provider, date string) (*models.UsageRecord, error) {
	if r := m.records[provider+"|"+date]; r != nil {
		return r, nil
	}
	return &models.UsageRecord{Provider: provider, Date: date}, nil
}

// staticSearch returns a fixed context string
type staticSearch struct{ text string }

func (s *staticSearch) IndexFile(ctx context.Context, jobID, fileName, content string) (int, error) {
	return 0, nil
}
func (s *staticSearch) Search(ctx context.Context, jobID, query string, limit int) ([]*models.SearchHit, error) {
	return nil, nil
}
func (s *staticSearch) AssembleContext(ctx context.Context, jobID string, topK int) (string, error) {
	return s.text, nil
}
func (s *staticSearch) RemoveJob(ctx context.Context, jobID string) error { return nil }

func newTestService(t *testing.T, provider Provider, usage *memoryUsage, failOpen bool) *Service {
	t.Helper()

	cfg := common.NewDefaultConfig()
	cfg.LLM.Provider = common.LLMProviderGemini
	cfg.LLM.FailOpen = failOpen
	cfg.LLM.MaxRetries = 2
	cfg.Gemini.APIKey = "test-key"
	cfg.Storage.Uploads = t.TempDir()

	logger := arbor.NewLogger()
	budget := NewBudget(usage, cfg.LLM.MaxCallsPerDay, logger)
	local := NewLocalGenerator(cfg.Storage.Uploads, logger)
	svc := NewService(cfg, nil, &staticSearch{text: "category,amount,currency\nsales,100,USD"}, local, budget, logger)
	svc.providerFn = func(ctx context.Context, _ common.LLMProvider) (Provider, error) {
		return provider, nil
	}
	svc.sleep = func(time.Duration) {}
	return svc
}

func transientErr(status int) error {
	return &ProviderError{Provider: "gemini", Status: status, Err: fmt.Errorf("status %d", status)}
}

func TestGenerateReportRetriesOnceAfter503(t *testing.T) {
	provider := &scriptedProvider{
		errs:      []error{transientErr(503), nil},
		responses: []string{"", `{"report":{"runId":"job-1"},"analysis":null}`},
	}
	svc := newTestService(t, provider, newMemoryUsage(), true)

	result, err := svc.GenerateReport(context.Background(), "job-1", nil, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, provider.calls)
	assert.Equal(t, "job-1", result.Report["runId"])
}

func TestGenerateReportFailsFastOn404(t *testing.T) {
	provider := &scriptedProvider{
		errs: []error{transientErr(404)},
	}
	svc := newTestService(t, provider, newMemoryUsage(), true)

	_, err := svc.GenerateReport(context.Background(), "job-1", nil, 3)
	require.Error(t, err)
	assert.True(t, IsAuthOrModel(err))
	// No retry, no fallback for misconfiguration
	assert.Equal(t, 1, provider.calls)
}

func TestGenerateReportFallsBackAfterExhaustedRetries(t *testing.T) {
	provider := &scriptedProvider{
		errs: []error{transientErr(503), transientErr(503), transientErr(503)},
	}
	svc := newTestService(t, provider, newMemoryUsage(), true)

	result, err := svc.GenerateReport(context.Background(), "job-1", []string{"missing.csv"}, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, provider.calls)
	// Fallback output carries the job id as runId
	assert.Equal(t, "job-1", result.Report["runId"])
}

func TestGenerateReportFailClosedPropagatesError(t *testing.T) {
	provider := &scriptedProvider{
		errs: []error{transientErr(503), transientErr(503), transientErr(503)},
	}
	svc := newTestService(t, provider, newMemoryUsage(), false)

	_, err := svc.GenerateReport(context.Background(), "job-1", nil, 3)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestGenerateReportBudgetExceededFailClosed(t *testing.T) {
	usage := newMemoryUsage()
	provider := &scriptedProvider{}
	svc := newTestService(t, provider, usage, false)
	svc.budget = NewBudget(usage, 1, arbor.NewLogger())

	_, err := usage.IncrementUsage(context.Background(), "gemini", time.Now().UTC().Format("2006-01-02"), 0)
	require.NoError(t, err)

	_, err = svc.GenerateReport(context.Background(), "job-1", nil, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Equal(t, 0, provider.calls)
}

func TestGenerateReportBudgetExceededFailOpenUsesLocal(t *testing.T) {
	usage := newMemoryUsage()
	provider := &scriptedProvider{}
	svc := newTestService(t, provider, usage, true)
	svc.budget = NewBudget(usage, 1, arbor.NewLogger())

	_, err := usage.IncrementUsage(context.Background(), "gemini", time.Now().UTC().Format("2006-01-02"), 0)
	require.NoError(t, err)

	result, err := svc.GenerateReport(context.Background(), "job-1", nil, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, provider.calls)
	assert.Equal(t, "job-1", result.Report["runId"])
}

func TestGenerateReportRecordsUsageOnSuccess(t *testing.T) {
	usage := newMemoryUsage()
	provider := &scriptedProvider{
		responses: []string{`{"report":{"runId":"job-1"},"analysis":null}`},
	}
	svc := newTestService(t, provider, usage, true)

	_, err := svc.GenerateReport(context.Background(), "job-1", nil, 3)
	require.NoError(t, err)

	record, err := usage.GetUsage(context.Background(), "gemini", time.Now().UTC().Format("2006-01-02"))
	require.NoError(t, err)
	assert.Equal(t, 1, record.Calls)
}

func TestGenerateReportLocalProviderSkipsNetwork(t *testing.T) {
	usage := newMemoryUsage()
	provider := &scriptedProvider{}
	svc := newTestService(t, provider, usage, true)
	svc.config.LLM.Provider = common.LLMProviderLocal

	result, err := svc.GenerateReport(context.Background(), "job-1", nil, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, provider.calls)
	assert.Equal(t, "job-1", result.Report["runId"])
}

func TestLocalGeneratorSignSplitAndFlags(t *testing.T) {
	dir := t.TempDir()
	content := "date,amount\n2026-01-05,100\n2026-02-10,200\n2026-02-15,-150000\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tx.csv"), []byte(content), 0644))

	gen := NewLocalGenerator(dir, arbor.NewLogger())
	result := gen.Generate("job-7", []string{"tx.csv"})

	kpis := result.Report["kpis"].(map[string]interface{})
	assert.Equal(t, "$300.00", kpis["revenue_total"])
	assert.Equal(t, "$150000.00", kpis["expenses_tx.csv"])

	flags := result.Report["redFlags"].([]interface{})
	require.Len(t, flags, 1)
	flag := flags[0].(map[string]interface{})
	assert.Equal(t, "Large outflow", flag["title"])
	assert.Equal(t, "high", flag["severity"])

	trends := result.Report["trends"].([]interface{})
	require.Len(t, trends, 1)
	trend := trends[0].(map[string]interface{})
	assert.Equal(t, "Revenue change 2026-01 -> 2026-02", trend["title"])
	assert.Equal(t, "100.0%", trend["description"])

	assert.Equal(t, "job-7", result.Report["runId"])
	analysis := result.Analysis
	require.NotNil(t, analysis)
	assert.Equal(t, "job-7", analysis["reportRunId"])
}
