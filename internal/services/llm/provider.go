package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scrutor/internal/common"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// Provider abstracts one LLM backend. Implementations return the raw
// generated text; extraction and parsing happen downstream.
type Provider interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
	Name() string
	Close() error
}

// ProviderFactory lazily creates provider clients from configuration
type ProviderFactory struct {
	geminiConfig *common.GeminiConfig
	claudeConfig *common.ClaudeConfig
	logger       arbor.ILogger
}

// NewProviderFactory creates a new provider factory
func NewProviderFactory(geminiConfig *common.GeminiConfig, claudeConfig *common.ClaudeConfig, logger arbor.ILogger) *ProviderFactory {
	return &ProviderFactory{
		geminiConfig: geminiConfig,
		claudeConfig: claudeConfig,
		logger:       logger,
	}
}

// Provider returns the backend for the given provider type
func (f *ProviderFactory) Provider(ctx context.Context, providerType common.LLMProvider) (Provider, error) {
	switch providerType {
	case common.LLMProviderGemini:
		return newGeminiProvider(ctx, f.geminiConfig, f.logger)
	case common.LLMProviderClaude:
		return newClaudeProvider(f.claudeConfig, f.logger), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %s", providerType)
	}
}

func parseRateLimit(s string, fallback time.Duration) *rate.Limiter {
	interval := fallback
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		interval = d
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// geminiProvider generates content through the Google Gemini API
type geminiProvider struct {
	client  *genai.Client
	config  *common.GeminiConfig
	limiter *rate.Limiter
	logger  arbor.ILogger
}

func newGeminiProvider(ctx context.Context, config *common.GeminiConfig, logger arbor.ILogger) (*geminiProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("gemini API key not configured")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &geminiProvider{
		client:  client,
		config:  config,
		limiter: parseRateLimit(config.RateLimit, 4*time.Second),
		logger:  logger,
	}, nil
}

func (p *geminiProvider) Name() string {
	return string(common.LLMProviderGemini)
}

func (p *geminiProvider) GenerateContent(ctx context.Context, prompt string) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", err
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(p.config.Temperature),
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	resp, err := p.client.Models.GenerateContent(ctx, p.config.Model, contents, config)
	if err != nil {
		return "", &ProviderError{
			Provider: p.Name(),
			Status:   statusFromError(err),
			Raw:      err.Error(),
			Err:      err,
		}
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", &ProviderError{
			Provider: p.Name(),
			Err:      fmt.Errorf("empty response from Gemini API"),
		}
	}

	text := resp.Text()
	if text == "" {
		return "", &ProviderError{
			Provider: p.Name(),
			Err:      fmt.Errorf("empty text in Gemini response"),
		}
	}
	return text, nil
}

func (p *geminiProvider) Close() error {
	p.client = nil
	return nil
}

// claudeProvider generates content through the Anthropic API
type claudeProvider struct {
	client  anthropic.Client
	config  *common.ClaudeConfig
	limiter *rate.Limiter
	logger  arbor.ILogger
}

func newClaudeProvider(config *common.ClaudeConfig, logger arbor.ILogger) *claudeProvider {
	return &claudeProvider{
		client:  anthropic.NewClient(option.WithAPIKey(config.APIKey)),
		config:  config,
		limiter: parseRateLimit(config.RateLimit, time.Second),
		logger:  logger,
	}
}

func (p *claudeProvider) Name() string {
	return string(common.LLMProviderClaude)
}

func (p *claudeProvider) GenerateContent(ctx context.Context, prompt string) (string, error) {
	if p.config.APIKey == "" {
		return "", &ProviderError{
			Provider: p.Name(),
			Status:   401,
			Err:      fmt.Errorf("anthropic API key not configured"),
		}
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return "", err
	}

	maxTokens := p.config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.config.Model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if p.config.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(p.config.Temperature))
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", &ProviderError{
			Provider: p.Name(),
			Status:   statusFromError(err),
			Raw:      err.Error(),
			Err:      err,
		}
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return "", &ProviderError{
			Provider: p.Name(),
			Err:      fmt.Errorf("empty response from Claude API"),
		}
	}
	return text, nil
}

func (p *claudeProvider) Close() error {
	p.client = anthropic.Client{}
	return nil
}
