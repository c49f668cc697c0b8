package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Ingest      IngestConfig    `toml:"ingest"`
	Search      SearchConfig    `toml:"search"`
	Gemini      GeminiConfig    `toml:"gemini"`
	Claude      ClaudeConfig    `toml:"claude"`
	LLM         LLMConfig       `toml:"llm"`
	Retention   RetentionConfig `toml:"retention"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger  BadgerConfig `toml:"badger"`
	Uploads string       `toml:"uploads"` // Directory for uploaded source documents
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05.000")
}

// IngestConfig contains upload validation and pipeline pacing settings
type IngestConfig struct {
	MaxFileSizeBytes  int64    `toml:"max_file_size_bytes"` // Per-file upload cap (default: 15 MiB)
	MaxFiles          int      `toml:"max_files"`           // Max files per ingest request
	AllowedExtensions []string `toml:"allowed_extensions"`  // Lowercase extensions accepted on upload
	StepDelayMin      string   `toml:"step_delay_min"`      // Lower bound for simulated stage pacing
	StepDelayMax      string   `toml:"step_delay_max"`      // Upper bound for simulated stage pacing
}

// SearchConfig contains configuration for the local retrieval index
type SearchConfig struct {
	ChunkSize      int `toml:"chunk_size"`      // Characters per indexed chunk
	ContextBudget  int `toml:"context_budget"`  // Max characters of context assembled per prompt
	SnippetLength  int `toml:"snippet_length"`  // Snippet size returned with search hits
	DefaultResults int `toml:"default_results"` // Result count when the caller does not specify one
}

// GeminiConfig contains Google Gemini API configuration
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`     // Google Gemini API key
	Model       string  `toml:"model"`       // Model for report generation (default: "gemini-2.5-flash")
	Timeout     string  `toml:"timeout"`     // Operation timeout as duration string (default: "5m")
	RateLimit   string  `toml:"rate_limit"`  // Minimum spacing between requests (default: "4s" for 15 RPM)
	Temperature float32 `toml:"temperature"` // Generation temperature (default: 0.2)
}

// ClaudeConfig contains Anthropic Claude API configuration
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`     // Anthropic API key
	Model       string  `toml:"model"`       // Model for report generation (default: "claude-haiku-3-5-20241022")
	MaxTokens   int     `toml:"max_tokens"`  // Maximum tokens in response (default: 8192)
	Timeout     string  `toml:"timeout"`     // Operation timeout as duration string (default: "5m")
	RateLimit   string  `toml:"rate_limit"`  // Minimum spacing between requests (default: "1s")
	Temperature float32 `toml:"temperature"` // Generation temperature (default: 0.2)
}

// LLMProvider represents the AI provider type
type LLMProvider string

const (
	// LLMProviderGemini uses Google Gemini API
	LLMProviderGemini LLMProvider = "gemini"
	// LLMProviderClaude uses Anthropic Claude API
	LLMProviderClaude LLMProvider = "claude"
	// LLMProviderLocal uses the deterministic local generator, no network calls
	LLMProviderLocal LLMProvider = "local"
)

// LLMConfig contains unified configuration for report generation providers
type LLMConfig struct {
	Provider       LLMProvider `toml:"provider"`          // "gemini", "claude", or "local" (default: "local")
	FailOpen       bool        `toml:"fail_open"`         // Fall back to the local generator when a provider call fails
	MaxCallsPerDay int         `toml:"max_calls_per_day"` // Per-provider daily call budget, 0 disables the cap
	MaxRetries     int         `toml:"max_retries"`       // Extra attempts after a transient provider error
	RetryDelay     string      `toml:"retry_delay"`       // Fixed delay between retries (default: "2s")
	TopK           int         `toml:"top_k"`             // Chunks retrieved per file for prompt context
}

// RetentionConfig controls the scheduled cleanup of aged jobs and reports
type RetentionConfig struct {
	Enabled  bool   `toml:"enabled"`  // Disabled by default
	Schedule string `toml:"schedule"` // Cron schedule format
	MaxAge   string `toml:"max_age"`  // Jobs older than this are swept (default: "720h")
}

// NewDefaultConfig creates a configuration with default values
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in scrutor.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development", // Default to development mode
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
			Uploads: "./data/uploads",
		},
		Logging: LoggingConfig{
			Level:  "info",                     // Info level for production (debug|info|warn|error)
			Format: "text",                     // Human-readable text format (text|json)
			Output: []string{"stdout", "file"}, // Log to both console and file
		},
		Ingest: IngestConfig{
			MaxFileSizeBytes:  15 * 1024 * 1024, // 15MB per file
			MaxFiles:          20,
			AllowedExtensions: []string{".csv", ".txt", ".md", ".json", ".pdf", ".xlsx"},
			StepDelayMin:      "150ms",
			StepDelayMax:      "400ms",
		},
		Search: SearchConfig{
			ChunkSize:      1200,
			ContextBudget:  24000,
			SnippetLength:  240,
			DefaultResults: 8,
		},
		Gemini: GeminiConfig{
			APIKey:      "", // User must provide API key (GEMINI_API_KEY or config)
			Model:       "gemini-2.5-flash",
			Timeout:     "5m",
			RateLimit:   "4s", // Default to 4s (15 RPM) for free tier
			Temperature: 0.2,
		},
		Claude: ClaudeConfig{
			APIKey:      "", // User must provide API key (ANTHROPIC_API_KEY or config)
			Model:       "claude-haiku-3-5-20241022",
			MaxTokens:   8192,
			Timeout:     "5m",
			RateLimit:   "1s",
			Temperature: 0.2,
		},
		LLM: LLMConfig{
			Provider:       LLMProviderLocal, // Deterministic generator unless a provider is configured
			FailOpen:       true,
			MaxCallsPerDay: 200,
			MaxRetries:     2,
			RetryDelay:     "2s",
			TopK:           3,
		},
		Retention: RetentionConfig{
			Enabled:  false,          // Disabled by default, user must explicitly opt-in
			Schedule: "0 0 3 * * *",  // Daily at 03:00 (cron format with seconds)
			MaxAge:   "720h",         // 30 days
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env -> CLI
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env -> CLI
// Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	// Start with defaults
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier files)
	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		err = toml.Unmarshal(data, config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	// Apply environment variables (overrides all file configs)
	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Environment configuration (highest priority: SCRUTOR_ENV, fallback: GO_ENV)
	if env := os.Getenv("SCRUTOR_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("SCRUTOR_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("SCRUTOR_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if badgerPath := os.Getenv("SCRUTOR_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if uploads := os.Getenv("SCRUTOR_UPLOADS_DIR"); uploads != "" {
		config.Storage.Uploads = uploads
	}

	// Logging configuration
	if level := os.Getenv("SCRUTOR_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("SCRUTOR_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("SCRUTOR_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			trimmed := strings.TrimSpace(o)
			if trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Ingest configuration
	if maxSize := os.Getenv("SCRUTOR_INGEST_MAX_FILE_SIZE_BYTES"); maxSize != "" {
		if ms, err := strconv.ParseInt(maxSize, 10, 64); err == nil {
			config.Ingest.MaxFileSizeBytes = ms
		}
	}
	if maxFiles := os.Getenv("SCRUTOR_INGEST_MAX_FILES"); maxFiles != "" {
		if mf, err := strconv.Atoi(maxFiles); err == nil {
			config.Ingest.MaxFiles = mf
		}
	}

	// Search configuration
	if chunkSize := os.Getenv("SCRUTOR_SEARCH_CHUNK_SIZE"); chunkSize != "" {
		if cs, err := strconv.Atoi(chunkSize); err == nil {
			config.Search.ChunkSize = cs
		}
	}
	if contextBudget := os.Getenv("SCRUTOR_SEARCH_CONTEXT_BUDGET"); contextBudget != "" {
		if cb, err := strconv.Atoi(contextBudget); err == nil {
			config.Search.ContextBudget = cb
		}
	}

	// Gemini configuration
	if apiKey := os.Getenv("SCRUTOR_GEMINI_API_KEY"); apiKey != "" {
		config.Gemini.APIKey = apiKey
	} else if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		config.Gemini.APIKey = apiKey
	}
	if model := os.Getenv("SCRUTOR_GEMINI_MODEL"); model != "" {
		config.Gemini.Model = model
	}
	if timeout := os.Getenv("SCRUTOR_GEMINI_TIMEOUT"); timeout != "" {
		config.Gemini.Timeout = timeout
	}
	if rateLimit := os.Getenv("SCRUTOR_GEMINI_RATE_LIMIT"); rateLimit != "" {
		config.Gemini.RateLimit = rateLimit
	}
	if temperature := os.Getenv("SCRUTOR_GEMINI_TEMPERATURE"); temperature != "" {
		if t, err := strconv.ParseFloat(temperature, 32); err == nil {
			config.Gemini.Temperature = float32(t)
		}
	}

	// Claude configuration
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey
	}
	if apiKey := os.Getenv("SCRUTOR_CLAUDE_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey // SCRUTOR_ prefix takes priority
	}
	if model := os.Getenv("SCRUTOR_CLAUDE_MODEL"); model != "" {
		config.Claude.Model = model
	}
	if maxTokens := os.Getenv("SCRUTOR_CLAUDE_MAX_TOKENS"); maxTokens != "" {
		if mt, err := strconv.Atoi(maxTokens); err == nil {
			config.Claude.MaxTokens = mt
		}
	}
	if timeout := os.Getenv("SCRUTOR_CLAUDE_TIMEOUT"); timeout != "" {
		config.Claude.Timeout = timeout
	}
	if rateLimit := os.Getenv("SCRUTOR_CLAUDE_RATE_LIMIT"); rateLimit != "" {
		config.Claude.RateLimit = rateLimit
	}
	if temperature := os.Getenv("SCRUTOR_CLAUDE_TEMPERATURE"); temperature != "" {
		if t, err := strconv.ParseFloat(temperature, 32); err == nil {
			config.Claude.Temperature = float32(t)
		}
	}

	// LLM provider configuration
	if provider := os.Getenv("SCRUTOR_LLM_PROVIDER"); provider != "" {
		config.LLM.Provider = LLMProvider(provider)
	}
	if failOpen := os.Getenv("SCRUTOR_LLM_FAIL_OPEN"); failOpen != "" {
		if fo, err := strconv.ParseBool(failOpen); err == nil {
			config.LLM.FailOpen = fo
		}
	}
	if maxCalls := os.Getenv("SCRUTOR_LLM_MAX_CALLS_PER_DAY"); maxCalls != "" {
		if mc, err := strconv.Atoi(maxCalls); err == nil {
			config.LLM.MaxCallsPerDay = mc
		}
	}
	if maxRetries := os.Getenv("SCRUTOR_LLM_MAX_RETRIES"); maxRetries != "" {
		if mr, err := strconv.Atoi(maxRetries); err == nil {
			config.LLM.MaxRetries = mr
		}
	}
	if retryDelay := os.Getenv("SCRUTOR_LLM_RETRY_DELAY"); retryDelay != "" {
		if _, err := time.ParseDuration(retryDelay); err == nil {
			config.LLM.RetryDelay = retryDelay
		}
	}

	// Retention configuration
	if enabled := os.Getenv("SCRUTOR_RETENTION_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Retention.Enabled = e
		}
	}
	if schedule := os.Getenv("SCRUTOR_RETENTION_SCHEDULE"); schedule != "" {
		config.Retention.Schedule = schedule
	}
	if maxAge := os.Getenv("SCRUTOR_RETENTION_MAX_AGE"); maxAge != "" {
		if _, err := time.ParseDuration(maxAge); err == nil {
			config.Retention.MaxAge = maxAge
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// ProviderConfigured reports whether the configured provider has the
// credentials it needs. The local generator never requires credentials.
func (c *Config) ProviderConfigured() bool {
	switch c.LLM.Provider {
	case LLMProviderGemini:
		return c.Gemini.APIKey != ""
	case LLMProviderClaude:
		return c.Claude.APIKey != ""
	case LLMProviderLocal:
		return true
	default:
		return false
	}
}

// RetryDelay parses the configured retry delay, falling back to 2s
func (c *Config) RetryDelay() time.Duration {
	if d, err := time.ParseDuration(c.LLM.RetryDelay); err == nil && d > 0 {
		return d
	}
	return 2 * time.Second
}

// StepDelayBounds parses the simulated stage pacing window, falling back
// to 150ms-400ms
func (c *Config) StepDelayBounds() (time.Duration, time.Duration) {
	min := 150 * time.Millisecond
	max := 400 * time.Millisecond
	if d, err := time.ParseDuration(c.Ingest.StepDelayMin); err == nil && d >= 0 {
		min = d
	}
	if d, err := time.ParseDuration(c.Ingest.StepDelayMax); err == nil && d >= 0 {
		max = d
	}
	if max < min {
		max = min
	}
	return min, max
}

// RetentionMaxAge parses the configured retention window, falling back to 30 days
func (c *Config) RetentionMaxAge() time.Duration {
	if d, err := time.ParseDuration(c.Retention.MaxAge); err == nil && d > 0 {
		return d
	}
	return 720 * time.Hour
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
