// -----------------------------------------------------------------------
// App - composition root wiring storage, services and handlers
// -----------------------------------------------------------------------

package app

import (
	"fmt"
	"os"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scrutor/internal/common"
	"github.com/ternarybob/scrutor/internal/handlers"
	"github.com/ternarybob/scrutor/internal/interfaces"
	"github.com/ternarybob/scrutor/internal/services/analyzer"
	"github.com/ternarybob/scrutor/internal/services/jobs"
	"github.com/ternarybob/scrutor/internal/services/llm"
	"github.com/ternarybob/scrutor/internal/services/reports"
	"github.com/ternarybob/scrutor/internal/services/search"
	"github.com/ternarybob/scrutor/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Services
	SearchService   interfaces.SearchService
	AnalyzerService *analyzer.Service
	LLMService      *llm.Service
	LocalGenerator  *llm.LocalGenerator
	Normalizer      *reports.Normalizer
	Orchestrator    *jobs.Orchestrator
	Retention       *jobs.Retention

	// HTTP handlers
	IngestHandler *handlers.IngestHandler
	JobHandler    *handlers.JobHandler
	ReportHandler *handlers.ReportHandler
	ChatHandler   *handlers.ChatHandler
	StatusHandler *handlers.StatusHandler
	WSHandler     *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	// Job events flow to connected websocket clients
	app.Orchestrator.SetNotifier(app.WSHandler.PublishJob)

	if err := app.Retention.Start(); err != nil {
		return nil, fmt.Errorf("failed to start retention sweep: %w", err)
	}

	logger.Info().
		Str("provider", string(cfg.LLM.Provider)).
		Bool("provider_configured", cfg.ProviderConfigured()).
		Bool("retention_enabled", cfg.Retention.Enabled).
		Msg("Application initialization complete")

	return app, nil
}

// initStorage initializes the storage layer (Badger) and the uploads
// directory
func (a *App) initStorage() error {
	if err := os.MkdirAll(a.Config.Storage.Uploads, 0o755); err != nil {
		return fmt.Errorf("failed to create uploads directory: %w", err)
	}

	storageManager, err := badger.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}
	a.StorageManager = storageManager

	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Str("uploads", a.Config.Storage.Uploads).
		Msg("Storage layer initialized")
	return nil
}

// initServices wires the analysis and report pipeline. Order matters:
// the orchestrator takes everything else as input.
func (a *App) initServices() error {
	a.SearchService = search.NewService(a.StorageManager.DocumentStorage(), &a.Config.Search, a.Logger)
	a.AnalyzerService = analyzer.NewService(a.Config.Storage.Uploads, a.Logger)

	budget := llm.NewBudget(a.StorageManager.UsageStorage(), a.Config.LLM.MaxCallsPerDay, a.Logger)
	factory := llm.NewProviderFactory(&a.Config.Gemini, &a.Config.Claude, a.Logger)
	a.LocalGenerator = llm.NewLocalGenerator(a.Config.Storage.Uploads, a.Logger)
	a.LLMService = llm.NewService(a.Config, factory, a.SearchService, a.LocalGenerator, budget, a.Logger)

	a.Normalizer = reports.NewNormalizer(a.Logger)
	a.Orchestrator = jobs.NewOrchestrator(
		a.Config,
		a.StorageManager,
		a.AnalyzerService,
		a.LLMService,
		a.LocalGenerator,
		a.Normalizer,
		a.SearchService,
		a.Logger,
	)
	a.Retention = jobs.NewRetention(a.Config, a.StorageManager, a.SearchService, a.Logger)

	return nil
}

func (a *App) initHandlers() {
	a.WSHandler = handlers.NewWebSocketHandler(a.Logger)
	a.IngestHandler = handlers.NewIngestHandler(a.Config, a.StorageManager.JobStorage(), a.Orchestrator, a.Logger)
	a.JobHandler = handlers.NewJobHandler(a.StorageManager.JobStorage(), a.Logger)
	a.ReportHandler = handlers.NewReportHandler(a.StorageManager.ReportStorage(), a.Normalizer, a.Logger)
	a.ChatHandler = handlers.NewChatHandler(a.LLMService, a.Logger)
	a.StatusHandler = handlers.NewStatusHandler(a.Logger)
}

// Close releases application resources in reverse initialization order
func (a *App) Close() error {
	if a.Retention != nil {
		a.Retention.Stop()
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close storage manager")
			return err
		}
	}

	a.Logger.Info().Msg("Application closed")
	return nil
}
