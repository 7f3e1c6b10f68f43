package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/adpilot/internal/adapters/httptool"
	"github.com/hugo-lorenzo-mato/adpilot/internal/adapters/llm"
	"github.com/hugo-lorenzo-mato/adpilot/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/adpilot/internal/boundary"
	"github.com/hugo-lorenzo-mato/adpilot/internal/config"
	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
	"github.com/hugo-lorenzo-mato/adpilot/internal/enforcer"
	"github.com/hugo-lorenzo-mato/adpilot/internal/events"
	"github.com/hugo-lorenzo-mato/adpilot/internal/intent"
	"github.com/hugo-lorenzo-mato/adpilot/internal/logging"
	"github.com/hugo-lorenzo-mato/adpilot/internal/phases"
	"github.com/hugo-lorenzo-mato/adpilot/internal/prompt"
	"github.com/hugo-lorenzo-mato/adpilot/internal/report"
	"github.com/hugo-lorenzo-mato/adpilot/internal/telemetry"
	"github.com/hugo-lorenzo-mato/adpilot/internal/validation"
	"github.com/hugo-lorenzo-mato/adpilot/internal/workflow"
)

// App holds the wired components shared by the commands.
type App struct {
	Config  *config.Config
	Logger  *logging.Logger
	Store   core.WorkflowStore
	Reports *report.Writer
	Service *workflow.Service
	Events  *events.EventBus

	telemetry *telemetry.Providers
	logFile   *os.File
}

// loadConfig loads and validates configuration using the global viper
// instance so flag bindings apply.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logging.Logger, *os.File, error) {
	var out io.Writer = os.Stderr
	var f *os.File
	if cfg.Log.File != "" {
		var err error
		f, err = logging.OpenFile(cfg.Log.File)
		if err != nil {
			return nil, nil, err
		}
		out = f
	}
	if quiet {
		cfg.Log.Level = "error"
	}
	return logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: out,
	}), f, nil
}

// newStoreApp wires only configuration, logging, the store and the report
// writer. Commands that read past results use it.
func newStoreApp(ctx context.Context) (*App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, logFile, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	store, err := state.NewStore(ctx, cfg.State.Backend, cfg.State.Path, cfg.State.DSN)
	if err != nil {
		if logFile != nil {
			_ = logFile.Close()
		}
		return nil, fmt.Errorf("opening state store: %w", err)
	}
	return &App{
		Config:  cfg,
		Logger:  logger,
		Store:   store,
		Reports: report.NewWriter(report.Config{Dir: cfg.Report.Dir, UseUTC: true, Enabled: true}),
		logFile: logFile,
	}, nil
}

// newApp wires the full orchestrator: telemetry, tool backends behind the
// boundary, routing, validation and the submission service.
func newApp(ctx context.Context) (*App, error) {
	app, err := newStoreApp(ctx)
	if err != nil {
		return nil, err
	}
	cfg := app.Config
	logger := app.Logger

	app.telemetry, err = telemetry.Setup(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
		ExportInterval: config.Duration(cfg.Telemetry.ExportInterval, 15*time.Second),
		ServiceVersion: appVersion,
	}, logger)
	if err != nil {
		_ = app.Close(ctx)
		return nil, fmt.Errorf("setting up telemetry: %w", err)
	}

	b, err := newBoundary(cfg, logger)
	if err != nil {
		_ = app.Close(ctx)
		return nil, err
	}

	app.Events = events.New(256)

	prompts, err := prompt.NewRenderer()
	if err != nil {
		_ = app.Close(ctx)
		return nil, fmt.Errorf("loading prompts: %w", err)
	}

	pcfg := phases.Config{
		FanoutLimit:      cfg.Phases.FanoutLimit,
		MicroRetries:     cfg.Phases.MicroRetries,
		MicroRetryDelay:  config.Duration(cfg.Phases.MicroRetryDelay, 500*time.Millisecond),
		SearchResults:    cfg.Phases.SearchResults,
		SimilarityTopK:   cfg.Phases.SimilarityTopK,
		CreativeVariants: cfg.Phases.CreativeCount,
		Platforms:        cfg.Workflow.Platforms,
	}

	router := workflow.NewRouter(workflow.RouterConfig{
		Routing:             cfg.Workflow.Routing.Table(),
		ConfidenceThreshold: cfg.Workflow.ConfidenceThreshold,
		PhaseTimeout:        config.Duration(cfg.Workflow.PhaseTimeout, 5*time.Minute),
		Limits: enforcer.Limits{
			MaxIterations:          cfg.Workflow.MaxIterations,
			MaxRetriesPerOperation: cfg.Workflow.MaxRetriesPerOperation,
		},
	}, workflow.RouterDeps{
		Boundary:   b,
		Classifier: intent.NewClassifier(prompts, logger),
		Executors:  phases.NewRegistry(phases.Deps{Prompts: prompts, Logger: logger, Config: pcfg}),
		Gate:       validation.NewGate(prompts, logger, validation.WithMinConfidence(cfg.Validation.MinConfidence)),
		Store:      app.Store,
		Logger:     logger,
		Metrics:    workflow.NewMetrics(logger),
		Events:     app.Events,
	})

	app.Service = workflow.NewService(workflow.ServiceConfig{
		Timeout: config.Duration(cfg.Workflow.Timeout, 30*time.Minute),
	}, workflow.ServiceDeps{
		Router:     router,
		Aggregator: workflow.NewAggregator(b, prompts, logger),
		Store:      app.Store,
		Reports:    app.Reports,
		Logger:     logger,
		Events:     app.Events,
	})
	return app, nil
}

// newBoundary registers the chat backend for the LLM tools and the HTTP
// backend for every configured data tool.
func newBoundary(cfg *config.Config, logger *logging.Logger) (*boundary.Boundary, error) {
	limits := make(map[core.ToolName]boundary.RateLimit, len(cfg.Boundary.RateLimits))
	for name, rl := range cfg.Boundary.RateLimits {
		limits[core.ToolName(name)] = boundary.RateLimit{RPS: rl.RPS, Burst: rl.Burst}
	}

	b := boundary.New(boundary.Config{
		MaxConcurrency:   cfg.Boundary.MaxConcurrency,
		CallTimeout:      config.Duration(cfg.Boundary.CallTimeout, 60*time.Second),
		RateLimitRetries: cfg.Boundary.RateLimitRetries,
		Backoff: boundary.NewRetryPolicy(
			boundary.WithBaseDelay(config.Duration(cfg.Boundary.BackoffBase, time.Second)),
			boundary.WithMaxDelay(config.Duration(cfg.Boundary.BackoffMax, 30*time.Second)),
		),
		RateLimits: limits,
	}, logger)

	chat, err := llm.New(llm.Config{
		BaseURL:         cfg.LLM.BaseURL,
		APIKey:          cfg.LLM.APIKey,
		Model:           cfg.LLM.Model,
		GenerationModel: cfg.LLM.GenerationModel,
		MaxTokens:       cfg.LLM.MaxTokens,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating llm backend: %w", err)
	}
	for _, tool := range chat.Tools() {
		if err := b.Register(tool, chat); err != nil {
			return nil, err
		}
	}

	tools, err := httptool.New(httptool.Config{
		BaseURL:   cfg.Tools.BaseURL,
		APIKey:    cfg.Tools.APIKey,
		Endpoints: cfg.Tools.Endpoints,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating tool backend: %w", err)
	}
	for _, tool := range tools.Tools() {
		if err := b.Register(tool, tools); err != nil {
			return nil, err
		}
	}

	for _, tool := range core.AllTools() {
		if !b.Registered(tool) {
			logger.Warn("no backend configured for tool; calls will fail", "tool", tool)
		}
	}
	return b, nil
}

// Close releases everything the app opened. Running workflows are asked to
// stop first.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Service != nil {
		if err := a.Service.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Events != nil {
		a.Events.Close()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
	return errors.Join(errs...)
}
