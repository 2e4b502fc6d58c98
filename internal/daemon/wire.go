package daemon

import (
	"context"
	"fmt"
	"log/slog"

	"aco/internal/attempts"
	"aco/internal/chat"
	"aco/internal/config"
	"aco/internal/credentials"
	"aco/internal/export"
	"aco/internal/manifest"
	"aco/internal/notebook"
	"aco/internal/notifications"
	"aco/internal/pipeline"
	"aco/internal/report"
	"aco/internal/runs"
	"aco/internal/scanner"
	"aco/internal/scriptplan"
	"aco/internal/services/llm"
	"aco/internal/services/uv"
	"aco/internal/strategy"
	"aco/internal/understanding"
	"aco/internal/workflow"
)

// WireOptions overrides parts of the service graph, mainly for tests.
type WireOptions struct {
	// Source replaces the credential-backed LLM provider.
	Source llm.Source
	// UV replaces the uv client built from the execution config.
	UV *uv.Client
	// Uploader replaces the S3 uploader built from the export config.
	Uploader export.Uploader
}

// Wire builds every service for cfg. The caller owns the returned attempt
// store and closes it (Daemon.Close does).
func Wire(ctx context.Context, cfg *config.Config, opts WireOptions, logger *slog.Logger) (Services, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return Services{}, err
	}

	resolver := credentials.NewResolver(credentials.NewFileStore(cfg.CredentialsPath()), cfg.LLM.APIKey, logger)
	source := opts.Source
	if source == nil {
		llmCfg := cfg.GetLLM()
		source = llm.NewProvider(llm.Config{
			BaseURL:           llmCfg.BaseURL,
			Model:             llmCfg.Model,
			TimeoutSeconds:    llmCfg.TimeoutSeconds,
			RequestsPerMinute: llmCfg.RequestsPerMinute,
			MaxOutputTokens:   llmCfg.MaxOutputTokens,
		}, resolver.Resolve, llm.WithRetryMaxAttempts(llmCfg.RetryAttempts))
	}

	uvClient := opts.UV
	if uvClient == nil {
		var err error
		uvClient, err = uv.New(cfg.Execution.UVBinary, uv.WithPython(cfg.Execution.PythonBinary))
		if err != nil {
			return Services{}, fmt.Errorf("uv client: %w", err)
		}
	}

	uploader := opts.Uploader
	if uploader == nil && cfg.Export.Enabled {
		s3, err := export.NewS3(ctx, cfg.Export)
		if err != nil {
			return Services{}, fmt.Errorf("export: %w", err)
		}
		uploader = s3
	}

	attemptStore, err := attempts.Open(cfg.AttemptsDBPath())
	if err != nil {
		return Services{}, fmt.Errorf("open attempts store: %w", err)
	}

	store := runs.NewStore(cfg.Paths.RunsDir)
	manifests := manifest.NewService(store, scanner.Options{MaxDepth: cfg.Scanner.MaxDepth}, logger)
	manifests.OnDelete(attemptStore.DeleteRun)
	u := understanding.NewEngine(store, manifests, source, logger)
	s := strategy.NewEngine(store, manifests, u, source, logger)
	planner := scriptplan.NewPlanner(store, manifests, u, s, source, cfg.Execution.CodegenConcurrency, logger)
	runner := pipeline.NewRunner(store, planner, attemptStore, uvClient, cfg.Execution, logger)
	runner.SetNotifier(notifications.NewService(cfg.Notifications))
	notebooks := notebook.NewGenerator(store, u, s, planner, source, logger)
	reports := report.NewGenerator(store, u, s, planner, notebooks, source, logger)

	return Services{
		Runs:          store,
		Manifests:     manifests,
		Understanding: u,
		Strategy:      s,
		Planner:       planner,
		Pipeline:      runner,
		Attempts:      attemptStore,
		Notebooks:     notebooks,
		Reports:       reports,
		Chat:          chat.NewService(store, manifests, u, s, planner, notebooks, reports, source, logger),
		Export:        export.NewPublisher(store, planner, notebooks, reports, uploader, cfg.Export.Prefix, logger),
		Workflow:      workflow.NewTracker(store, u, planner, logger),
		Credentials:   resolver,
	}, nil
}
