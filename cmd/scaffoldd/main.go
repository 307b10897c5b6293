// Scaffoldd turns natural-language project requests into scaffolded,
// version-controlled, CI-validated repositories through a supervised,
// multi-phase workflow.
//
// Usage:
//
//	# Start the daemon with defaults
//	scaffoldd
//
//	# Configure via file and environment
//	scaffoldd -config /etc/scaffoldd/config.yaml
//	SCAFFOLDD_SERVER_PORT=9096 SCAFFOLDD_SCM_TOKEN=... scaffoldd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/scaffoldd/internal/compliance"
	"github.com/fyrsmithlabs/scaffoldd/internal/config"
	"github.com/fyrsmithlabs/scaffoldd/internal/gitops"
	"github.com/fyrsmithlabs/scaffoldd/internal/logging"
	"github.com/fyrsmithlabs/scaffoldd/internal/metrics"
	"github.com/fyrsmithlabs/scaffoldd/internal/orchestrator"
	"github.com/fyrsmithlabs/scaffoldd/internal/plan"
	"github.com/fyrsmithlabs/scaffoldd/internal/policy"
	"github.com/fyrsmithlabs/scaffoldd/internal/requirements"
	"github.com/fyrsmithlabs/scaffoldd/internal/scm"
	"github.com/fyrsmithlabs/scaffoldd/internal/server"
	"github.com/fyrsmithlabs/scaffoldd/internal/session"
	"github.com/fyrsmithlabs/scaffoldd/internal/template"
	"github.com/fyrsmithlabs/scaffoldd/internal/workspace"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  scaffoldd           Start the scaffoldd daemon\n")
			fmt.Fprintf(os.Stderr, "  scaffoldd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("scaffoldd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the scaffoldd server and blocks until ctx is cancelled.
//
// Initialization order: configuration, logger, template catalog, policy
// and compliance engines, SCM provider, orchestrator, HTTP server.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logging.Sync(logger)
	}()

	logger.Info("starting scaffoldd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("scm_platform", cfg.SCM.Platform))
	for _, w := range cfg.Warnings() {
		logger.Warn("configuration warning", zap.String("warning", w))
	}

	engine, err := template.NewCatalogEngine(cfg.Templates.Dir, logger.Named("templates"))
	if err != nil {
		return fmt.Errorf("failed to load template catalog: %w", err)
	}
	if cfg.Templates.Watch {
		if err := engine.Watch(ctx); err != nil {
			logger.Warn("template catalog watching disabled", zap.Error(err))
		}
	}

	policies := policy.NewEngine(policy.DefaultRules(cfg.Compliance.AllowedLanguages)...)
	modules := compliance.DefaultModules()
	runner := compliance.NewRunner(logger.Named("compliance"), modules...)
	builder := plan.NewBuilder(engine, policies, runner, cfg.Compliance.RequireSBOM)

	provider, err := newProvider(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize SCM provider: %w", err)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	orch := orchestrator.New(
		engine,
		builder,
		runner,
		modules,
		provider,
		workspace.NewManager(afero.NewOsFs(), cfg.Workspace.Root),
		newExtractor(cfg, logger),
		orchestrator.Config{
			DefaultBranch:   cfg.SCM.DefaultBranch,
			RequireSBOM:     cfg.Compliance.RequireSBOM,
			CriticalModules: cfg.Compliance.Critical,
			Polling: scm.RetryConfig{
				MaxAttempts:    cfg.Polling.MaxAttempts,
				InitialBackoff: cfg.Polling.InitialBackoff,
				MaxBackoff:     cfg.Polling.MaxBackoff,
			},
		},
		m,
		logger.Named("orchestrator"),
	)
	orch.SetPublisher(gitops.NewPublisher(gitops.DefaultAuthor))

	sessions := session.NewRegistry(cfg.Server.EventBuffer, logger.Named("sessions"))

	srv, err := server.New(sessions, orch, cfg, m, registry, logger.Named("http"))
	if err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}
	return srv.Start(ctx)
}

// newProvider builds the configured SCM provider. The platform is decided
// once here and injected; nothing re-dispatches per call.
func newProvider(ctx context.Context, cfg *config.Config) (scm.Provider, error) {
	switch cfg.SCM.Platform {
	case "github":
		return scm.NewGitHubProvider(ctx, cfg.SCM.Organization, cfg.SCM.Token.Value(), cfg.SCM.BaseURL, cfg.SCM.RateLimit)
	case "azuredevops":
		return scm.NewAzureDevOpsProvider(cfg.SCM.BaseURL, cfg.SCM.Organization, cfg.SCM.Token.Value(), cfg.SCM.RateLimit)
	default:
		return nil, fmt.Errorf("unsupported scm platform %q", cfg.SCM.Platform)
	}
}

// newExtractor wires the completion-backed extractor when configured,
// with heuristics as the permanent fallback.
func newExtractor(cfg *config.Config, logger *zap.Logger) requirements.Extractor {
	heuristic := requirements.NewHeuristicExtractor()
	if !cfg.Completion.Enabled || !cfg.Completion.APIKey.IsSet() {
		return heuristic
	}
	model, err := openai.New(
		openai.WithModel(cfg.Completion.Model),
		openai.WithToken(cfg.Completion.APIKey.Value()),
	)
	if err != nil {
		logger.Warn("completion provider unavailable, using heuristic extraction", zap.Error(err))
		return heuristic
	}
	return requirements.NewCompletionExtractor(model, heuristic, logger.Named("extractor"))
}
