// reviewd server — receives pull-request webhooks, manages the review
// worker pool, and serves the admin and health endpoints.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/reviewd/pkg/agent"
	"github.com/codeready-toolchain/reviewd/pkg/analyzer"
	"github.com/codeready-toolchain/reviewd/pkg/api"
	"github.com/codeready-toolchain/reviewd/pkg/config"
	"github.com/codeready-toolchain/reviewd/pkg/database"
	"github.com/codeready-toolchain/reviewd/pkg/diff"
	"github.com/codeready-toolchain/reviewd/pkg/ledger"
	"github.com/codeready-toolchain/reviewd/pkg/platform"
	"github.com/codeready-toolchain/reviewd/pkg/queue"
	"github.com/codeready-toolchain/reviewd/pkg/resilience"
	"github.com/codeready-toolchain/reviewd/pkg/rules"
	"github.com/codeready-toolchain/reviewd/pkg/services"
	"github.com/codeready-toolchain/reviewd/pkg/store"
	"github.com/codeready-toolchain/reviewd/pkg/version"
)

// resolveInstanceID determines the instance identifier for multi-replica
// coordination. Priority: POD_ID env > HOSTNAME env > "local"
func resolveInstanceID() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

func main() {
	configPath := flag.String("config", "", "Path to configuration file (default: $REVIEWD_CONFIG or config/reviewd.yaml)")
	flag.Parse()

	// Load .env before anything reads the environment
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded, continuing with existing environment", "error", err)
	}

	instanceID := resolveInstanceID()
	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configPath)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel)
	logger := slog.Default()

	logger.Info("Starting reviewd",
		"version", version.Full(),
		"instance_id", instanceID,
		"http_port", cfg.HTTPPort,
		"workers", cfg.Queue.WorkerCount)

	// 2. Initialize database (runs pending migrations)
	dbClient, err := database.NewClient(ctx, database.NewConfig(cfg.DatabaseURL))
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logger.Error("Error closing database client", "error", err)
		}
	}()
	logger.Info("Connected to PostgreSQL database")

	// 3. Resilience kit shared by every outbound dependency
	retryer := resilience.NewRetryer(
		cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay, cfg.Retry.MaxDelay, cfg.Retry.Jitter, logger)
	platformBreaker := resilience.NewBreaker("platform", cfg.Breaker.FailureThreshold, cfg.Breaker.Cooldown, logger)
	analyzerBreaker := resilience.NewBreaker("analyzer", cfg.Breaker.FailureThreshold, cfg.Breaker.Cooldown, logger)

	// 4. State store (queue, claims, agent state, watermarks, timeouts)
	storeClient, err := store.NewClient(ctx, cfg.RedisURL, store.Options{
		Timeout:           cfg.Store.Timeout,
		StateTTL:          cfg.Store.StateTTL,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
	}, retryer, logger)
	if err != nil {
		logger.Error("Failed to connect to state store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := storeClient.Close(); err != nil {
			logger.Error("Error closing state store client", "error", err)
		}
	}()
	logger.Info("Connected to state store")

	// 5. Outbound clients
	platformClient := platform.NewClient(platform.Options{
		BaseURL:      cfg.Platform.BaseURL,
		Organization: cfg.Platform.Organization,
		Timeout:      cfg.Platform.Timeout,
	}, cfg.PlatformPAT, retryer, platformBreaker, logger)

	analyzerClient := analyzer.NewClient(analyzer.Options{
		URL:           cfg.Analyzer.URL,
		Timeout:       cfg.Analyzer.Timeout,
		MaxConcurrent: cfg.Analyzer.MaxConcurrent,
	}, cfg.AnalyzerAPIKey, retryer, analyzerBreaker, logger)

	// 6. Review pipeline collaborators
	ruleRegistry, err := rules.NewRegistry(cfg.Review.RulesPath)
	if err != nil {
		logger.Error("Failed to load rule registry", "error", err)
		os.Exit(1)
	}
	logger.Info("Rule registry loaded", "languages", ruleRegistry.Languages())

	differ := diff.New(platformClient, cfg.Review.ContextLines, logger)
	commentLedger := ledger.New(platformClient, analyzerClient, logger)

	// 7. Domain services
	executionService := services.NewExecutionService(dbClient, logger)
	repositoryService := services.NewRepositoryService(dbClient, platformClient, cfg.PublicBaseURL, logger)
	ingestService := services.NewIngestService(storeClient, repositoryService, cfg.Platform.Organization, cfg.WebhookSecret, logger)
	logger.Info("Services initialized")

	// 8. Settle runs left behind by a previous instance before workers start
	if err := queue.RecoverStaleRuns(ctx, storeClient, executionService, logger); err != nil {
		logger.Error("Boot recovery failed", "error", err)
		// Non-fatal — unacked queue entries redeliver on their own
	}

	// 9. Start worker pool (before the HTTP server takes webhooks)
	executor := &queue.AgentExecutor{
		Deps: agent.Deps{
			Platform: platformClient,
			Store:    storeClient,
			Differ:   differ,
			Analyzer: analyzerClient,
			Ledger:   commentLedger,
			Rules:    ruleRegistry,
			Logger:   logger,
		},
		Opts: agent.Options{BatchSize: cfg.Analyzer.BatchSize},
	}
	pool := queue.NewPool(instanceID, storeClient, executionService, executor, cfg.Queue, logger)
	if err := pool.Start(ctx); err != nil {
		logger.Error("Failed to start worker pool", "error", err)
		os.Exit(1)
	}

	// 10. Start HTTP server (non-blocking)
	httpServer := api.NewServer(cfg, dbClient, ingestService, repositoryService, executionService, storeClient, pool, logger)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "port", cfg.HTTPPort)
		if err := httpServer.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	logger.Info("reviewd started successfully", "instance_id", instanceID)

	// 11. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		logger.Error("Server error triggered shutdown", "error", err)
	}

	// 12. Graceful shutdown. The HTTP server closes first so no new events
	// arrive while the pool drains its active reviews.
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 10*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	pool.Stop()

	logger.Info("Shutdown complete")
}
