package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fieldserve/roster-import/internal/config"
	"github.com/fieldserve/roster-import/internal/core"
	"github.com/fieldserve/roster-import/internal/logging"
	"github.com/fieldserve/roster-import/internal/postgres"
	"github.com/fieldserve/roster-import/internal/schema"
	"github.com/fieldserve/roster-import/internal/web"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"import_max_concurrent", cfg.Import.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
		"classifier_enabled", cfg.Classifier.APIKey != "",
		"suggestion_cache_enabled", cfg.Redis.Addr != "",
	)

	// Parse and configure connection pool
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		slog.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}

	// Apply pool configuration from config
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	// Connect to database
	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		slog.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	// Log which database we connected to
	if u, err := url.Parse(cfg.Database.URL); err == nil {
		dbName := strings.TrimPrefix(u.Path, "/")
		slog.Info("connected to database", "name", dbName)
	} else {
		slog.Info("connected to database")
	}

	// Ensure the schema is in place
	if err := schema.Apply(ctx, pool); err != nil {
		slog.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}

	// Stores
	batches := postgres.NewBatchRepo(pool)
	customers := postgres.NewCustomerRepo(pool)
	templates := postgres.NewTemplateRepo(pool)
	audit := postgres.NewAuditRepo(pool)

	// Classifier suggestion cache; empty REDIS_ADDR runs without one
	var cache core.SuggestionCache
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Error("failed to ping redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		cache = core.NewRedisSuggestionCache(rdb, cfg.Redis.SuggestionTTL)
	}

	// Header classifier; without an API key mapping relies on the
	// deterministic heuristics and templates alone
	var classifier core.HeaderClassifier
	if cfg.Classifier.APIKey != "" {
		classifier = core.NewOpenAIClassifier(
			cfg.Classifier.APIKey,
			cfg.Classifier.BaseURL,
			cfg.Classifier.Model,
			cfg.Classifier.Timeout,
		)
	}
	resolver := core.NewMappingResolver(classifier, cache, templates, cfg.Classifier.Threshold)

	limiter := core.NewImportLimiter(cfg.Import.MaxConcurrent, cfg.Import.MaxWaitTime)

	service, err := core.NewService(batches, customers, templates, audit, resolver, limiter, core.Options{
		MaxRows:       cfg.Import.MaxRows,
		CommitWorkers: cfg.Import.CommitWorkers,
		CommitGroup:   cfg.Import.CommitGroup,
		RetentionTTL:  cfg.Retention.BatchTTL,
	})
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	// Create server with config
	server := web.NewServer(service, limiter, cfg)

	// Create cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())

	// Start retention sweeper with config values
	go service.StartRetentionSweeper(jobCtx, core.SweeperConfig{
		CheckInterval: cfg.Retention.CheckInterval,
		BatchTTL:      cfg.Retention.BatchTTL,
		AuditTTL:      cfg.Retention.AuditTTL,
	})

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		// Stop background jobs
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for active imports to complete (with timeout)
		status := limiter.Status()
		if status.Active > 0 {
			slog.Info("waiting for imports to complete", "active", status.Active)
			if err := limiter.WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("imports did not complete in time", "error", err)
			} else {
				slog.Info("all imports completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	// Start server
	if err := server.Start(cfg.Server.Addr()); err != nil {
		slog.Info("server stopped", "error", err)
	}
}
