package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/labtrend-engine/internal/api"
	"github.com/labtrend-engine/internal/config"
	"github.com/labtrend-engine/internal/database"
	"github.com/labtrend-engine/internal/history"
	"github.com/labtrend-engine/internal/reference"
	"github.com/labtrend-engine/internal/registry"
	"github.com/labtrend-engine/internal/repository"
	"github.com/labtrend-engine/internal/service"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := buildLogger(cfg.Logging)
	logger.WithFields(logrus.Fields{
		"host":    cfg.Server.Host,
		"port":    cfg.Server.Port,
		"backend": cfg.History.Backend,
	}).Info("Starting lab trend server")

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg, err := registry.Load(logger)
	if err != nil {
		log.Fatalf("Failed to load test registry: %v", err)
	}

	store, err := buildHistoryStore(ctx, configManager, logger)
	if err != nil {
		log.Fatalf("Failed to create history store: %v", err)
	}
	defer store.Close()

	// The report archive shares the PostgreSQL instance with the postgres
	// history backend and is only wired when that backend is selected.
	var archive *repository.ReportArchive
	if cfg.History.Backend == "postgres" {
		archive, err = buildArchive(ctx, configManager, logger)
		if err != nil {
			log.Fatalf("Failed to set up report archive: %v", err)
		}
	}

	pipeline := service.NewPipeline(
		reg,
		reference.NewResolver(reg, logger),
		service.NewClassifier(cfg.Engine.BorderlineMargin, logger),
		service.NewTrendAnalyzer(cfg.Engine.NoiseFraction, logger),
		store,
		service.PipelineOptions{
			Concurrency:  cfg.Engine.Concurrency,
			HistoryLimit: cfg.History.FetchLimit,
		},
		logger,
	)

	server := api.NewServer(cfg.Server, pipeline, reg, archive, logger, !configManager.IsProduction())

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Start server
	if err := server.Start(ctx); err != nil {
		log.Fatalf("Server failed: %v", err)
	}

	logger.Info("Server stopped")
}

func buildLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Output == "stderr" {
		logger.SetOutput(os.Stderr)
	}

	return logger
}

// buildHistoryStore creates the configured history backend and wraps it with
// timeouts, retries and a circuit breaker.
func buildHistoryStore(ctx context.Context, manager *config.Manager, logger *logrus.Logger) (history.Store, error) {
	cfg := manager.GetConfig().History

	var (
		inner history.Store
		err   error
	)
	switch cfg.Backend {
	case "memory":
		inner = history.NewMemoryStore()
	case "sqlite":
		inner, err = history.NewSQLiteStore(cfg.SQLitePath)
	case "postgres":
		inner, err = history.NewPostgresStoreFromURL(manager.GetDatabaseConnectionString())
	case "redis":
		inner, err = history.NewRedisStore(ctx, history.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	default:
		return nil, fmt.Errorf("unsupported history backend: %s", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	return history.NewResilientStore(inner, history.ResilientOptions{
		OpTimeout:    cfg.OpTimeout,
		Retries:      cfg.Retries,
		RetryBackoff: cfg.RetryBackoff,
	}, logger), nil
}

// buildArchive runs pending migrations and opens the report archive pool.
func buildArchive(ctx context.Context, manager *config.Manager, logger *logrus.Logger) (*repository.ReportArchive, error) {
	cfg := manager.GetConfig()
	db := cfg.Database
	databaseURL := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		db.Username, db.Password, db.Host, db.Port, db.Database, db.SSLMode)

	runner, err := database.NewMigrationRunner(databaseURL, "migrations", logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration runner: %w", err)
	}
	defer runner.Close()
	if err := runner.Up(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	conn, err := database.NewConnection(ctx, db, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return repository.NewReportArchive(conn, logger), nil
}
