package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atelier-ai/atelier/internal/config"
	"github.com/atelier-ai/atelier/internal/conversation"
	"github.com/atelier-ai/atelier/internal/db"
	"github.com/atelier-ai/atelier/internal/execution"
	"github.com/atelier-ai/atelier/internal/llm"
	_ "github.com/atelier-ai/atelier/internal/metrics" // Import for side effects
	"github.com/atelier-ai/atelier/internal/personas"
	"github.com/atelier-ai/atelier/internal/retrieval"
	"github.com/atelier-ai/atelier/internal/router"
	"github.com/atelier-ai/atelier/internal/server"
	"github.com/atelier-ai/atelier/internal/tracing"
	"github.com/atelier-ai/atelier/internal/workflow"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := tracing.Initialize(cfg.Tracing, logger); err != nil {
		logger.Warn("Tracing disabled", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Tracing shutdown failed", zap.Error(err))
		}
	}()

	// Database and schema
	dbClient, err := db.NewClient(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer dbClient.Close()
	if err := dbClient.Bootstrap(ctx); err != nil {
		logger.Fatal("Failed to bootstrap schema", zap.Error(err))
	}
	workflowRepo := db.NewWorkflowRepo(dbClient, logger)
	messageRepo := db.NewMessageRepo(dbClient, logger)

	// Redis-backed conversation state
	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	conversations, err := conversation.NewManager(redisClient, cfg.Redis.ConversationTTL, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer conversations.Close()

	// Workflow templates and personas from disk
	templates := workflow.NewRegistry()
	if err := templates.LoadDirectory(cfg.Templates.Dir); err != nil {
		logger.Warn("Failed to load workflow templates",
			zap.String("dir", cfg.Templates.Dir),
			zap.Error(err))
	}
	personaStore := personas.NewStore(logger)
	if err := personaStore.LoadDirectory(cfg.Personas.Dir); err != nil {
		logger.Warn("Failed to load personas",
			zap.String("dir", cfg.Personas.Dir),
			zap.Error(err))
	}

	events := server.NewEventHub(logger)
	defer events.Close()

	// Hot reload for template and persona directories
	watcher, err := config.NewWatcher(logger)
	if err != nil {
		logger.Warn("File watching unavailable", zap.Error(err))
	} else {
		defer watcher.Stop()
		if err := watcher.Watch(cfg.Templates.Dir, func() error {
			if err := templates.Reload(cfg.Templates.Dir); err != nil {
				logger.Warn("Template reload failed", zap.Error(err))
				return err
			}
			events.Publish(server.EventTemplatesLoaded, map[string]any{
				"count": len(templates.List()),
			})
			return nil
		}); err != nil {
			logger.Warn("Failed to watch template directory", zap.Error(err))
		}
		if err := watcher.Watch(cfg.Personas.Dir, func() error {
			if err := personaStore.LoadDirectory(cfg.Personas.Dir); err != nil {
				logger.Warn("Persona reload failed", zap.Error(err))
				return err
			}
			events.Publish(server.EventPersonasLoaded, map[string]any{
				"count": personaStore.Len(),
			})
			return nil
		}); err != nil {
			logger.Warn("Failed to watch persona directory", zap.Error(err))
		}
		go watcher.Start(ctx)
	}

	// Pipeline collaborators and execution engine
	retriever := retrieval.NewClient(cfg.Collaborators.RetrievalURL, cfg.Collaborators.Timeout, logger)
	generator := llm.NewClient(cfg.Collaborators.LLMURL, cfg.Collaborators.Timeout, logger)
	engine := router.NewEngine(logger)
	runner := execution.NewRunner(engine, retriever, generator, logger)

	handlers := server.Handlers{
		Workflows: server.NewWorkflowHandler(workflowRepo, templates, events, logger),
		Messages:  server.NewMessageHandler(conversations, messageRepo, workflowRepo, personaStore, runner, events, logger),
		Personas:  server.NewPersonaHandler(personaStore),
		Health:    server.NewHealthHandler(dbClient, redisClient, logger),
		Events:    events,
	}
	srv := server.New(cfg.Server, handlers, logger)

	// Standalone metrics listener so scrapes bypass the API rate limiter
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Metrics server listening", zap.Int("port", cfg.Server.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("Server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Metrics shutdown failed", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
