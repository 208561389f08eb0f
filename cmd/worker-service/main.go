package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/JimmySunCreater/KnowledgeBase-Dify-MinerU/internal/config"
	"github.com/JimmySunCreater/KnowledgeBase-Dify-MinerU/internal/health"
	"github.com/JimmySunCreater/KnowledgeBase-Dify-MinerU/internal/jobstore"
	"github.com/JimmySunCreater/KnowledgeBase-Dify-MinerU/internal/metrics"
	"github.com/JimmySunCreater/KnowledgeBase-Dify-MinerU/internal/processor"
	"github.com/JimmySunCreater/KnowledgeBase-Dify-MinerU/internal/queue"
	"github.com/JimmySunCreater/KnowledgeBase-Dify-MinerU/internal/worker"
	"github.com/JimmySunCreater/KnowledgeBase-Dify-MinerU/shared/awsclients"
	"github.com/JimmySunCreater/KnowledgeBase-Dify-MinerU/shared/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	configPath := flag.String("config", os.Getenv("WORKER_CONFIG_PATH"), "Path to configuration file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	mode := worker.ModeContinuous
	if cfg.SingleShot() {
		mode = worker.ModeSingleShot
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("mode", mode),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clients, err := awsclients.New(ctx, appLogger.Logger)
	if err != nil {
		return err
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	store := jobstore.NewStore(clients.DynamoDB, cfg.Store.Table, appLogger.Logger)

	var jobQueue *queue.Client
	if cfg.Queue.URL != "" {
		jobQueue = queue.NewClient(clients.SQS, cfg.Queue.URL, appLogger.Logger)
	}

	proc := processor.New(processor.NewS3Blob(clients.S3), processor.Config{
		WorkDir:      cfg.Processor.WorkDir,
		CleanupFiles: cfg.Processor.CleanupFiles,
		Binary:       cfg.Processor.Binary,
		ExtraArgs:    cfg.Processor.ExtraArgs,
		TailLines:    cfg.Processor.TailLines,
		ProbeTimeout: cfg.Processor.ProbeTimeout,
	}, appLogger.Logger)

	tracker := worker.NewTracker(mode)
	workerMetrics := metrics.New()

	orchestrator := worker.NewOrchestrator(&worker.Config{
		Logger:       appLogger.Logger,
		Store:        store,
		Queue:        jobQueue,
		Invoker:      proc,
		Metrics:      workerMetrics,
		Tracker:      tracker,
		PollInterval: cfg.Queue.PollInterval,
		WaitTime:     cfg.Queue.WaitTime,
		Role:         cfg.Worker.Role,
		Hostname:     hostname,
	})

	checker := health.NewChecker(
		clients.S3, clients.DynamoDB, clients.SQS, proc,
		cfg.Store.Table, cfg.Queue.URL, cfg.Processor.WorkDir,
		appLogger.Logger,
	)

	statusServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      health.NewRouter(appLogger.Logger, checker, tracker, workerMetrics),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		if err := statusServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("Status server error",
				slog.String("error", err.Error()),
			)
		}
	}()
	defer shutdownServer(statusServer, cfg.Server.ShutdownTimeout, appLogger.Logger)

	// Signal handling is installed before mode dispatch so a SIGTERM during
	// a single-shot job still gets the interruption write.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	if cfg.SingleShot() {
		// No retry here: the scheduler re-invokes the task on failure.
		go func() {
			errChan <- orchestrator.RunSingle(ctx, cfg.Worker.JobID)
		}()
	} else {
		go func() {
			errChan <- orchestrator.Run(ctx)
		}()
	}

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		return err
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer stopCancel()
	orchestrator.Stop(stopCtx)
	cancel()

	select {
	case err := <-errChan:
		if cfg.SingleShot() && err != nil {
			return err
		}
		appLogger.Info("Worker stopped gracefully")
	case <-stopCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

func shutdownServer(srv *http.Server, timeout time.Duration, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("Status server shutdown failed",
			slog.String("error", err.Error()),
		)
	}
}
