package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/enrollflow/internal/api"
	"github.com/timmy/enrollflow/internal/api/handler"
	"github.com/timmy/enrollflow/internal/classifier"
	"github.com/timmy/enrollflow/internal/config"
	"github.com/timmy/enrollflow/internal/crm"
	"github.com/timmy/enrollflow/internal/logger"
	"github.com/timmy/enrollflow/internal/repository"
	"github.com/timmy/enrollflow/internal/runner"
	"github.com/timmy/enrollflow/internal/service"
	"github.com/timmy/enrollflow/internal/storage"
)

func main() {
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.SetDefaultLogger(logger.NewDefault())
	defer logger.Sync()

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to initialize database: %v", err)
	}
	store := service.NewExecutionLogStore(repository.NewExecutionLogRepository(db))

	opts := service.OrchestratorOptions{
		Store:            store,
		Runner:           runner.New(runner.ExecLauncher{}, runner.NewConfigSelector(&cfg.Worker), runner.OptionsFromConfig(&cfg.Worker)),
		Classifier:       classifier.New(cfg.Worker.OutputWindow),
		AppendBuffer:     cfg.Worker.AppendBuffer,
		ApprovalField:    cfg.CRM.ApprovalField,
		PaymentSlipField: cfg.CRM.PaymentSlipField,
	}

	objectStorage, err := storage.New(&cfg.Storage)
	switch {
	case errors.Is(err, storage.ErrDisabled):
		logger.Info("Artifact archival disabled")
	case err != nil:
		logger.Fatal("Failed to initialize storage: %v", err)
	default:
		opts.Archiver = storage.NewArchive(objectStorage, cfg.Storage.Prefix)
	}

	// Leave the router's coordinator a nil interface when CRM is off.
	var uploads handler.UploadCoordinator
	if cfg.CRM.Enabled {
		coordinator := crm.NewCoordinatorFromConfig(crm.NewRemoteDriver(crm.RemoteConfigFrom(&cfg.CRM)), &cfg.CRM)
		opts.Uploader = coordinator
		uploads = coordinator
		logger.Info("CRM integration enabled: driver=%s", cfg.CRM.DriverURL)
	}

	orchestrator, err := service.NewEnrollmentOrchestrator(opts)
	if err != nil {
		logger.Fatal("Failed to initialize orchestrator: %v", err)
	}

	router := api.SetupRouter(api.RouterDeps{
		Enroller:         orchestrator,
		Logs:             store,
		Uploads:          uploads,
		ApprovalField:    cfg.CRM.ApprovalField,
		PaymentSlipField: cfg.CRM.PaymentSlipField,
		Health:           func(ctx context.Context) error { return repository.Ping(ctx, db) },
		Mode:             cfg.Server.Mode,
		CORS:             cfg.Server.CORS,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting API server: port=%d, mode=%s", cfg.Server.Port, cfg.Server.Mode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown: %v", err)
	}

	// Accepted enrollments keep running after the listener closes; give them
	// the worker timeout to finalize their logs.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Worker.Timeout+30*time.Second)
	defer drainCancel()
	if err := orchestrator.Wait(drainCtx); err != nil {
		logger.Warn("Enrollments still running at exit: %v", err)
	}

	logger.Info("Server exited")
}
