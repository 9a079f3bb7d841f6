package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/on-par/agent-ops/internal/config"
	"github.com/on-par/agent-ops/internal/domain"
	"github.com/on-par/agent-ops/internal/executor"
	"github.com/on-par/agent-ops/internal/orchestrator"
	"github.com/on-par/agent-ops/internal/pool"
	"github.com/on-par/agent-ops/internal/storage"
	fsarchive "github.com/on-par/agent-ops/internal/storage/fs"
	gcsarchive "github.com/on-par/agent-ops/internal/storage/gcs"
	sqlstorage "github.com/on-par/agent-ops/internal/storage/sql"
	"github.com/on-par/agent-ops/internal/workflow"
	"github.com/on-par/agent-ops/internal/wspublish"
	"github.com/on-par/agent-ops/pkg/observability"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	serviceName := cfg.Observability.ServiceName
	if serviceName == "" {
		serviceName = "agent-ops-orchestrator"
	}
	providers, err := observability.Init(ctx, serviceName, cfg.Observability.OTelEnabled)
	if err != nil {
		log.Fatalf("Failed to initialize observability: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			slog.Error("observability shutdown failed", "error", err)
		}
	}()

	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open work store: %v", err)
	}
	defer store.Close()

	archive, err := openArchive(ctx, cfg.Archive)
	if err != nil {
		log.Fatalf("Failed to open escalation archive: %v", err)
	}

	hub := wspublish.NewHub()
	defer hub.Close()

	workerPool := pool.New(nil, pool.WithMaxWorkers(cfg.Orchestrator.Resolve().MaxGlobalWorkers))

	orch := orchestrator.New(
		store,
		workerPool,
		store,
		workflow.New(store),
		executor.NewDryRun(0),
		orchestrator.WithConfig(cfg.Orchestrator.Resolve()),
		orchestrator.WithProgressPublisher(hub),
		orchestrator.WithEscalationHook(func(ctx context.Context, event domain.EscalationEvent) {
			if err := archive.Archive(ctx, event); err != nil {
				slog.ErrorContext(ctx, "failed to archive escalation",
					"work_item_id", event.WorkItemID,
					"error", err)
			}
		}),
		orchestrator.WithPostExecutionHook(func(ctx context.Context, ec orchestrator.ExecutionContext, result orchestrator.ExecutionResult) {
			workerPool.Release(ec.WorkerID, result)
		}),
		orchestrator.WithErrorHook(func(ctx context.Context, ec orchestrator.ExecutionContext, execErr error) {
			workerPool.Release(ec.WorkerID, orchestrator.ExecutionResult{})
		}),
	)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-runCtx.Done()
		slog.Info("shutdown signal received")
		orch.Stop()
	}()

	slog.InfoContext(ctx, "orchestrator starting", "service", serviceName)
	if err := orch.Start(context.Background()); err != nil {
		log.Fatalf("Orchestrator exited with error: %v", err)
	}
	slog.InfoContext(ctx, "orchestrator exited")
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (*sqlstorage.Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite"
	}
	dsn := cfg.DSN
	if dsn == "" {
		dsn = "./agentops.db"
	}
	return sqlstorage.NewStore(ctx, sqlstorage.DBConfig{
		Driver: driver,
		DSN:    dsn,
	})
}

func openArchive(ctx context.Context, cfg config.ArchiveConfig) (storage.Archiver, error) {
	if cfg.Type == "gcs" {
		return gcsarchive.NewStore(ctx, cfg.GCSBucket)
	}
	dir := cfg.Dir
	if dir == "" {
		dir = "./agentops-escalations"
	}
	return fsarchive.NewStore(dir)
}
