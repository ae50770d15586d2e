// Cascade Server — оркестратор multi-stage pipelines.
//
// Server:
//   - Загружает каталог definitions из YAML-директории
//   - Выполняет runs через событийный scheduling loop
//   - Транслирует события жизненного цикла в RabbitMQ
//   - Архивирует завершённые runs в PostgreSQL
//   - Запускает definitions по расписанию
//   - Отдаёт HTTP API, /health и /metrics
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaiso/Cascade/internal/api"
	"github.com/shaiso/Cascade/internal/bus"
	"github.com/shaiso/Cascade/internal/capability"
	"github.com/shaiso/Cascade/internal/catalog"
	"github.com/shaiso/Cascade/internal/domain"
	"github.com/shaiso/Cascade/internal/executor"
	"github.com/shaiso/Cascade/internal/mq"
	"github.com/shaiso/Cascade/internal/orchestrator"
	"github.com/shaiso/Cascade/internal/repo"
	"github.com/shaiso/Cascade/internal/scheduler"
	"github.com/shaiso/Cascade/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting cascade-server")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Каталог definitions из YAML-директории
	defsDir := os.Getenv("DEFINITIONS_DIR")
	if defsDir == "" {
		defsDir = "./definitions"
	}

	defs, err := catalog.LoadDir(defsDir)
	if err != nil {
		logger.Error("failed to load definitions", "dir", defsDir, "error", err)
		os.Exit(1)
	}

	// PostgreSQL — опционально: архив runs и персистентные definitions
	var runRepo *repo.RunRepo
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Warn("database not available, run archive disabled", "error", err)
	} else {
		defer pool.Close()
		logger.Info("database connected")

		runRepo = repo.NewRunRepo(pool)
		defRepo := repo.NewDefinitionRepo(pool)
		defs = syncDefinitions(ctx, logger, defRepo, defs)
	}

	cat, err := catalog.New(defs)
	if err != nil {
		logger.Error("invalid definition catalog", "error", err)
		os.Exit(1)
	}
	logger.Info("definition catalog loaded", "definitions", cat.Size())

	// Шина событий и метрики
	eventBus := bus.New(logger)
	metrics := telemetry.NewMetrics()
	metrics.Attach(eventBus)

	// Оркестратор
	orch := orchestrator.New(orchestrator.Config{
		Definitions:  cat,
		Bus:          eventBus,
		Registry:     executor.DefaultRegistry(),
		Capabilities: capability.NewRefCountManager(logger),
		Logger:       logger,
	})

	// RabbitMQ — опционально: трансляция событий во внешний брокер
	mqConn, err := mq.NewConnection(mq.DefaultURL(), logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, event bridge disabled", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		bridge := mq.NewBridge(mqConn, logger)
		bridge.Attach(eventBus)
		defer bridge.Detach(eventBus)
	}

	// Архивирование завершённых runs
	if runRepo != nil {
		attachArchiver(ctx, logger, eventBus, orch, runRepo)
	}

	// Планировщик — опционально
	if schedulesFile := os.Getenv("SCHEDULES_FILE"); schedulesFile != "" {
		schedules, err := scheduler.LoadFile(schedulesFile)
		if err != nil {
			logger.Error("failed to load schedules", "file", schedulesFile, "error", err)
			os.Exit(1)
		}

		sched, err := scheduler.New(scheduler.Config{
			Starter:   orch,
			Schedules: schedules,
			Logger:    logger,
		})
		if err != nil {
			logger.Error("invalid schedules", "error", err)
			os.Exit(1)
		}
		go sched.Run(ctx)
	}

	// HTTP API
	handler := api.NewHandler(api.Config{
		Orchestrator: orch,
		Catalog:      cat,
		RunRepo:      runRepo,
		Metrics:      metrics.Handler(),
		Logger:       logger,
	})

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	addr := ":8080"
	if v := os.Getenv("API_PORT"); v != "" {
		addr = ":" + v
	}

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}

	logger.Info("cascade-server stopped")
}

// syncDefinitions сохраняет definitions из YAML в БД и дополняет каталог
// definitions, которые есть только в БД.
func syncDefinitions(ctx context.Context, logger *slog.Logger, defRepo *repo.DefinitionRepo, defs []*domain.Definition) []*domain.Definition {
	known := make(map[string]bool, len(defs))
	for _, def := range defs {
		known[def.ID] = true
		if err := defRepo.Upsert(ctx, def); err != nil {
			logger.Warn("failed to persist definition", "definition_id", def.ID, "error", err)
		}
	}

	stored, err := defRepo.ListAll(ctx)
	if err != nil {
		logger.Warn("failed to list stored definitions", "error", err)
		return defs
	}

	for _, def := range stored {
		if !known[def.ID] {
			defs = append(defs, def)
		}
	}
	return defs
}

// attachArchiver подписывает архиватор на терминальные события run.
// Подписка синхронная: к моменту события lastRun уже установлен.
func attachArchiver(ctx context.Context, logger *slog.Logger, eventBus *bus.Bus, orch *orchestrator.Orchestrator, runRepo *repo.RunRepo) {
	archive := func(e *bus.Event) error {
		run, err := orch.LastRun()
		if err != nil {
			return err
		}

		archiveCtx, archiveCancel := context.WithTimeout(ctx, 5*time.Second)
		defer archiveCancel()

		if err := runRepo.Archive(archiveCtx, run); err != nil {
			logger.Warn("failed to archive run", "run_id", run.ID, "error", err)
		}
		return nil
	}

	eventBus.Subscribe(bus.EventWorkflowCompleted, archive)
	eventBus.Subscribe(bus.EventWorkflowFailed, archive)
	eventBus.Subscribe(bus.EventWorkflowCancelled, archive)
}
