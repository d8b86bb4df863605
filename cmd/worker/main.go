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

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/fechamento/internal/app"
	"github.com/odyssey-erp/fechamento/internal/identity"
	jobmetrics "github.com/odyssey-erp/fechamento/internal/jobs"
	"github.com/odyssey-erp/fechamento/internal/observability"
	"github.com/odyssey-erp/fechamento/internal/platform/cache"
	"github.com/odyssey-erp/fechamento/internal/receivable"
	"github.com/odyssey-erp/fechamento/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	backend, err := app.OpenBackend(ctx, cfg, redisClient, logger)
	if err != nil {
		logger.Error("open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer backend.Close()

	directory, err := identity.LoadDirectory(cfg.IdentityFile)
	if err != nil {
		logger.Error("load identities", slog.String("path", cfg.IdentityFile), slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	auditJob := jobs.NewClosingAuditJob(backend.Audit, logger, jobMetrics)
	digestJob := jobs.NewReceivableDigestJob(receivable.NewService(backend.Store), directory, metrics, logger, jobMetrics)
	cleanupJob := jobs.NewIdempotencyCleanupJob(backend.Sweeper, cfg.IdempotencyTTL, logger, jobMetrics)

	digestTask, err := jobs.NewReceivableDigestTask()
	if err != nil {
		logger.Error("build digest task", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB}
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Location:  cfg.Location(),
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskClosingAudit, Handler: auditJob.Handle},
			{Type: jobs.TaskReceivableDigest, Handler: digestJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.DigestCron, Task: digestTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.CleanupCron, Task: jobs.NewIdempotencyCleanupTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	r := chi.NewRouter()
	r.Handle("/metrics", metrics.Handler())
	r.Route("/jobs", jobs.NewHandler(inspector, logger).MountRoutes)
	ops := &http.Server{Addr: cfg.WorkerAddr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("starting worker ops server", slog.String("addr", cfg.WorkerAddr))
		if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker ops server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ops.Shutdown(shutdownCtx); err != nil {
			logger.Warn("worker ops shutdown", slog.Any("error", err))
		}
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
