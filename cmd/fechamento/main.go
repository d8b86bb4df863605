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

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/fechamento/cmd/fechamento/cli"
	"github.com/odyssey-erp/fechamento/internal/app"
	"github.com/odyssey-erp/fechamento/internal/auth"
	"github.com/odyssey-erp/fechamento/internal/closing"
	closinghttp "github.com/odyssey-erp/fechamento/internal/closing/http"
	"github.com/odyssey-erp/fechamento/internal/identity"
	"github.com/odyssey-erp/fechamento/internal/observability"
	"github.com/odyssey-erp/fechamento/internal/platform/cache"
	"github.com/odyssey-erp/fechamento/internal/rbac"
	"github.com/odyssey-erp/fechamento/internal/receivable"
	receivablehttp "github.com/odyssey-erp/fechamento/internal/receivable/http"
	"github.com/odyssey-erp/fechamento/internal/shared"
	"github.com/odyssey-erp/fechamento/jobs"
)

const sessionCookie = "fechamento_session"

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB}

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		jobsCLI := cli.NewJobsCLI(redisOpts)
		err := jobsCLI.Run(ctx, os.Args[2:], os.Stdout)
		if closeErr := jobsCLI.Close(); closeErr != nil {
			logger.Warn("jobs cli close", slog.Any("error", closeErr))
		}
		if err != nil {
			logger.Error("jobs command", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

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

	catalog := closing.DefaultCatalog()
	if cfg.CatalogFile != "" {
		catalog, err = closing.LoadCatalog(cfg.CatalogFile)
		if err != nil {
			logger.Error("load catalog", slog.String("path", cfg.CatalogFile), slog.Any("error", err))
			os.Exit(1)
		}
	}

	sessionManager := shared.NewSessionManager(redisClient, sessionCookie, cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	metrics := observability.NewMetrics()

	closingService := closing.NewService(backend.Store, backend.Store, directory, closing.NewCalculator(catalog), closing.NewEditPolicy(cfg.EditWindow, cfg.Location()))
	receivableService := receivable.NewService(backend.Store)

	authService := auth.NewService(directory)
	authHandler := auth.NewHandler(logger, authService, sessionManager, csrfManager)

	rbacService := rbac.NewService(directory)
	rbacMiddleware := rbac.Middleware{Service: rbacService, Sessions: sessionManager, Logger: logger}

	jobsClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		CSRFManager:        csrfManager,
		Store:              backend.Store,
		AuthHandler:        authHandler,
		RBACMiddleware:     rbacMiddleware,
		PermissionsHandler: rbac.NewPermissionsHandler(rbacService),
		ClosingHandler:     closinghttp.NewHandler(logger, closingService, rbacMiddleware, backend.Idempotency, jobsClient, metrics),
		ReceivableHandler:  receivablehttp.NewHandler(logger, receivableService, rbacMiddleware, jobsClient, metrics),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("backend", cfg.StoreBackend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
