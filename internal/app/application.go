// Package app assembles configuration, database, tracing, the DI
// container, background workers, and the HTTP server into one
// process lifecycle, following the existing internal/app.Application
// shape: Initialize builds everything,
// Start launches the server and background collectors, WaitForShutdown
// blocks on SIGINT/SIGTERM, and Shutdown tears down in reverse order.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"github.com/bentbr/r_data_core_go/internal/api/routes"
	"github.com/bentbr/r_data_core_go/internal/domain/services/versioning"
	"github.com/bentbr/r_data_core_go/internal/infrastructure/config"
	"github.com/bentbr/r_data_core_go/internal/infrastructure/database"
	"github.com/bentbr/r_data_core_go/internal/infrastructure/di"
	"github.com/bentbr/r_data_core_go/internal/infrastructure/repositories"
	"github.com/bentbr/r_data_core_go/internal/workers/runqueue"
	"github.com/bentbr/r_data_core_go/pkg/logger"
	"github.com/bentbr/r_data_core_go/pkg/metrics"
	"github.com/bentbr/r_data_core_go/pkg/tracing"
)

// Application owns the process's full lifecycle.
type Application struct {
	cfg       *config.Config
	log       *logger.Logger
	server    *http.Server
	container *di.Container

	runPool   *runqueue.Pool
	pruneCron *cron.Cron

	tracingShutdown func(context.Context) error
}

// NewApplication creates an unstarted Application.
func NewApplication() *Application {
	return &Application{}
}

// Initialize loads configuration, connects to the database, runs
// pending migrations, and wires every component the server needs. A
// failed config load or generic startup error is the caller's exit
// code 1; a migration failure is wrapped so the caller can detect it
// and exit 2 instead.
func (app *Application) Initialize() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	app.cfg = cfg

	log := logger.New(cfg.LogLevel, cfg.Environment)
	app.log = log

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := database.RunMigrations(cfg.Database.URL); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := app.initializeTracing(); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	container, err := di.NewContainer(cfg, db, log)
	if err != nil {
		return fmt.Errorf("failed to create DI container: %w", err)
	}
	app.container = container

	app.initializeWorkers()

	if err := app.initializeServer(); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	return nil
}

// initializeTracing wires OpenTelemetry per pkg/tracing.InitTracer,
// sampling less aggressively the closer the environment is to
// production.
func (app *Application) initializeTracing() error {
	tracingConfig := tracing.Config{
		Enabled:      app.cfg.Environment != "test",
		CollectorURL: getEnvOrDefault("OTEL_COLLECTOR_URL", "localhost:4317"),
		Environment:  app.cfg.Environment,
		SampleRate:   getSampleRate(app.cfg.Environment),
	}

	shutdown, err := tracing.InitTracer(context.Background(), tracingConfig, app.log.Zap())
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	app.tracingShutdown = shutdown
	app.log.Info("tracing initialized", "collector_url", tracingConfig.CollectorURL, "sample_rate", tracingConfig.SampleRate)
	return nil
}

// initializeWorkers starts the background Run worker pool
// and, when enabled, the version-pruning cron schedule.
// Neither failing to start blocks the server from serving requests —
// a worker that never gets wired is a degraded mode, not a fatal one,
// matching the "log and continue" posture applied elsewhere for
// best-effort background workers.
func (app *Application) initializeWorkers() {
	app.runPool = runqueue.NewPool(
		runqueue.Config{WorkerCount: app.cfg.RunWorkerCount, PollInterval: 2 * time.Second},
		app.container.Runs,
		app.container.Orchestrator,
		app.log,
	)
	app.runPool.Start(context.Background())
	app.log.Info("run worker pool started", "workers", app.cfg.RunWorkerCount)

	if !app.cfg.Reconciliation.Enabled {
		app.log.Info("version pruning cron disabled")
		return
	}

	app.pruneCron = cron.New()
	_, err := app.pruneCron.AddFunc(app.cfg.Versioning.CronExpr, func() {
		app.runPrune(context.Background())
	})
	if err != nil {
		app.log.Error("invalid versioning cron expression, pruning disabled", "error", err, "expr", app.cfg.Versioning.CronExpr)
		app.pruneCron = nil
		return
	}
	app.pruneCron.Start()
	app.log.Info("version pruning cron started", "expr", app.cfg.Versioning.CronExpr)
}

// runPrune resolves the pruning policy — a system_settings override
// takes precedence over config.VersioningConfig's static default —
// and runs it. Errors are logged, never panicked; a failed prune pass
// just means snapshots accumulate until the next scheduled run.
func (app *Application) runPrune(ctx context.Context) {
	opts := versioning.PruneOptions{
		MaxAgeDays:  app.cfg.Versioning.MaxAgeDays,
		MaxVersions: app.cfg.Versioning.MaxVersions,
	}
	if override, err := app.container.Settings.GetInt(ctx, repositories.SettingVersioningMaxAgeDays); err == nil && override != nil {
		opts.MaxAgeDays = override
	}
	if override, err := app.container.Settings.GetInt(ctx, repositories.SettingVersioningMaxVersions); err == nil && override != nil {
		opts.MaxVersions = override
	}

	if opts.MaxAgeDays == nil && opts.MaxVersions == nil {
		app.log.Info("version pruning skipped: no max_age_days or max_versions configured")
		return
	}

	if err := app.container.Versioning.Prune(ctx, opts); err != nil {
		app.log.Error("version pruning failed", "error", err)
	}
}

// initializeServer builds the gin engine and http.Server, leaving
// ListenAndServe to Start.
func (app *Application) initializeServer() error {
	if app.cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	resolver := di.NewPrincipalResolver(app.container.HumanUsers, app.container.APIKeys)
	routes.RegisterRoutes(router, app.container.Handlers, app.container.Tokens, resolver, app.container.Evaluator, app.cfg.Auth.RateLimitPerMinute)

	app.server = &http.Server{
		Addr:           fmt.Sprintf(":%d", app.cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    time.Duration(app.cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(app.cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	return nil
}

// Start launches the HTTP server and the database-pool metrics
// collector in the background and returns immediately.
func (app *Application) Start() error {
	go func() {
		app.log.Info("starting server",
			"port", app.cfg.Server.Port,
			"environment", app.cfg.Environment,
		)
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.log.Fatal("failed to start server", "error", err)
		}
	}()

	go app.startMetricsCollection()

	return nil
}

// startMetricsCollection samples the database connection pool every
// 30 seconds into pkg/metrics.DatabaseConnectionsGauge.
func (app *Application) startMetricsCollection() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		stats := app.container.DB.Stats()
		metrics.DatabaseConnectionsGauge.WithLabelValues("open").Set(float64(stats.OpenConnections))
		metrics.DatabaseConnectionsGauge.WithLabelValues("idle").Set(float64(stats.Idle))
		metrics.DatabaseConnectionsGauge.WithLabelValues("in_use").Set(float64(stats.InUse))
	}
}

// Shutdown stops background workers, drains the HTTP server, and
// flushes tracing, in that order, each bounded by its own timeout.
func (app *Application) Shutdown() error {
	app.log.Info("shutting down")

	app.stopWorkers()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.server.Shutdown(ctx); err != nil {
		app.log.Error("server forced to shutdown", "error", err)
	}

	if app.tracingShutdown != nil {
		_ = app.tracingShutdown(context.Background())
	}

	app.log.Info("shutdown complete")
	return nil
}

func (app *Application) stopWorkers() {
	if app.pruneCron != nil {
		app.log.Info("stopping version pruning cron")
		<-app.pruneCron.Stop().Done()
	}
	if app.runPool != nil {
		app.log.Info("stopping run worker pool")
		if err := app.runPool.Shutdown(30 * time.Second); err != nil {
			app.log.Error("error stopping run worker pool", "error", err)
		}
	}
}

// WaitForShutdown blocks until SIGINT or SIGTERM arrives.
func (app *Application) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getSampleRate(env string) float64 {
	switch env {
	case "production":
		return 0.1
	case "staging":
		return 0.5
	default:
		return 1.0
	}
}
