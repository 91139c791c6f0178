package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/analyze/internal/analysis"
	"github.com/phrazzld/analyze/internal/config"
	"github.com/phrazzld/analyze/internal/events"
	"github.com/phrazzld/analyze/internal/notify"
	"github.com/phrazzld/analyze/internal/platform/metrics"
	"github.com/phrazzld/analyze/internal/platform/postgres"
	"github.com/phrazzld/analyze/internal/task"
	"github.com/prometheus/client_golang/prometheus"
)

// databasePingTimeout bounds the startup connectivity check.
const databasePingTimeout = 5 * time.Second

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	// Configuration
	config *config.Config

	// Core services
	logger *slog.Logger
	db     *sql.DB // nil when no database is configured

	// Task engine
	store     *task.Store
	scheduler *task.Scheduler
	status    *task.StatusService
	archive   *postgres.ArchiveStore // nil when no database is configured

	// Event system
	dispatcher *events.Dispatcher

	// Metrics; nil when disabled
	metricsRegistry *prometheus.Registry
}

// newApplication creates a new application instance with all dependencies initialized.
// The scheduler is created but not started; Run starts it.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
	}

	var err error
	app.store, err = task.NewStore(task.StoreConfig{
		MaxRetained: cfg.Task.MaxRetained,
		Clock:       time.Now,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create task store: %w", err)
	}

	registry := analysis.NewRegistry(analysis.Config{StageDelay: cfg.Task.StageDelay}, logger)
	app.scheduler = task.NewScheduler(app.store, registry, task.SchedulerConfig{
		WorkerCount: cfg.Task.WorkerCount,
		QueueSize:   cfg.Task.QueueSize,
		Timeout:     cfg.Task.Timeout,
		Clock:       time.Now,
	}, logger)

	app.dispatcher = events.NewDispatcher(logger)
	app.scheduler.SetEventEmitter(app.dispatcher)

	if cfg.Database.URL != "" {
		if err := app.setupArchive(ctx); err != nil {
			return nil, err
		}
	} else {
		logger.Info("No database configured, finished tasks are kept in memory only",
			"max_retained", cfg.Task.MaxRetained)
	}

	var archive task.Archive
	var archiveHandler events.EventHandler
	if app.archive != nil {
		archive = app.archive
		archiveHandler = app.archive
	}
	subscribeFinished(app.dispatcher, archiveHandler, notify.NewHandler(notify.NewLogNotifier(logger), logger))
	app.status = task.NewStatusService(app.store, archive, logger)

	if cfg.Metrics.Enabled {
		if err := app.setupMetrics(); err != nil {
			app.cleanup()
			return nil, err
		}
	}

	logger.Info("Application initialized successfully")
	return app, nil
}

// setupArchive connects to the database and applies pending migrations.
func (app *application) setupArchive(ctx context.Context) error {
	db, err := postgres.Open(ctx, app.config.Database.URL, databasePingTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	app.logger.Info("Database connection established")

	if err := postgres.Migrate(ctx, db, app.logger, "up"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to migrate task archive: %w", err)
	}

	app.db = db
	app.archive = postgres.NewArchiveStore(db, app.logger)
	return nil
}

// subscribeFinished wires the task.finished consumers. The archive comes
// first so a requester is notified only after the outcome has been written;
// a failed write is logged and does not suppress the notification.
func subscribeFinished(d *events.Dispatcher, archive, notifier events.EventHandler) {
	if archive != nil {
		d.Subscribe("task_archive", archive, task.EventTaskFinished)
	}
	d.Subscribe("notify", notifier, task.EventTaskFinished)
}

// setupMetrics registers the engine collectors on a dedicated registry.
func (app *application) setupMetrics() error {
	reg := metrics.NewRegistry()

	taskMetrics, err := metrics.NewTaskMetrics(reg)
	if err != nil {
		return fmt.Errorf("failed to create task metrics: %w", err)
	}
	app.store.SetMetrics(taskMetrics)
	app.scheduler.SetMetrics(taskMetrics)

	if err := reg.Register(metrics.NewStoreCollector(app.store, app.scheduler.QueueDepth)); err != nil {
		return fmt.Errorf("failed to register store collector: %w", err)
	}

	app.metricsRegistry = reg
	return nil
}

// Run starts the task engine and the HTTP server, and blocks until ctx is
// cancelled or the server fails.
func (app *application) Run(ctx context.Context) error {
	app.scheduler.Start()

	router := app.setupRouter()
	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}
	app.logger.Info("Application shutdown completed")
}
