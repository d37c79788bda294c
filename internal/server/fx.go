// Package server provides the core application server and dependency wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/loadstate/internal/api"
	"github.com/JakeFAU/loadstate/internal/clock/system"
	"github.com/JakeFAU/loadstate/internal/config"
	"github.com/JakeFAU/loadstate/internal/gate"
	"github.com/JakeFAU/loadstate/internal/id/uuid"
	"github.com/JakeFAU/loadstate/internal/logging"
	"github.com/JakeFAU/loadstate/internal/progress"
	progresssinks "github.com/JakeFAU/loadstate/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/loadstate/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/loadstate/internal/publisher/pubsub"
	memorystore "github.com/JakeFAU/loadstate/internal/storage/memory"
	pgstore "github.com/JakeFAU/loadstate/internal/storage/postgres"
	"github.com/JakeFAU/loadstate/internal/store"
	"github.com/JakeFAU/loadstate/internal/telemetry"
	"github.com/JakeFAU/loadstate/internal/tracker"
)

const (
	memoryPublishLimit = 1024
	shutdownTimeout    = 10 * time.Second
)

type publisher interface {
	progresssinks.Publisher
	Close() error
}

// App contains the application's dependencies.
type App struct {
	cfg         *config.Config
	logger      *zap.Logger
	undoGlobals func()
	tracerProv  *sdktrace.TracerProvider

	tracker     *tracker.Tracker
	progressHub *progress.Hub
	outcomes    *gate.Listener
	apiServer   *api.Server

	history   store.HistoryRepository
	pgHistory *pgstore.HistoryStore
	publisher publisher
}

// Build creates the application's dependencies using a logger derived from
// cfg and the default Prometheus registry.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	app, err := build(ctx, cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return nil, err
	}
	app.undoGlobals = logging.Install(logger)
	return app, nil
}

func build(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*App, error) {
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.Bool("metrics", cfg.Metrics.Enabled),
		zap.Bool("progress", cfg.Progress.Enabled),
	)

	phases, err := cfg.PhaseRegistry()
	if err != nil {
		return nil, fmt.Errorf("phase registry: %w", err)
	}
	categories, err := cfg.CategoryRegistry()
	if err != nil {
		return nil, fmt.Errorf("category registry: %w", err)
	}
	app.tracker = tracker.New(tracker.Config{
		CleanupDelay: cfg.CleanupDelay(),
		LoopBuffer:   cfg.Tracker.LoopBuffer,
		Clock:        system.New(),
		Phases:       phases,
		Categories:   categories,
		Logger:       logger.Named("tracker"),
	})

	if err = app.setup(ctx, reg); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if closeErr := app.Close(closeCtx); closeErr != nil {
			logger.Warn("partial build cleanup failed", zap.Error(closeErr))
		}
		return nil, err
	}

	app.apiServer = api.NewServer(
		app.tracker,
		app.history,
		uuid.New(),
		*cfg,
		logger.Named("api"),
	)
	if obs := app.apiServer.LimiterObserver(); obs != nil {
		if _, err = app.tracker.Subscribe(ctx, obs); err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = app.Close(closeCtx)
			return nil, fmt.Errorf("subscribe report limiter: %w", err)
		}
	}
	return app, nil
}

func (a *App) setup(ctx context.Context, reg prometheus.Registerer) error {
	if a.cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, a.cfg.Tracing.ServiceName, a.cfg.Tracing.Version)
		if err != nil {
			return fmt.Errorf("tracer init failed: %w", err)
		}
		a.tracerProv = tp
	}
	if err := a.setupHistory(ctx); err != nil {
		return err
	}
	if err := a.setupPublisher(ctx); err != nil {
		return err
	}
	if err := a.setupProgress(ctx, reg); err != nil {
		return err
	}
	return a.setupOutcomeLog(ctx)
}

func (a *App) setupHistory(ctx context.Context) error {
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("no DSN specified for database, using in-memory change history")
		a.history = memorystore.NewHistoryStore()
		return nil
	}
	pg, err := pgstore.NewHistoryStore(ctx, pgstore.HistoryStoreConfig{
		DSN:      a.cfg.Database.DSN,
		Table:    a.cfg.Database.HistoryTable,
		MaxConns: a.cfg.Database.MaxConns,
		MinConns: a.cfg.Database.MinConns,
	})
	if err != nil {
		return fmt.Errorf("history store init failed: %w", err)
	}
	a.pgHistory = pg
	if err := pg.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("history schema init failed: %w", err)
	}
	a.history = pg
	a.logger.Info("history store initialized", zap.String("table", a.cfg.Database.HistoryTable))
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		a.publisher = memorypublisher.New(memoryPublishLimit)
		return nil
	}
	pub, err := gcppublisher.New(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.publisher = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

func (a *App) setupProgress(ctx context.Context, reg prometheus.Registerer) error {
	if !a.cfg.Progress.Enabled {
		a.logger.Info("change hub disabled")
		return nil
	}
	categories := a.tracker.Categories()
	sinkList := []progress.Sink{
		progresssinks.NewHistorySink(a.history, a.logger.Named("history_sink")),
		progresssinks.NewPublishSink(a.publisher, a.cfg.PubSub.TopicName, categories, a.logger.Named("publish_sink")),
	}
	if a.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("change_log"), categories))
	}
	if a.cfg.Metrics.Enabled {
		promSink, err := progresssinks.NewPrometheusSink(reg, categories)
		if err != nil {
			return fmt.Errorf("prometheus sink init failed: %w", err)
		}
		sinkList = append(sinkList, promSink)
	}
	hubCfg := progress.Config{
		BufferSize:      a.cfg.Progress.BufferSize,
		MaxBatchChanges: a.cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:    time.Duration(a.cfg.Progress.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:     time.Duration(a.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		BaseContext:     context.WithoutCancel(ctx),
		Logger:          a.logger.Named("change_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	if _, err := a.tracker.Subscribe(ctx, a.progressHub); err != nil {
		return fmt.Errorf("subscribe change hub: %w", err)
	}
	a.logger.Info("change hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_changes", hubCfg.MaxBatchChanges),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return nil
}

// setupOutcomeLog attaches a Listener that logs every load reaching a
// terminal phase.
func (a *App) setupOutcomeLog(ctx context.Context) error {
	logger := a.logger.Named("outcomes")
	a.outcomes = gate.NewListener(a.tracker.Store(), gate.Actions{
		OnCompleted: func(st progress.LoadingState) {
			logger.Info("load completed", zap.String("load_id", st.ID), zap.String("phase", st.Phase.ID))
		},
		OnFailed: func(st progress.LoadingState) {
			logger.Warn("load failed",
				zap.String("load_id", st.ID),
				zap.String("phase", st.Phase.ID),
				zap.String("message", st.Message),
			)
		},
	}, logger)
	if err := a.tracker.Attach(ctx, a.outcomes); err != nil {
		return fmt.Errorf("attach outcome listener: %w", err)
	}
	return nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the HTTP server and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application. The tracker stops first so the
// hub receives every change before it flushes.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.tracker != nil {
		if a.outcomes != nil {
			if err := a.tracker.Detach(ctx, a.outcomes); err != nil {
				a.logger.Debug("outcome listener detach skipped", zap.Error(err))
			}
		}
		if err := a.tracker.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	if a.pgHistory != nil {
		a.pgHistory.Close()
	}
	if a.tracerProv != nil {
		if err := a.tracerProv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown completed with errors", zap.Error(err))
	} else {
		a.logger.Info("shutdown complete")
	}
	if err := logging.Sync(a.logger); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
	if a.undoGlobals != nil {
		a.undoGlobals()
	}
	return errors.Join(errs...)
}
