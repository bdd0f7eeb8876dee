// Package bootstrap wires configuration, storage, the ingestion pipeline,
// the correlation engine and the management API into a runnable service.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"argus/api"
	"argus/config"
	"argus/core"
	"argus/detect"
	"argus/ingest"
	"argus/metrics"
	"argus/storage"
	"argus/threat"

	"go.uber.org/zap"
)

// App holds every component of the service. NewApp returns only when all of
// them are ready: a partially initialized service never serves traffic.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	SQLite      *storage.SQLite
	Sink        *storage.ClickHouseSink
	ThreatStore *threat.Store
	Buffer      *core.EventBuffer
	Alerts      *core.AlertStore
	Registry    *metrics.Registry
	Queue       *ingest.Queue
	Pool        *ingest.Pool
	Engine      *detect.Engine
	APIServer   *api.API

	pipelineCtx    context.Context
	pipelineCancel context.CancelFunc
	apiErrCh       chan error
}

// NewApp initializes every component. Any error is fatal to startup.
func NewApp() (*App, error) {
	app := &App{apiErrCh: make(chan error, 1)}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		return nil, err
	}
	app.Config = cfg

	logger, sugar, err := InitLogger(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	app.Logger = logger
	app.Sugar = sugar

	sugar.Info("Argus starting...")

	if cfg.SQLite.Enabled {
		sqlite, err := storage.NewSQLite(cfg.SQLite.Path, sugar)
		if err != nil {
			return nil, fmt.Errorf("initialize sqlite: %w", err)
		}
		app.SQLite = sqlite
		sugar.Infow("content database opened", "path", cfg.SQLite.Path)
	}

	var eventSink ingest.EventSink
	var alertSink detect.AlertSink
	if cfg.ClickHouse.Enabled {
		sink, err := storage.NewClickHouseSink(storage.ClickHouseOptions{
			Addr:          cfg.ClickHouse.Addr,
			Database:      cfg.ClickHouse.Database,
			Username:      cfg.ClickHouse.Username,
			Password:      cfg.ClickHouse.Password,
			BatchSize:     cfg.ClickHouse.BatchSize,
			FlushInterval: cfg.ClickHouse.FlushInterval,
			Backlog:       cfg.ClickHouse.Backlog,
		}, sugar)
		if err != nil {
			return nil, fmt.Errorf("initialize clickhouse: %w", err)
		}
		app.Sink = sink
		eventSink = sink
		alertSink = sink
	} else {
		eventSink = storage.NopEventWriter{}
		alertSink = storage.NopAlertWriter{}
		sugar.Info("clickhouse disabled, events and alerts will not be persisted")
	}

	app.Registry = metrics.NewRegistry()
	app.Buffer = core.NewEventBuffer(cfg.Buffer.Capacity)
	app.Alerts = core.NewAlertStore(sugar)

	app.ThreatStore = threat.NewStore(cfg.ThreatIntel.SweepInterval, sugar)
	if err := app.loadIndicators(); err != nil {
		return nil, err
	}

	rules, err := app.loadRules()
	if err != nil {
		return nil, err
	}

	app.Queue = ingest.NewQueue(cfg.Ingest.QueueSize, cfg.Ingest.PushTimeout, cfg.Ingest.PopTimeout, app.Registry, sugar)

	enricher := threat.NewEnricher(app.ThreatStore, app.Registry, sugar)
	app.Pool = ingest.NewPool(app.Queue, ingest.NewParserRegistry(), enricher, app.Buffer, eventSink, app.Registry, cfg.Ingest.Workers, cfg.Ingest.DrainTimeout, sugar)

	app.Engine = detect.NewEngine(rules, app.Buffer, app.Alerts, alertSink, app.Registry, cfg.Correlation.Interval, cfg.Correlation.Cooldown, sugar)

	app.APIServer = api.NewAPI(cfg.APIAddr(), app.Buffer, app.Alerts, app.Registry, app.Pool, alertSink, api.RateLimitConfig{
		RequestsPerSecond: cfg.API.RateLimit.RequestsPerSecond,
		Burst:             cfg.API.RateLimit.Burst,
	}, sugar)

	return app, nil
}

// loadIndicators seeds the threat store from the persisted set first, then
// the YAML file so file content wins on conflicts. The merged set is written
// back so new file entries survive restarts.
func (a *App) loadIndicators() error {
	if a.SQLite != nil {
		persisted, err := a.SQLite.LoadIndicators()
		if err != nil {
			return fmt.Errorf("load persisted indicators: %w", err)
		}
		a.ThreatStore.LoadAll(persisted)
	}

	fromFile, err := threat.LoadIndicators(a.Config.ThreatIntel.IndicatorsPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			a.Sugar.Warnw("no indicators file, starting with persisted set only",
				"path", a.Config.ThreatIntel.IndicatorsPath)
		} else {
			return fmt.Errorf("load indicators: %w", err)
		}
	}
	a.ThreatStore.LoadAll(fromFile)

	if a.SQLite != nil && len(fromFile) > 0 {
		if err := a.SQLite.SaveIndicators(fromFile); err != nil {
			a.Sugar.Warnw("failed to persist indicators", "error", err)
		}
	}

	a.Sugar.Infow("threat indicators loaded", "count", a.ThreatStore.Len())
	return nil
}

// loadRules loads detection content from the YAML file, falling back to the
// persisted set when the file is absent.
func (a *App) loadRules() ([]*core.CorrelationRule, error) {
	rules, err := detect.LoadRules(a.Config.Correlation.RulesPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load rules: %w", err)
		}
		if a.SQLite == nil {
			return nil, fmt.Errorf("load rules: %w", err)
		}
		persisted, perr := a.SQLite.LoadRules()
		if perr != nil {
			return nil, fmt.Errorf("load persisted rules: %w", perr)
		}
		a.Sugar.Warnw("no rules file, using persisted rules",
			"path", a.Config.Correlation.RulesPath, "count", len(persisted))
		return persisted, nil
	}

	if a.SQLite != nil {
		if err := a.SQLite.SaveRules(rules); err != nil {
			a.Sugar.Warnw("failed to persist rules", "error", err)
		}
	}

	a.Sugar.Infow("correlation rules loaded", "count", len(rules))
	return rules, nil
}

// Start launches every background component. The API listener runs on its
// own goroutine; a listen failure surfaces through WaitForShutdown.
func (a *App) Start() error {
	a.pipelineCtx, a.pipelineCancel = context.WithCancel(context.Background())

	a.ThreatStore.Start()
	if a.Sink != nil {
		a.Sink.Start()
	}
	a.Pool.Start(a.pipelineCtx)
	a.Engine.Start()

	go func() {
		if err := a.APIServer.Start(); err != nil {
			a.apiErrCh <- err
		}
	}()

	a.Sugar.Info("Argus started")
	return nil
}

// WaitForShutdown blocks until a termination signal arrives or the API
// listener fails.
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-c:
		a.Sugar.Infow("shutdown signal received", "signal", sig)
	case err := <-a.apiErrCh:
		a.Sugar.Errorw("api server failed", "error", err)
	}
}

// Shutdown stops components in pipeline order: intake first, then the
// workers drain, then detection, then storage.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.APIServer.Stop(ctx); err != nil {
		a.Sugar.Errorw("failed to stop api server", "error", err)
	}

	a.Queue.Close()
	if a.pipelineCancel != nil {
		a.pipelineCancel()
	}
	a.Pool.Wait()

	a.Engine.Stop()
	a.ThreatStore.Close()

	if a.Sink != nil {
		if err := a.Sink.Stop(); err != nil {
			a.Sugar.Errorw("failed to stop clickhouse sink", "error", err)
		}
	}
	if a.SQLite != nil {
		if err := a.SQLite.Close(); err != nil {
			a.Sugar.Errorw("failed to close content database", "error", err)
		}
	}

	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}
