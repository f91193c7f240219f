package cli

import (
	"context"
	"errors"
	"os"
	"time"

	"budgetviz/internal/amqp"
	"budgetviz/internal/cache"
	"budgetviz/internal/config"
	"budgetviz/internal/dashboard"
	applog "budgetviz/internal/log"
	gsheet "budgetviz/internal/sheets/google"
	"budgetviz/internal/storage"
	"budgetviz/internal/upstream/cached"
	"budgetviz/internal/upstream/httpapi"
	"budgetviz/internal/worker"
)

// Runtime is one dashboard session with every optional integration cfg
// enables already attached. Nil fields are disabled features.
type Runtime struct {
	Upstream *httpapi.Client
	Cache    *cache.Manager
	Session  *dashboard.Session
	Repo     *storage.SQLiteRepository
	AMQP     *amqp.Client
	Exporter *worker.ExportWorker

	logger *applog.Logger
}

// NewRuntime wires the session. A broken upstream URL or store exits the
// process; AMQP and Sheets failures only disable those features.
func NewRuntime(cfg *config.Config, logger *applog.Logger) *Runtime {
	slogger := logger.Slog()
	rt := &Runtime{logger: logger}

	client, err := httpapi.New(cfg.UpstreamURL, httpapi.Options{
		Timeout:           cfg.UpstreamTimeout,
		RequestsPerSecond: cfg.UpstreamRPS,
		Logger:            slogger,
	})
	if err != nil {
		logger.Error("Failed to create upstream client", applog.FieldError, err, "url", cfg.UpstreamURL)
		os.Exit(1)
	}
	rt.Upstream = client

	rt.Cache = cache.NewManager(slogger)
	svc := cached.New(client, cfg.CacheSize, cfg.CacheTTL, rt.Cache, slogger)
	rt.Cache.StartCleanup(cfg.CacheTTL)

	rt.Session = dashboard.New(svc, dashboard.Options{
		Initial:              cfg.InitialCriteria(),
		Defaults:             cfg.UploadDefaults(),
		DrilldownConcurrency: cfg.DrilldownConcurrency,
		RefetchTimeout:       cfg.RefetchTimeout,
	}, slogger)

	if cfg.PersistenceEnabled() {
		rt.Repo = InitSQLite(logger, cfg.SQLiteDBPath)
		rt.restore(cfg.SessionName)
		rt.Session.Subscribe(storage.NewSessionNotifier(rt.Repo, cfg.SessionName))
	}

	if cfg.ExportEnabled() {
		c, err := gsheet.New(context.Background(), cfg.GoogleSpreadsheetID, cfg.GoogleSheetName, slogger)
		if err != nil {
			logger.Warn("Sheets export disabled", applog.FieldError, err)
		} else {
			rt.Exporter = worker.NewExportWorker(rt.Session, c, slogger)
			logger.Info("Sheets export enabled", "sheet", cfg.GoogleSheetName)
		}
	}

	if cfg.AMQPEnabled() {
		mq, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, slogger)
		if err != nil {
			logger.Warn("AMQP bridge disabled", applog.FieldError, err)
		} else {
			rt.AMQP = mq
			rt.Session.Subscribe(mq)
		}
	}
	return rt
}

func (rt *Runtime) restore(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	saved, err := rt.Repo.LoadSession(ctx, name)
	switch {
	case errors.Is(err, storage.ErrSessionNotFound):
		return
	case err != nil:
		rt.logger.Warn("Could not load saved session", applog.FieldSession, name, applog.FieldError, err)
		return
	}
	if err := rt.Session.Restore(saved.Criteria, saved.Metadata); err != nil {
		rt.logger.Warn("Saved session rejected", applog.FieldSession, name, applog.FieldError, err)
		return
	}
	rt.logger.Info("Session restored",
		applog.FieldOperation, applog.OpRestore,
		applog.FieldSession, name,
		applog.FieldYears, saved.Metadata.Years)
}

// StartBackground launches the command consumer and the scheduled export,
// whichever are enabled, until ctx is done.
func (rt *Runtime) StartBackground(ctx context.Context, exportInterval time.Duration) {
	if rt.AMQP != nil {
		go func() {
			if err := rt.AMQP.Run(ctx, amqp.NewCommandHandler(rt.Session)); err != nil {
				rt.logger.Error("Command consumer exited", applog.FieldError, err)
			}
		}()
	}
	if rt.Exporter != nil && exportInterval > 0 {
		go rt.Exporter.Run(ctx, exportInterval)
	}
}

// Ready checks the store and the upstream service.
func (rt *Runtime) Ready(ctx context.Context) error {
	if rt.Repo != nil {
		if err := rt.Repo.Ping(ctx); err != nil {
			return err
		}
	}
	return rt.Upstream.Ping(ctx)
}

// Close waits for background refetches, then releases every integration.
func (rt *Runtime) Close() {
	if err := rt.Session.Close(); err != nil {
		rt.logger.Warn("Dashboard session close error", applog.FieldError, err)
	}
	rt.Cache.Stop()
	if rt.AMQP != nil {
		_ = rt.AMQP.Close()
	}
	if rt.Repo != nil {
		_ = rt.Repo.Close()
	}
}
