package app

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/docretrieval-backend/internal/data/db"
	httpserver "github.com/yungbote/docretrieval-backend/internal/http"
	"github.com/yungbote/docretrieval-backend/internal/observability"
	"github.com/yungbote/docretrieval-backend/internal/platform/envutil"
	"github.com/yungbote/docretrieval-backend/internal/platform/logger"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      Config
	Clients  Clients
	Repos    Repos
	Services Services
	Server   *httpserver.Server
	Metrics  *observability.Metrics

	pg           *db.PostgresService
	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

type StartOptions struct {
	// Workers runs the job dispatcher for JOB_DISPATCH_MODE in this process.
	Workers bool
}

func newLogger() (*logger.Logger, error) {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return log, nil
}

func New(ctx context.Context) (*App, error) {
	log, err := newLogger()
	if err != nil {
		return nil, err
	}

	log.Info("Loading configuration...")
	cfg, err := LoadConfig()
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("load config: %w", err)
	}

	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Env,
		Version:     cfg.Version,
	})
	metrics := observability.Init(log)

	a := &App{Log: log, Cfg: cfg, Metrics: metrics, otelShutdown: otelShutdown}

	pg, err := db.NewPostgresService(log, cfg.Postgres)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	a.pg = pg
	a.DB = pg.DB()
	if cfg.AutoMigrate {
		if err := db.Migrate(a.DB); err != nil {
			a.Close()
			return nil, fmt.Errorf("postgres migrate: %w", err)
		}
	}

	clients, err := wireClients(ctx, log, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Clients = clients

	a.Repos = wireRepos(a.DB, log)

	serviceset, err := wireServices(a.DB, log, cfg, clients, a.Repos, metrics)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Services = serviceset

	handlers := wireHandlers(log, cfg, a.DB, clients, serviceset, metrics)
	a.Server = wireServer(log, cfg, handlers, metrics)
	return a, nil
}

// Start launches background collectors and, when asked, the job dispatcher.
// Everything started here stops on Close.
func (a *App) Start(ctx context.Context, opts StartOptions) error {
	if a == nil || a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.Metrics.StartServer(ctx, a.Log, a.Cfg.MetricsAddr)
	a.Metrics.StartPostgresCollector(ctx, a.Log, a.DB)
	a.Metrics.StartRedisCollector(ctx, a.Log, a.Clients.Redis)

	if !opts.Workers {
		return nil
	}
	if w := a.Services.JobWorker; w != nil {
		w.Start(ctx)
	}
	if r := a.Services.TemporalWorker; r != nil {
		if err := r.Start(ctx); err != nil {
			return fmt.Errorf("start temporal worker: %w", err)
		}
	}
	return nil
}

// Run serves HTTP on addr until ctx is cancelled.
func (a *App) Run(ctx context.Context, addr string) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	if addr == "" {
		addr = a.Cfg.HTTPAddr
	}
	a.Log.Info("HTTP server listening", "addr", addr)
	return a.Server.Run(ctx, addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.Services.TemporalWorker.Stop()
	if w := a.Services.JobWorker; w != nil {
		w.Wait()
	}
	a.Clients.Close()
	if a.pg != nil {
		if err := a.pg.Close(); err != nil {
			a.Log.Warn("Postgres close failed", "error", err)
		}
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("OTel shutdown failed", "error", err)
		}
		cancel()
	}
	a.Log.Sync()
}

// Migrate connects to Postgres, applies the schema and exits.
func Migrate() error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()
	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	pg, err := db.NewPostgresService(log, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("init postgres: %w", err)
	}
	defer pg.Close()
	if err := db.Migrate(pg.DB()); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	log.Info("Postgres schema up to date")
	return nil
}
