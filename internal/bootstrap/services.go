package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/docbuild/docworker/config"
	"github.com/docbuild/docworker/internal/adapters/compute"
	"github.com/docbuild/docworker/internal/adapters/status"
	"github.com/docbuild/docworker/internal/core"
	"github.com/docbuild/docworker/internal/data"
	"github.com/docbuild/docworker/internal/executor"
	"github.com/docbuild/docworker/internal/service"
	"github.com/docbuild/docworker/internal/worker"
)

// App holds the wired process: connections, repositories and the services
// selected by configuration.
type App struct {
	Cfg    config.AppConfig
	Logger *slog.Logger

	DB    *sql.DB
	Redis *redis.Client

	manager  *worker.Manager
	reaper   *service.Reaper
	consumer *service.StatusConsumer
}

// NewApp loads configuration, connects the stores and wires the enabled
// services.
func NewApp(ctx context.Context) (*App, error) {
	logger := InitLogger()

	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	if err := ValidateServiceConfig(&cfg); err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "starting docworker",
		"env", cfg.Env, "services", GetEnabledServices(&cfg))

	db, err := ConnectDB(DatabaseConfig{DBConfig: cfg.Postgres, Logger: logger})
	if err != nil {
		return nil, err
	}
	if cfg.Postgres.RunMigrationsOnStart {
		if err := RunMigrations(ctx, db, logger); err != nil {
			return nil, err
		}
	}

	rdb, err := ConnectRedis(DatabaseConfig{RedisConfig: cfg.Redis, Logger: logger})
	if err != nil {
		return nil, err
	}

	app := &App{Cfg: cfg, Logger: logger, DB: db, Redis: rdb}
	app.wire()
	return app, nil
}

func (a *App) wire() {
	repoCfg := data.RepoConfig{OpTimeout: a.Cfg.Postgres.OpTimeout, Logger: a.Logger}
	jobs := data.NewJobRepo(a.DB, repoCfg)
	docsets := data.NewDocsetRepo(a.DB, repoCfg)
	queue := service.NewStatusQueue(a.Redis, a.Cfg.StatusQueue, a.Logger)

	var dispatcher core.TaskDispatcher
	if a.Cfg.Compute.Enabled() {
		dispatcher = compute.NewClient(a.Cfg.Compute, a.Logger)
	}

	if a.Cfg.IsWorkerEnabled() {
		deps := worker.PipelineDeps{
			Jobs:    jobs,
			Docsets: docsets,
			Status:  queue,
			Exec: executor.New(executor.Config{
				WorkDir:        a.Cfg.Build.WorkDir,
				Timeout:        a.Cfg.Build.CommandTimeout,
				MaxOutputBytes: a.Cfg.Build.MaxOutputBytes,
				Logger:         a.Logger,
			}),
			Source: executor.NewSourceConnector(a.Cfg.Build.WorkDir, a.Logger),
			Build:  a.Cfg.Build,
			Env:    a.Cfg.Env,
			Logger: a.Logger,
		}
		validator := service.NewJobService(jobs, docsets, a.Logger)
		a.manager = worker.NewManager(deps, validator, dispatcher,
			worker.ManagerConfig{PollInterval: a.Cfg.Worker.PollInterval})
	}

	if a.Cfg.IsReaperEnabled() {
		a.reaper = service.NewReaper(jobs, a.Cfg.Reaper, a.Logger)
	}

	if a.Cfg.IsStatusConsumerEnabled() {
		notifier := status.NewLogNotifier(a.Logger)
		a.consumer = service.NewStatusConsumer(queue, jobs, notifier, dispatcher, a.Cfg.StatusQueue, a.Logger)
	}
}

// Run starts the enabled services and blocks until a shutdown signal or a
// service failure. On SIGINT/SIGTERM the worker gets its shutdown grace to
// reset the in-flight job before the run context is canceled.
func (a *App) Run(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	g, gctx := errgroup.WithContext(ctx)

	managerDone := make(chan struct{})
	if a.manager != nil {
		if jobID := a.Cfg.Worker.JobID; jobID != "" {
			g.Go(func() error {
				defer close(managerDone)
				return a.manager.StartSpecificJob(workerCtx, jobID)
			})
		} else {
			g.Go(func() error {
				defer close(managerDone)
				return ignoreCanceled(a.manager.Run(workerCtx))
			})
		}
	} else {
		close(managerDone)
	}
	if a.reaper != nil {
		g.Go(func() error {
			return ignoreCanceled(a.reaper.Run(sigCtx))
		})
	}
	if a.consumer != nil {
		g.Go(func() error {
			return ignoreCanceled(a.consumer.Run(sigCtx))
		})
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-sigCtx.Done():
		}
		a.Logger.Info("shutdown signal received")
		if a.manager != nil {
			a.manager.Stop()
			select {
			case <-time.After(a.Cfg.Worker.ShutdownGrace):
				a.Logger.Warn("shutdown grace expired, canceling in-flight work")
			case <-managerDone:
			case <-gctx.Done():
			}
		}
		cancelWorker()
		return nil
	})

	err := g.Wait()
	a.close()
	return err
}

func (a *App) close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Error("failed to close redis client", "err", err)
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error("failed to close database", "err", err)
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
