package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openctemio/qualitygate/internal/bootstrap"
	"github.com/openctemio/qualitygate/internal/config"
	"github.com/openctemio/qualitygate/internal/infra/http"
	"github.com/openctemio/qualitygate/internal/infra/http/handler"
	"github.com/openctemio/qualitygate/internal/infra/postgres"
	"github.com/openctemio/qualitygate/internal/infra/redis"
	"github.com/openctemio/qualitygate/internal/infra/telemetry"
	"github.com/openctemio/qualitygate/pkg/logger"
	"github.com/openctemio/qualitygate/pkg/migrations"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ==========================================================================
	// Configuration & Logger
	// ==========================================================================
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault().Error("failed to load configuration", "error", err)
		return 1
	}
	log := initLogger(cfg)
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		return 1
	}
	log.Info("starting application", "app", cfg.App.Name, "env", cfg.App.Env)

	shutdownTracing, err := telemetry.Setup(ctx, &cfg.Tracing, cfg.App.Env, log)
	if err != nil {
		log.Error("failed to set up tracing", "error", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("failed to flush traces", "error", err)
		}
	}()

	// ==========================================================================
	// Infrastructure
	// ==========================================================================
	db, err := postgres.New(&cfg.Database)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		return 1
	}
	defer closeWithLog(db, "database", log)
	log.Info("database connected")

	applied, err := migrations.NewRunner(db.DB, migrations.Files(), log).Up(ctx)
	if err != nil {
		log.Error("failed to apply migrations", "error", err)
		return 1
	}
	log.Info("migrations applied", "count", applied)

	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		redisClient, err = redis.New(ctx, &cfg.Redis, log)
		if err != nil {
			log.Error("failed to connect to redis", "error", err)
			return 1
		}
		defer closeWithLog(redisClient, "redis", log)
	}

	// ==========================================================================
	// Repositories & Services
	// ==========================================================================
	encryptor, err := bootstrap.NewEncryptor(cfg.Encryption.Key, cfg.Encryption.Passphrase, cfg.Encryption.Salt)
	if err != nil {
		log.Error("failed to initialize secret encryption", "error", err)
		return 1
	}
	repos := bootstrap.NewRepositories(db, encryptor)

	services, err := bootstrap.NewServices(ctx, &bootstrap.ServiceDeps{
		Config: cfg,
		Log:    log,
		DB:     db,
		Repos:  repos,
	})
	if err != nil {
		log.Error("failed to initialize services", "error", err)
		return 1
	}
	log.Info("services initialized")

	// ==========================================================================
	// Workers
	// ==========================================================================
	workers, err := NewWorkers(&WorkerDeps{
		Config:   cfg,
		Log:      log,
		Repos:    repos,
		Services: services,
		Redis:    redisClient,
	})
	if err != nil {
		log.Error("failed to initialize workers", "error", err)
		return 1
	}
	if err := workers.Start(ctx); err != nil {
		log.Error("failed to start workers", "error", err)
		return 1
	}

	// ==========================================================================
	// Ops Server
	// ==========================================================================
	healthOpts := []handler.HealthHandlerOption{handler.WithDatabase(db)}
	if redisClient != nil {
		healthOpts = append(healthOpts, handler.WithRedis(redisClient))
	}
	server := http.NewServer(&cfg.Ops, log, http.WithProduction(cfg.IsProduction()))
	http.RegisterRoutes(server.Router(), handler.NewHealthHandler(healthOpts...), nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error { return workers.RunJobWorker(gctx) })
	log.Info("application started",
		"ops_addr", cfg.Ops.Addr(),
		"dispatch", cfg.Poller.Dispatch,
		"poller_interval", cfg.Poller.Interval,
	)

	// ==========================================================================
	// Graceful Shutdown
	// ==========================================================================
	<-gctx.Done()
	stop()
	log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Ops.ShutdownTimeout)
	defer cancel()

	workers.Stop(log)

	exitCode := 0
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		exitCode = 1
	}
	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		exitCode = 1
	}

	log.Info("application stopped")
	return exitCode
}

func initLogger(cfg *config.Config) *logger.Logger {
	//nolint:gosec // G115: validated non-negative in config.Validate()
	threshold := uint64(cfg.Log.SamplingThreshold)
	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
		Sampling: logger.SamplingConfig{
			Enabled:   cfg.Log.SamplingEnabled,
			Tick:      time.Second,
			Threshold: threshold,
			Rate:      cfg.Log.SamplingRate,
		},
	})
	log.SetDefault()
	return log
}

type closer interface {
	Close() error
}

func closeWithLog(c closer, name string, log *logger.Logger) {
	if err := c.Close(); err != nil {
		log.Error("failed to close "+name, "error", err)
	}
}
