package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/openctemio/qualitygate/internal/app/findings"
	"github.com/openctemio/qualitygate/internal/bootstrap"
	"github.com/openctemio/qualitygate/internal/config"
	"github.com/openctemio/qualitygate/internal/infra/controller"
	"github.com/openctemio/qualitygate/internal/infra/postgres"
	"github.com/openctemio/qualitygate/internal/infra/redis"
	"github.com/openctemio/qualitygate/pkg/logger"
)

// env is what a command needs from the environment.
type env struct {
	cfg   *config.Config
	log   *logger.Logger
	db    *postgres.DB
	repos *bootstrap.Repositories

	redis *redis.Client
}

// openEnv loads the configuration and connects to the database.
func openEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	level := "warn"
	if flagVerbose {
		level = "debug"
	}
	log := logger.New(logger.Config{Level: level, Format: "text", Output: os.Stderr})

	db, err := postgres.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	encryptor, err := bootstrap.NewEncryptor(cfg.Encryption.Key, cfg.Encryption.Passphrase, cfg.Encryption.Salt)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize secret encryption: %w", err)
	}

	return &env{
		cfg:   cfg,
		log:   log,
		db:    db,
		repos: bootstrap.NewRepositories(db, encryptor),
	}, nil
}

// services builds the run services. It needs the full configuration, so
// the commands that only touch the database do not call it.
func (e *env) services(ctx context.Context) (*bootstrap.Services, error) {
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}
	return bootstrap.NewServices(ctx, &bootstrap.ServiceDeps{
		Config: e.cfg,
		Log:    e.log,
		DB:     e.db,
		Repos:  e.repos,
	})
}

// findings builds the findings service, which only needs the database.
func (e *env) findings() *findings.Service {
	return findings.NewService(e.db, e.repos.Finding, e.repos.Audit, e.log)
}

// sweepLock connects to Redis and returns the lease the server's poller
// takes, so a manual sweep never overlaps a scheduled one. It is nil when the
// distributed lock is disabled.
func (e *env) sweepLock(ctx context.Context) (controller.SweepLocker, error) {
	if !e.cfg.Poller.DistributedLock {
		return nil, nil
	}
	if e.redis == nil {
		client, err := redis.New(ctx, &e.cfg.Redis, e.log)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		e.redis = client
	}
	return bootstrap.NewSweepLock(&e.cfg.Poller, e.redis)
}

func (e *env) Close() {
	if e.redis != nil {
		if err := e.redis.Close(); err != nil {
			e.log.Warn("failed to close redis", "error", err)
		}
	}
	if err := e.db.Close(); err != nil {
		e.log.Warn("failed to close database", "error", err)
	}
}

// withEnv runs fn with an open environment.
func withEnv(fn func(e *env) error) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(e)
}
