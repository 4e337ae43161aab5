package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/openctemio/qualitygate/internal/config"
	"github.com/openctemio/qualitygate/pkg/logger"
)

// Client is a verified Redis connection.
type Client struct {
	client *redis.Client
	opts   *redis.Options
	logger *logger.Logger
}

// New connects to Redis and pings it until it answers, backing off between
// attempts. It gives up after cfg.MaxRetries retries or when ctx is done.
func New(ctx context.Context, cfg *config.RedisConfig, log *logger.Logger) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("redis config is required")
	}
	if log == nil {
		log = logger.NewNop()
	}
	log = log.With("component", "redis")

	opts := clientOptions(cfg)
	c := &Client{client: redis.NewClient(opts), opts: opts, logger: log}

	if err := c.waitReady(ctx, cfg); err != nil {
		_ = c.client.Close()
		return nil, err
	}
	log.Info("redis connected", "addr", opts.Addr, "db", opts.DB, "tls", opts.TLSConfig != nil)
	return c, nil
}

func clientOptions(cfg *config.RedisConfig) *redis.Options {
	opts := &redis.Options{
		Addr:            cfg.Addr(),
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: cfg.MinRetryDelay,
		MaxRetryBackoff: cfg.MaxRetryDelay,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify, //nolint:gosec // opt-in for self-signed dev setups
			MinVersion:         tls.VersionTLS12,
		}
	}
	return opts
}

func (c *Client) waitReady(ctx context.Context, cfg *config.RedisConfig) error {
	backoff := cfg.MinRetryDelay
	var err error
	for attempt := 0; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
		err = c.client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			return nil
		}
		if attempt >= cfg.MaxRetries {
			break
		}

		c.logger.Warn("redis not reachable, retrying", "attempt", attempt+1, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("redis connect: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, cfg.MaxRetryDelay)
	}
	return fmt.Errorf("redis unreachable after %d attempts: %w", cfg.MaxRetries+1, err)
}

// AsynqOpt returns the connection settings for the task queue, so queue
// clients and workers share this client's address, credentials and TLS.
func (c *Client) AsynqOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:         c.opts.Addr,
		Password:     c.opts.Password,
		DB:           c.opts.DB,
		DialTimeout:  c.opts.DialTimeout,
		ReadTimeout:  c.opts.ReadTimeout,
		WriteTimeout: c.opts.WriteTimeout,
		PoolSize:     c.opts.PoolSize,
		TLSConfig:    c.opts.TLSConfig,
	}
}

// Ping reports whether Redis answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the connection pool.
func (c *Client) Close() error {
	return c.client.Close()
}
