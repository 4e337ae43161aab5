package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/qualitygate/internal/config"
)

func testRedisConfig() *config.RedisConfig {
	return &config.RedisConfig{
		Host:          "cache.internal",
		Port:          6380,
		Password:      "pw",
		DB:            2,
		PoolSize:      7,
		DialTimeout:   time.Second,
		ReadTimeout:   2 * time.Second,
		WriteTimeout:  3 * time.Second,
		MinRetryDelay: time.Millisecond,
		MaxRetryDelay: 4 * time.Millisecond,
	}
}

func TestAsynqOpt_MirrorsClientOptions(t *testing.T) {
	cfg := testRedisConfig()
	cfg.TLSEnabled = true

	opts := clientOptions(cfg)
	c := &Client{opts: opts}
	got := c.AsynqOpt()

	assert.Equal(t, "cache.internal:6380", got.Addr)
	assert.Equal(t, "pw", got.Password)
	assert.Equal(t, 2, got.DB)
	assert.Equal(t, 7, got.PoolSize)
	assert.Equal(t, 3*time.Second, got.WriteTimeout)
	require.NotNil(t, got.TLSConfig)
	assert.Same(t, opts.TLSConfig, got.TLSConfig)
}

func TestClientOptions_NoTLSByDefault(t *testing.T) {
	assert.Nil(t, clientOptions(testRedisConfig()).TLSConfig)
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestNew_UnreachableGivesUp(t *testing.T) {
	cfg := testRedisConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 1
	cfg.DialTimeout = 50 * time.Millisecond
	cfg.MaxRetries = 1

	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
}
