package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/openctemio/qualitygate/pkg/logger"
)

// ErrLockHeld is returned when another holder owns the lock.
var ErrLockHeld = errors.New("redis: lock held by another instance")

// releaseScript deletes the key only if it still holds our token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// lockBackend is the subset of redis commands the lock needs.
type lockBackend interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// SweepLock is a lease that keeps poller sweeps from overlapping across
// instances. The lease expires on its own if the holder dies.
type SweepLock struct {
	backend lockBackend
	key     string
	ttl     time.Duration
	logger  *logger.Logger
}

// NewSweepLock creates a lock on key. ttl must outlive a sweep.
func NewSweepLock(c *Client, key string, ttl time.Duration) *SweepLock {
	return newSweepLock(c.client, key, ttl, c.logger)
}

func newSweepLock(b lockBackend, key string, ttl time.Duration, log *logger.Logger) *SweepLock {
	if log == nil {
		log = logger.NewNop()
	}
	return &SweepLock{backend: b, key: key, ttl: ttl, logger: log}
}

// Acquire takes the lock. It returns ErrLockHeld when another holder owns
// it, and a release function otherwise.
func (l *SweepLock) Acquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	ok, err := l.backend.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	release := func() {
		// The sweep context may already be done.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.backend.Eval(ctx, releaseScript, []string{l.key}, token).Err(); err != nil {
			l.logger.Warn("failed to release sweep lock", "key", l.key, "error", err)
		}
	}
	return release, nil
}
