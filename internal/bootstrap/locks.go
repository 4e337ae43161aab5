package bootstrap

import (
	"errors"

	"github.com/openctemio/qualitygate/internal/config"
	"github.com/openctemio/qualitygate/internal/infra/controller"
	"github.com/openctemio/qualitygate/internal/infra/redis"
)

// FinishedRunsLockKey is the lease every process sweeping finished runs
// takes, the server and the admin CLI alike.
const FinishedRunsLockKey = "qualitygate:lock:finished-runs"

// ErrLockNeedsRedis is returned when the distributed lock is enabled without
// a Redis connection.
var ErrLockNeedsRedis = errors.New("distributed lock requires redis")

// NewSweepLock returns the cross-instance sweep lease, or nil when the
// distributed lock is disabled.
func NewSweepLock(cfg *config.PollerConfig, client *redis.Client) (controller.SweepLocker, error) {
	if !cfg.DistributedLock {
		return nil, nil
	}
	if client == nil {
		return nil, ErrLockNeedsRedis
	}
	return redis.NewSweepLock(client, FinishedRunsLockKey, cfg.Interval*3), nil
}
