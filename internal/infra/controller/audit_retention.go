package controller

import (
	"context"
	"time"

	"github.com/openctemio/qualitygate/pkg/logger"
)

// AuditRetentionStore deletes old audit entries.
type AuditRetentionStore interface {
	CountOlderThan(ctx context.Context, before time.Time) (int64, error)
	// DeleteOlderThan deletes at most limit entries and returns how many
	// were deleted.
	DeleteOlderThan(ctx context.Context, before time.Time, limit int) (int64, error)
}

// AuditRetentionControllerConfig configures the AuditRetentionController.
type AuditRetentionControllerConfig struct {
	// Interval is how often to run the retention check.
	// Default: 24 hours (once a day).
	Interval time.Duration

	// RetentionDays is how long to keep audit entries.
	// Default: 365 days (1 year).
	RetentionDays int

	// BatchSize is the maximum number of entries deleted per statement.
	// Default: 10000.
	BatchSize int

	// DryRun only counts the entries that would be deleted.
	DryRun bool

	// Logger for logging.
	Logger *logger.Logger
}

// AuditRetentionController deletes run and finding audit entries older
// than the retention period.
type AuditRetentionController struct {
	store  AuditRetentionStore
	config *AuditRetentionControllerConfig
	logger *logger.Logger
	now    func() time.Time
}

// NewAuditRetentionController creates a new AuditRetentionController.
func NewAuditRetentionController(store AuditRetentionStore, config *AuditRetentionControllerConfig) *AuditRetentionController {
	if config == nil {
		config = &AuditRetentionControllerConfig{}
	}
	if config.Interval == 0 {
		config.Interval = 24 * time.Hour
	}
	if config.RetentionDays == 0 {
		config.RetentionDays = 365
	}
	if config.BatchSize == 0 {
		config.BatchSize = 10000
	}
	if config.Logger == nil {
		config.Logger = logger.NewNop()
	}

	return &AuditRetentionController{
		store:  store,
		config: config,
		logger: config.Logger.With("controller", "audit-retention"),
		now:    time.Now,
	}
}

// Name returns the controller name.
func (c *AuditRetentionController) Name() string {
	return "audit-retention"
}

// Interval returns the reconciliation interval.
func (c *AuditRetentionController) Interval() time.Duration {
	return c.config.Interval
}

// TickTimeout bounds one cleanup pass independently of the daily interval.
func (c *AuditRetentionController) TickTimeout() time.Duration {
	return 30 * time.Minute
}

// Reconcile deletes audit entries older than the retention period in
// batches.
func (c *AuditRetentionController) Reconcile(ctx context.Context) (int, error) {
	cutoff := c.now().AddDate(0, 0, -c.config.RetentionDays)

	count, err := c.store.CountOlderThan(ctx, cutoff)
	if err != nil {
		c.logger.Error("failed to count old audit entries", "error", err, "cutoff_time", cutoff)
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}

	c.logger.Info("found audit entries for retention cleanup",
		"count", count,
		"cutoff_time", cutoff,
		"retention_days", c.config.RetentionDays,
		"dry_run", c.config.DryRun,
	)
	if c.config.DryRun {
		return int(count), nil
	}

	var total int64
	for {
		deleted, err := c.store.DeleteOlderThan(ctx, cutoff, c.config.BatchSize)
		if err != nil {
			c.logger.Error("failed to delete old audit entries", "error", err, "deleted_so_far", total)
			return int(total), err
		}
		total += deleted
		if deleted < int64(c.config.BatchSize) {
			break
		}
	}

	c.logger.Info("deleted old audit entries", "count", total, "cutoff_time", cutoff)
	return int(total), nil
}
