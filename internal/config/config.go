package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/openctemio/qualitygate/pkg/validator"
)

// Environment constants
const (
	EnvProduction = "production"
)

// Dispatch modes for per-run handling of the poller.
const (
	DispatchInline = "inline"
	DispatchQueue  = "queue"
)

// Config holds all application configuration.
type Config struct {
	App        AppConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Log        LogConfig
	Executor   ExecutorConfig
	Storage    StorageConfig
	Poller     PollerConfig
	Workflow   WorkflowConfig
	Queue      QueueConfig
	Tracing    TracingConfig
	Ops        OpsConfig
	Retention  RetentionConfig
	Encryption EncryptionConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Name  string `validate:"required"`
	Env   string `validate:"oneof=development staging production test"`
	Debug bool
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string `validate:"required"`
	Port            int    `validate:"min=1,max=65535"`
	User            string
	Password        string
	Name            string `validate:"required"`
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis configuration. Redis is only needed for the
// queue dispatch mode and the distributed sweep lock.
type RedisConfig struct {
	Host          string
	Port          int
	Password      string
	DB            int
	PoolSize      int
	MinIdleConns  int
	DialTimeout   time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	TLSEnabled    bool
	TLSSkipVerify bool
	MaxRetries    int
	MinRetryDelay time.Duration
	MaxRetryDelay time.Duration
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level             string  `validate:"omitempty,oneof=debug info warn warning error DEBUG INFO WARN ERROR"`
	Format            string  `validate:"omitempty,oneof=json text JSON TEXT"`
	SamplingEnabled   bool    // Thin out repeated per-tick warnings
	SamplingThreshold int     `validate:"min=0"`
	SamplingRate      float64 `validate:"min=0,max=1"`
}

// ExecutorConfig holds the workflow executor client configuration.
type ExecutorConfig struct {
	URL     string `validate:"required,url"`
	Token   string
	Timeout time.Duration
	// RateLimit is the maximum number of requests per second.
	RateLimit  float64 `validate:"min=0"`
	RateBurst  int     `validate:"min=0"`
	RetryCount int     `validate:"min=0"`
	// ArchiveChecksDisabled treats a job missing from the live API as not
	// finished instead of consulting the archive.
	ArchiveChecksDisabled bool
}

// StorageConfig holds blob storage configuration.
type StorageConfig struct {
	Bucket          string `validate:"required"`
	Region          string
	Endpoint        string // For S3-compatible stores such as MinIO
	AccessKeyID     string
	SecretAccessKey string
	// LogsPrefix is where the executor archives combined job logs.
	LogsPrefix string
}

// PollerConfig holds the finished-run poller configuration.
type PollerConfig struct {
	Enabled  bool
	Interval time.Duration `validate:"min=1s"`
	// RunTimeout fails runs that stay active longer than this.
	RunTimeout time.Duration
	// Dispatch selects how per-run handling is executed: inline or queue.
	Dispatch      string        `validate:"oneof=inline queue"`
	MaxConcurrent int           `validate:"min=1"`
	PerRunTimeout time.Duration `validate:"min=1s"`
	// ResultRetryUnit scales the result download retry delays (0, 1, 3 units).
	ResultRetryUnit time.Duration
	// DistributedLock guards sweeps across instances with Redis.
	DistributedLock bool
}

// WorkflowConfig holds the job spec builder configuration.
type WorkflowConfig struct {
	RootFile          string `validate:"required"`
	ExecutorNamespace string `validate:"required"`
	PullPolicy        string `validate:"pull_policy"`
	// Images maps version constraints to engine images, e.g.
	// "^1=registry/qg-engine:1.9,^2=registry/qg-engine:2.3".
	Images []ImageRule `validate:"min=1,dive"`

	PrivateCloud    bool
	HTTPProxy       string
	HTTPSProxy      string
	NoProxy         string
	ImagePullSecret string
}

// ImageRule selects the engine image for a schema version constraint.
type ImageRule struct {
	Constraint string `validate:"required,semver_constraint"`
	Image      string `validate:"required"`
}

// QueueConfig holds the asynq worker configuration.
type QueueConfig struct {
	Concurrency int `validate:"min=1"`
	Name        string
}

// TracingConfig holds OpenTelemetry configuration.
type TracingConfig struct {
	// Endpoint is the OTLP/HTTP collector endpoint. Empty disables export.
	Endpoint    string
	Insecure    bool
	ServiceName string
	SampleRatio float64 `validate:"min=0,max=1"`
}

// IsEnabled returns true if traces are exported.
func (c *TracingConfig) IsEnabled() bool {
	return c.Endpoint != ""
}

// OpsConfig holds the health and metrics server configuration.
type OpsConfig struct {
	Host            string
	Port            int `validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration
}

// RetentionConfig holds the audit retention configuration.
type RetentionConfig struct {
	Enabled  bool
	Interval time.Duration
	// Days to keep audit entries for.
	Days      int `validate:"min=0"`
	BatchSize int `validate:"min=0"`
	DryRun    bool
}

// EncryptionConfig holds the secret store encryption configuration.
type EncryptionConfig struct {
	// Key is a base64-encoded 32 byte key. Takes precedence over Passphrase.
	Key string
	// Passphrase derives the key with HKDF when Key is empty.
	Passphrase string
	Salt       string
}

// IsConfigured returns true if encryption is configured.
func (c *EncryptionConfig) IsConfigured() bool {
	return c.Key != "" || c.Passphrase != ""
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	images, err := parseImageRules(getEnv("WORKFLOW_IMAGES", "^1=ghcr.io/openctemio/qg-engine:1,^2=ghcr.io/openctemio/qg-engine:2"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App: AppConfig{
			Name:  getEnv("APP_NAME", "qualitygate"),
			Env:   getEnv("APP_ENV", "development"),
			Debug: getEnvBool("APP_DEBUG", false),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "qualitygate"),
			Password:        getEnv("DB_PASSWORD", ""),
			Name:            getEnv("DB_NAME", "qualitygate"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:          getEnv("REDIS_HOST", "localhost"),
			Port:          getEnvInt("REDIS_PORT", 6379),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvInt("REDIS_DB", 0),
			PoolSize:      getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns:  getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:   getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:   getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout:  getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			TLSEnabled:    getEnvBool("REDIS_TLS_ENABLED", false),
			TLSSkipVerify: getEnvBool("REDIS_TLS_SKIP_VERIFY", false),
			MaxRetries:    getEnvInt("REDIS_MAX_RETRIES", 3),
			MinRetryDelay: getEnvDuration("REDIS_MIN_RETRY_DELAY", 100*time.Millisecond),
			MaxRetryDelay: getEnvDuration("REDIS_MAX_RETRY_DELAY", 3*time.Second),
		},
		Log: LogConfig{
			Level:             getEnv("LOG_LEVEL", "info"),
			Format:            getEnv("LOG_FORMAT", "json"),
			SamplingEnabled:   getEnvBool("LOG_SAMPLING_ENABLED", false),
			SamplingThreshold: getEnvInt("LOG_SAMPLING_THRESHOLD", 20),
			SamplingRate:      getEnvFloat("LOG_SAMPLING_RATE", 0.1),
		},
		Executor: ExecutorConfig{
			URL:                   getEnv("EXECUTOR_URL", ""),
			Token:                 getEnv("EXECUTOR_TOKEN", ""),
			Timeout:               getEnvDuration("EXECUTOR_TIMEOUT", 30*time.Second),
			RateLimit:             getEnvFloat("EXECUTOR_RATE_LIMIT", 20),
			RateBurst:             getEnvInt("EXECUTOR_RATE_BURST", 10),
			RetryCount:            getEnvInt("EXECUTOR_RETRY_COUNT", 2),
			ArchiveChecksDisabled: getEnvBool("EXECUTOR_ARCHIVE_CHECKS_DISABLED", false),
		},
		Storage: StorageConfig{
			Bucket:          getEnv("STORAGE_BUCKET", ""),
			Region:          getEnv("STORAGE_REGION", "us-east-1"),
			Endpoint:        getEnv("STORAGE_ENDPOINT", ""),
			AccessKeyID:     getEnv("STORAGE_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("STORAGE_SECRET_ACCESS_KEY", ""),
			LogsPrefix:      getEnv("STORAGE_LOGS_PREFIX", "logs"),
		},
		Poller: PollerConfig{
			Enabled:         getEnvBool("POLLER_ENABLED", true),
			Interval:        getEnvDuration("POLLER_INTERVAL", 10*time.Second),
			RunTimeout:      getEnvDuration("POLLER_RUN_TIMEOUT", 30*time.Minute),
			Dispatch:        strings.ToLower(getEnv("POLLER_DISPATCH", DispatchInline)),
			MaxConcurrent:   getEnvInt("POLLER_MAX_CONCURRENT", 8),
			PerRunTimeout:   getEnvDuration("POLLER_PER_RUN_TIMEOUT", 5*time.Minute),
			ResultRetryUnit: getEnvDuration("POLLER_RESULT_RETRY_UNIT", time.Second),
			DistributedLock: getEnvBool("POLLER_DISTRIBUTED_LOCK", false),
		},
		Workflow: WorkflowConfig{
			RootFile:          getEnv("WORKFLOW_ROOT_FILE", "qg-config.yaml"),
			ExecutorNamespace: getEnv("WORKFLOW_EXECUTOR_NAMESPACE", "qualitygate"),
			PullPolicy:        getEnv("WORKFLOW_PULL_POLICY", "IfNotPresent"),
			Images:            images,
			PrivateCloud:      getEnvBool("WORKFLOW_PRIVATE_CLOUD", false),
			HTTPProxy:         getEnv("WORKFLOW_HTTP_PROXY", ""),
			HTTPSProxy:        getEnv("WORKFLOW_HTTPS_PROXY", ""),
			NoProxy:           strings.Join(getEnvSlice("WORKFLOW_NO_PROXY", nil), ","),
			ImagePullSecret:   getEnv("WORKFLOW_IMAGE_PULL_SECRET", ""),
		},
		Queue: QueueConfig{
			Concurrency: getEnvInt("QUEUE_CONCURRENCY", 8),
			Name:        getEnv("QUEUE_NAME", "runs"),
		},
		Tracing: TracingConfig{
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Insecure:    getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", false),
			ServiceName: getEnv("OTEL_SERVICE_NAME", "qualitygate"),
			SampleRatio: getEnvFloat("OTEL_TRACES_SAMPLE_RATIO", 1.0),
		},
		Ops: OpsConfig{
			Host:            getEnv("OPS_HOST", "0.0.0.0"),
			Port:            getEnvInt("OPS_PORT", 9090),
			ShutdownTimeout: getEnvDuration("OPS_SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Retention: RetentionConfig{
			Enabled:   getEnvBool("AUDIT_RETENTION_ENABLED", true),
			Interval:  getEnvDuration("AUDIT_RETENTION_INTERVAL", 24*time.Hour),
			Days:      getEnvInt("AUDIT_RETENTION_DAYS", 365),
			BatchSize: getEnvInt("AUDIT_RETENTION_BATCH_SIZE", 10000),
			DryRun:    getEnvBool("AUDIT_RETENTION_DRY_RUN", false),
		},
		Encryption: EncryptionConfig{
			Key:        getEnv("APP_ENCRYPTION_KEY", ""),
			Passphrase: getEnv("APP_ENCRYPTION_PASSPHRASE", ""),
			Salt:       getEnv("APP_ENCRYPTION_SALT", "qualitygate"),
		},
	}

	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validator.New().Validate(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Workflow.PrivateCloud && c.Workflow.HTTPSProxy == "" && c.Workflow.HTTPProxy == "" {
		return fmt.Errorf("WORKFLOW_PRIVATE_CLOUD requires WORKFLOW_HTTP_PROXY or WORKFLOW_HTTPS_PROXY")
	}
	if c.IsProduction() && !c.Encryption.IsConfigured() {
		return fmt.Errorf("APP_ENCRYPTION_KEY or APP_ENCRYPTION_PASSPHRASE is required in production")
	}
	if c.Poller.RunTimeout <= c.Poller.Interval {
		return fmt.Errorf("POLLER_RUN_TIMEOUT (%s) must exceed POLLER_INTERVAL (%s)", c.Poller.RunTimeout, c.Poller.Interval)
	}
	return nil
}

// NeedsRedis returns true if a configured feature depends on Redis.
func (c *Config) NeedsRedis() bool {
	return c.Poller.Dispatch == DispatchQueue || c.Poller.DistributedLock
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Addr returns the Redis address.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Addr returns the ops server address.
func (c *OpsConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsProduction returns true if the application is in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Env == EnvProduction
}

// parseImageRules parses "constraint=image" pairs separated by commas,
// keeping their order.
func parseImageRules(s string) ([]ImageRule, error) {
	var rules []ImageRule
	for _, pair := range splitAndTrim(s, ",") {
		constraint, image, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid WORKFLOW_IMAGES entry %q: expected constraint=image", pair)
		}
		rules = append(rules, ImageRule{
			Constraint: strings.TrimSpace(constraint),
			Image:      strings.TrimSpace(image),
		})
	}
	return rules, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		if result := splitAndTrim(value, ","); len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

func splitAndTrim(s, sep string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
