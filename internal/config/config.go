package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App            AppConfig            `mapstructure:"app"`
	RSK            RSKConfig            `mapstructure:"rsk"`
	Storage        StorageConfig        `mapstructure:"storage"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Lock           LockConfig           `mapstructure:"lock"`
	Notifications  NotificationConfig   `mapstructure:"notifications"`
	Server         ServerConfig         `mapstructure:"server"`
	Logging        LoggingConfig        `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// RSKConfig contains RSK node connection configuration
type RSKConfig struct {
	NodeURL        string        `mapstructure:"node_url"`
	NetworkID      int           `mapstructure:"network_id"`
	BackupNodes    []string      `mapstructure:"backup_nodes"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	MaxConnections int           `mapstructure:"max_connections"`
	RateLimit      float64       `mapstructure:"rate_limit"` // requests per second, 0 disables
	RateBurst      int           `mapstructure:"rate_burst"`
	TrackedTokens  []TokenConfig `mapstructure:"tracked_tokens"`
	Breaker        BreakerConfig `mapstructure:"breaker"`
}

// TokenConfig describes an ERC-20 contract included in account snapshots
type TokenConfig struct {
	Symbol   string `mapstructure:"symbol"`
	Address  string `mapstructure:"address"`
	Decimals int32  `mapstructure:"decimals"`
}

// BreakerConfig configures the circuit breaker in front of the RSK node
type BreakerConfig struct {
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
}

// StorageConfig contains database configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type"` // sqlite, postgres
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
}

// ReconciliationConfig contains the reconciliation engine settings
type ReconciliationConfig struct {
	MinorThreshold string        `mapstructure:"minor_threshold"`
	MajorThreshold string        `mapstructure:"major_threshold"`
	BatchSize      int           `mapstructure:"batch_size"`
	Concurrency    int           `mapstructure:"concurrency"`
	LedgerTimeout  time.Duration `mapstructure:"ledger_timeout"`
	Interval       time.Duration `mapstructure:"interval"` // 0 disables scheduled runs
	NativeAsset    string        `mapstructure:"native_asset"`
	RunOnStart     bool          `mapstructure:"run_on_start"`
}

// LockConfig selects the single-flight lock backend
type LockConfig struct {
	Backend       string        `mapstructure:"backend"` // local, redis
	Key           string        `mapstructure:"key"`
	TTL           time.Duration `mapstructure:"ttl"`
	RedisAddress  string        `mapstructure:"redis_address"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
}

// NotificationConfig contains alert delivery configuration
type NotificationConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	WebhookURL     string        `mapstructure:"webhook_url"`
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port          int           `mapstructure:"port"`
	Host          string        `mapstructure:"host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
	EnableHealth  bool          `mapstructure:"enable_health"`
	AdminToken    string        `mapstructure:"admin_token"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, file
	File   string `mapstructure:"file"`
}

// Load loads configuration from file, .env and environment variables
func Load(configPath string) (*Config, error) {
	// A missing .env is normal outside local development
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("RECONCILER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configPath != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// bindEnv binds the well-known variable names that predate the prefixed scheme
func bindEnv(v *viper.Viper) {
	v.BindEnv("reconciliation.minor_threshold", "RECONCILER_RECONCILIATION_MINOR_THRESHOLD", "MINOR_DISCREPANCY_THRESHOLD")
	v.BindEnv("reconciliation.major_threshold", "RECONCILER_RECONCILIATION_MAJOR_THRESHOLD", "MAJOR_DISCREPANCY_THRESHOLD")
	v.BindEnv("reconciliation.batch_size", "RECONCILER_RECONCILIATION_BATCH_SIZE", "RECONCILIATION_BATCH_SIZE")
	v.BindEnv("rsk.node_url", "RECONCILER_RSK_NODE_URL", "RSK_NODE_URL")
	v.BindEnv("storage.connection_string", "RECONCILER_STORAGE_CONNECTION_STRING", "DATABASE_URL")
	v.BindEnv("lock.redis_address", "RECONCILER_LOCK_REDIS_ADDRESS", "REDIS_ADDRESS")
	v.BindEnv("server.admin_token", "RECONCILER_SERVER_ADMIN_TOKEN", "ADMIN_TOKEN")
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "rsk-balance-reconciler")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)

	// RSK defaults
	v.SetDefault("rsk.node_url", "https://public-node.testnet.rsk.co")
	v.SetDefault("rsk.network_id", 31) // RSK Testnet
	v.SetDefault("rsk.request_timeout", "30s")
	v.SetDefault("rsk.retry_attempts", 3)
	v.SetDefault("rsk.retry_delay", "5s")
	v.SetDefault("rsk.max_connections", 2)
	v.SetDefault("rsk.rate_limit", 20)
	v.SetDefault("rsk.rate_burst", 20)
	v.SetDefault("rsk.breaker.max_requests", 1)
	v.SetDefault("rsk.breaker.interval", "60s")
	v.SetDefault("rsk.breaker.timeout", "30s")
	v.SetDefault("rsk.breaker.failure_threshold", 5)

	// Storage defaults
	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.connection_string", "./data/reconciler.db")
	v.SetDefault("storage.max_connections", 25)
	v.SetDefault("storage.max_idle_time", "15m")

	// Reconciliation defaults
	v.SetDefault("reconciliation.minor_threshold", "0.01")
	v.SetDefault("reconciliation.major_threshold", "1.0")
	v.SetDefault("reconciliation.batch_size", 50)
	v.SetDefault("reconciliation.concurrency", 10)
	v.SetDefault("reconciliation.ledger_timeout", "15s")
	v.SetDefault("reconciliation.interval", "1h")
	v.SetDefault("reconciliation.native_asset", "RBTC")
	v.SetDefault("reconciliation.run_on_start", false)

	// Lock defaults
	v.SetDefault("lock.backend", "local")
	v.SetDefault("lock.key", "reconciler:run")
	v.SetDefault("lock.ttl", "2m")
	v.SetDefault("lock.redis_address", "localhost:6379")
	v.SetDefault("lock.redis_db", 0)

	// Notification defaults
	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.webhook_timeout", "10s")
	v.SetDefault("notifications.retry_attempts", 3)
	v.SetDefault("notifications.retry_delay", "2s")

	// Server defaults
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10m") // manual runs return the full report synchronously
	v.SetDefault("server.enable_metrics", true)
	v.SetDefault("server.enable_health", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// MinorThresholdValue returns the parsed minor discrepancy threshold
func (c *ReconciliationConfig) MinorThresholdValue() (decimal.Decimal, error) {
	return decimal.NewFromString(c.MinorThreshold)
}

// MajorThresholdValue returns the parsed major discrepancy threshold
func (c *ReconciliationConfig) MajorThresholdValue() (decimal.Decimal, error) {
	return decimal.NewFromString(c.MajorThreshold)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.RSK.NodeURL == "" {
		return fmt.Errorf("RSK node URL is required")
	}
	if c.Storage.ConnectionString == "" {
		return fmt.Errorf("storage connection string is required")
	}

	minor, err := c.Reconciliation.MinorThresholdValue()
	if err != nil {
		return fmt.Errorf("invalid minor threshold %q: %w", c.Reconciliation.MinorThreshold, err)
	}
	major, err := c.Reconciliation.MajorThresholdValue()
	if err != nil {
		return fmt.Errorf("invalid major threshold %q: %w", c.Reconciliation.MajorThreshold, err)
	}
	if !minor.IsPositive() || !major.IsPositive() {
		return fmt.Errorf("discrepancy thresholds must be positive")
	}
	if minor.GreaterThan(major) {
		return fmt.Errorf("minor threshold %s exceeds major threshold %s", minor, major)
	}
	if c.Reconciliation.BatchSize < 1 {
		return fmt.Errorf("reconciliation batch size must be at least 1")
	}
	if c.Reconciliation.Concurrency < 1 {
		return fmt.Errorf("reconciliation concurrency must be at least 1")
	}
	if c.Reconciliation.LedgerTimeout <= 0 {
		return fmt.Errorf("ledger timeout must be positive")
	}
	if c.Reconciliation.Interval < 0 {
		return fmt.Errorf("reconciliation interval cannot be negative")
	}

	switch c.Lock.Backend {
	case "local":
	case "redis":
		if c.Lock.RedisAddress == "" {
			return fmt.Errorf("redis address is required for the redis lock backend")
		}
		if c.Lock.TTL <= 0 {
			return fmt.Errorf("lock ttl must be positive")
		}
	default:
		return fmt.Errorf("unsupported lock backend %q", c.Lock.Backend)
	}

	for _, token := range c.RSK.TrackedTokens {
		if token.Symbol == "" || token.Address == "" {
			return fmt.Errorf("tracked tokens need a symbol and an address")
		}
	}

	return nil
}
