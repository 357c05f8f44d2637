package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// SchedulerConfig holds control-loop and engine tuning knobs
type SchedulerConfig struct {
	DriftInterval     time.Duration
	TTLInterval       time.Duration
	RetentionInterval time.Duration

	// Reconciliation debounce window per (tenant, source, target) key
	DebounceWindow time.Duration

	// Environment sync batch size
	SyncBatchSize int

	// How long before expiry the TTL warning notification fires
	TTLWarningWindow time.Duration

	// Incident TTL hours by severity
	TTLHoursCritical int
	TTLHoursHigh     int
	TTLHoursMedium   int
	TTLHoursLow      int
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "driftd"),
			User:        getEnv("POSTGRES_USER", "driftd"),
			Password:    getEnv("POSTGRES_PASSWORD", "driftd"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 25),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 5),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", true),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Scheduler: SchedulerConfig{
			DriftInterval:     getEnvDuration("DRIFT_LOOP_INTERVAL", 5*time.Minute),
			TTLInterval:       getEnvDuration("TTL_LOOP_INTERVAL", 1*time.Minute),
			RetentionInterval: getEnvDuration("RETENTION_LOOP_INTERVAL", 24*time.Hour),
			DebounceWindow:    getEnvDuration("RECONCILE_DEBOUNCE_WINDOW", 60*time.Second),
			SyncBatchSize:     getEnvInt("SYNC_BATCH_SIZE", 25),
			TTLWarningWindow:  getEnvDuration("TTL_WARNING_WINDOW", 6*time.Hour),
			TTLHoursCritical:  getEnvInt("TTL_HOURS_CRITICAL", 24),
			TTLHoursHigh:      getEnvInt("TTL_HOURS_HIGH", 48),
			TTLHoursMedium:    getEnvInt("TTL_HOURS_MEDIUM", 72),
			TTLHoursLow:       getEnvInt("TTL_HOURS_LOW", 168),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	if c.Scheduler.SyncBatchSize < 1 {
		return fmt.Errorf("sync batch size must be positive")
	}

	if c.Scheduler.DebounceWindow < 0 {
		return fmt.Errorf("debounce window must not be negative")
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
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
