package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// ServiceConfig contains service-specific configuration
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	BuildTime   string `mapstructure:"build_time"`
	GitCommit   string `mapstructure:"git_commit"`
}

// PostgreSQLConfig contains PostgreSQL configuration
type PostgreSQLConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN builds the lib/pq connection string
func (c PostgreSQLConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.Username, c.Password, c.SSLMode)
}

// RedisConfig contains Redis configuration
type RedisConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	Database    int           `mapstructure:"database"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// Addr returns the host:port address of the Redis server
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig contains Kafka configuration
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	GroupID      string        `mapstructure:"group_id"`
	ClientID     string        `mapstructure:"client_id"`
	RetryMax     int           `mapstructure:"retry_max"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	Output      string `mapstructure:"output"`
	Development bool   `mapstructure:"development"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// SetBaseDefaults registers defaults for the shared configuration sections on
// the given viper instance. Services call this before layering their own
// defaults.
func SetBaseDefaults(v *viper.Viper) {
	// Service defaults
	v.SetDefault("service.name", "chainwatch-service")
	v.SetDefault("service.version", "1.0.0")
	v.SetDefault("service.environment", "development")

	// Database defaults
	v.SetDefault("database.postgresql.host", "localhost")
	v.SetDefault("database.postgresql.port", 5432)
	v.SetDefault("database.postgresql.database", "chainwatch")
	v.SetDefault("database.postgresql.username", "chainwatch_app")
	v.SetDefault("database.postgresql.ssl_mode", "disable")
	v.SetDefault("database.postgresql.max_open_conns", 25)
	v.SetDefault("database.postgresql.max_idle_conns", 5)
	v.SetDefault("database.postgresql.conn_max_lifetime", "5m")

	// Cache defaults
	v.SetDefault("cache.redis.host", "localhost")
	v.SetDefault("cache.redis.port", 6379)
	v.SetDefault("cache.redis.database", 0)
	v.SetDefault("cache.redis.max_retries", 3)
	v.SetDefault("cache.redis.pool_size", 10)
	v.SetDefault("cache.redis.idle_timeout", "5m")

	// Message queue defaults
	v.SetDefault("messagequeue.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("messagequeue.kafka.group_id", "chainwatch-platform")
	v.SetDefault("messagequeue.kafka.client_id", "chainwatch-client")
	v.SetDefault("messagequeue.kafka.retry_max", 3)
	v.SetDefault("messagequeue.kafka.retry_backoff", "250ms")
	v.SetDefault("messagequeue.kafka.batch_size", 100)
	v.SetDefault("messagequeue.kafka.batch_timeout", "1s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.development", false)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.host", "0.0.0.0")
	v.SetDefault("metrics.port", 8081)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "chainwatch")
}

// BindBaseEnvironment binds environment variables for the shared sections
func BindBaseEnvironment(v *viper.Viper) {
	// Service
	v.BindEnv("service.name", "SERVICE_NAME")
	v.BindEnv("service.version", "SERVICE_VERSION")
	v.BindEnv("service.environment", "ENVIRONMENT")

	// Database
	v.BindEnv("database.postgresql.host", "POSTGRES_HOST")
	v.BindEnv("database.postgresql.port", "POSTGRES_PORT")
	v.BindEnv("database.postgresql.database", "POSTGRES_DB")
	v.BindEnv("database.postgresql.username", "POSTGRES_USER")
	v.BindEnv("database.postgresql.password", "POSTGRES_PASSWORD")
	v.BindEnv("database.postgresql.ssl_mode", "POSTGRES_SSL_MODE")

	// Cache
	v.BindEnv("cache.redis.host", "REDIS_HOST")
	v.BindEnv("cache.redis.port", "REDIS_PORT")
	v.BindEnv("cache.redis.password", "REDIS_PASSWORD")
	v.BindEnv("cache.redis.database", "REDIS_DB")

	// Message queue
	v.BindEnv("messagequeue.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("messagequeue.kafka.group_id", "KAFKA_GROUP_ID")
	v.BindEnv("messagequeue.kafka.client_id", "KAFKA_CLIENT_ID")

	// Logging
	v.BindEnv("logging.level", "LOG_LEVEL")
	v.BindEnv("logging.format", "LOG_FORMAT")

	// Metrics
	v.BindEnv("metrics.enabled", "METRICS_ENABLED")
	v.BindEnv("metrics.port", "METRICS_PORT")
}

// GetEnv gets an environment variable with a fallback default
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvAsInt gets an environment variable as integer with a fallback default
func GetEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsBool gets an environment variable as boolean with a fallback default
func GetEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// GetEnvAsDuration gets an environment variable as duration with a fallback default
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
