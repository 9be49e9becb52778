package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"codepulse/pkg/errors"
)

type Config struct {
	App           AppConfig
	Server        ServerConfig
	Postgres      PostgresConfig
	ClickHouse    ClickHouseConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Auth          AuthConfig
	Ingest        IngestConfig
	Persistence   PersistenceConfig
	Fanout        FanoutConfig
	ErrorTracking ErrorTrackingConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"codepulse"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`
	Version  string `envconfig:"APP_VERSION" default:"dev"`
}

type ServerConfig struct {
	Port int `envconfig:"HTTP_PORT" default:"8080"`
}

type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" required:"true"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" required:"true"`
	Password string `envconfig:"POSTGRES_PASSWORD" required:"true"`
	Database string `envconfig:"POSTGRES_DB" required:"true"`
	SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns int    `envconfig:"POSTGRES_MAX_CONNS" default:"25"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type ClickHouseConfig struct {
	Host     string `envconfig:"CLICKHOUSE_HOST" required:"true"`
	Port     int    `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	User     string `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password string `envconfig:"CLICKHOUSE_PASSWORD"`
	Database string `envconfig:"CLICKHOUSE_DB" default:"codepulse"`
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" required:"true"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type KafkaConfig struct {
	Brokers []string `envconfig:"KAFKA_BROKERS" required:"true"`
	GroupID string   `envconfig:"KAFKA_GROUP_ID" default:"codepulse"`
}

type AuthConfig struct {
	JWTSecret string        `envconfig:"JWT_SECRET" required:"true"`
	Issuer    string        `envconfig:"JWT_ISSUER" default:"codepulse"`
	TokenTTL  time.Duration `envconfig:"JWT_TOKEN_TTL" default:"720h"`
}

// IngestConfig tunes the gateway and the reconciler.
// QueueBound caps pending events per (user, file) key so a runaway client
// cannot grow memory without bound; beyond the cap callers get Overloaded.
type IngestConfig struct {
	QueueBound        int           `envconfig:"INGEST_QUEUE_BOUND" default:"300"`
	DedupWindow       time.Duration `envconfig:"INGEST_DEDUP_WINDOW" default:"60s"`
	InactivityTimeout time.Duration `envconfig:"INGEST_INACTIVITY_TIMEOUT" default:"5m"`
}

// PersistenceConfig tunes the dual-store coordinator retry policy
type PersistenceConfig struct {
	MaxAttempts    int           `envconfig:"PERSIST_MAX_ATTEMPTS" default:"6"`
	InitialBackoff time.Duration `envconfig:"PERSIST_INITIAL_BACKOFF" default:"500ms"`
	MaxBackoff     time.Duration `envconfig:"PERSIST_MAX_BACKOFF" default:"30s"`
	RepairInterval time.Duration `envconfig:"PERSIST_REPAIR_INTERVAL" default:"5m"`
}

type FanoutConfig struct {
	SubscriberBuffer int           `envconfig:"FANOUT_SUBSCRIBER_BUFFER" default:"64"`
	PresenceTTL      time.Duration `envconfig:"FANOUT_PRESENCE_TTL" default:"2m"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"true"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// Load reads configuration from environment variables
// It first tries to load .env file (useful for local development)
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not exists)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	return &cfg, nil
}
