package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is loaded once at startup and handed to every component
type Config struct {
	Port     int    `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Env      string `envconfig:"APP_ENV" default:"development"`

	// Each group's tag prefixes its variables: DB + Host reads DB_HOST.
	// Group fields use split_words without an envconfig tag so envconfig
	// never falls back to unprefixed names like USER or PORT.
	DB        DBConfig        `envconfig:"DB"`
	Kafka     KafkaConfig     `envconfig:"KAFKA"`
	Auth      AuthConfig      `envconfig:"AUTH"`
	Outbox    OutboxConfig    `envconfig:"OUTBOX"`
	DLQ       DLQConfig       `envconfig:"DLQ"`
	CodeLimit CodeLimitConfig `envconfig:"CODE_RATE"`
}

// DBConfig holds the database configuration
type DBConfig struct {
	Host            string        `split_words:"true" default:"localhost"`
	Port            int           `split_words:"true" default:"5432"`
	User            string        `split_words:"true" default:"postgres"`
	Password        string        `split_words:"true" default:"postgres"`
	Name            string        `split_words:"true" default:"marketplace"`
	SSLMode         string        `split_words:"true" default:"disable"`
	MaxOpenConns    int           `split_words:"true" default:"25"`
	MaxIdleConns    int           `split_words:"true" default:"5"`
	ConnMaxLifetime time.Duration `split_words:"true" default:"5m"`
	AutoMigrate     bool          `split_words:"true" default:"true"`
}

// KafkaConfig configures the lifecycle event topic. With Enabled=false the
// outbox delivers notifications in-process instead.
type KafkaConfig struct {
	Enabled        bool     `split_words:"true" default:"false"`
	Brokers        []string `split_words:"true" default:"localhost:9092"`
	LifecycleTopic string   `split_words:"true" default:"marketplace.lifecycle"`
	ConsumerGroup  string   `split_words:"true" default:"marketplace-notifications"`
}

// AuthConfig holds the session token verification settings
type AuthConfig struct {
	JWTSecret string `split_words:"true"`
	Issuer    string `split_words:"true"`
}

// OutboxConfig tunes the outbox processor
type OutboxConfig struct {
	PollingInterval time.Duration `split_words:"true" default:"2s"`
	BatchSize       int           `split_words:"true" default:"25"`
	MaxRetries      int           `split_words:"true" default:"5"`
	MessageTimeout  time.Duration `split_words:"true" default:"30s"`
	ClaimLease      time.Duration `split_words:"true" default:"5m"`
}

// DLQConfig tunes the dead letter processor
type DLQConfig struct {
	PollingInterval time.Duration `split_words:"true" default:"30s"`
	BatchSize       int           `split_words:"true" default:"5"`
	MaxRetries      int           `split_words:"true" default:"5"`
}

// CodeLimitConfig limits drop-off and pickup code attempts per caller
type CodeLimitConfig struct {
	PerMinute float64 `split_words:"true" default:"10"`
	Burst     int     `split_words:"true" default:"5"`
}

// Load reads the configuration from environment variables
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("AUTH_JWT_SECRET must not be empty")
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}

	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED is set")
	}

	return &cfg, nil
}

// GetDBConnString returns the lib/pq connection string
func (c *Config) GetDBConnString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode)
}
