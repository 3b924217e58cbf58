// Package config reads service settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	StoreMemory   = "memory"
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
)

type Config struct {
	LogLevel        logrus.Level
	Port            string
	ShutdownTimeout time.Duration
	AllowedOrigins  []string

	StoreBackend      string
	MongoURI          string
	MongoDatabase     string
	MongoTransactions bool
	PostgresDSN       string
	DBConnectAttempts int
	StoreCallTimeout  time.Duration
	BreakerFailures   int
	BreakerOpenTime   time.Duration

	RedisURL string

	KafkaBrokers    []string
	NotifierGroupID string
	DLQGroupID      string
	DLQReplay       bool
	DLQReplayDelay  time.Duration

	BulkConcurrency int

	AWSRegion      string
	SNSEndpoint    string
	SMSSenderID    string
	EmailTopicARN  string
	WebhookURL     string
	WebhookTimeout time.Duration
}

// KafkaEnabled reports whether a broker list was configured.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// Load reads a .env file from the working directory when present, then the
// environment. portKey names the variable holding the listen port so each
// binary can have its own.
func Load(portKey, defaultPort string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}
	return fromEnv(os.Getenv, portKey, defaultPort)
}

type parser struct {
	lookup func(string) string
	errs   []error
}

func (p *parser) str(key, defaultValue string) string {
	if value := p.lookup(key); value != "" {
		return value
	}
	return defaultValue
}

func (p *parser) integer(key string, defaultValue, min int) int {
	raw := p.lookup(key)
	if raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min {
		p.errs = append(p.errs, fmt.Errorf("%s must be an integer >= %d, got %q", key, min, raw))
		return defaultValue
	}
	return n
}

func (p *parser) duration(key string, defaultValue time.Duration) time.Duration {
	raw := p.lookup(key)
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		p.errs = append(p.errs, fmt.Errorf("%s must be a positive duration, got %q", key, raw))
		return defaultValue
	}
	return d
}

func (p *parser) boolean(key string, defaultValue bool) bool {
	raw := p.lookup(key)
	if raw == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s must be a boolean, got %q", key, raw))
		return defaultValue
	}
	return b
}

func (p *parser) list(key string) []string {
	var out []string
	for _, part := range strings.Split(p.lookup(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func fromEnv(lookup func(string) string, portKey, defaultPort string) (*Config, error) {
	p := &parser{lookup: lookup}

	level, err := logrus.ParseLevel(p.str("LOG_LEVEL", "info"))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("LOG_LEVEL: %w", err))
		level = logrus.InfoLevel
	}

	cfg := &Config{
		LogLevel:        level,
		Port:            p.str(portKey, defaultPort),
		ShutdownTimeout: p.duration("SHUTDOWN_TIMEOUT", 30*time.Second),
		AllowedOrigins:  p.list("ALLOWED_ORIGINS"),

		StoreBackend:      strings.ToLower(p.str("STORE_BACKEND", StoreMemory)),
		MongoURI:          p.str("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:     p.str("MONGO_DATABASE", "commerce"),
		MongoTransactions: p.boolean("MONGO_TRANSACTIONS", true),
		DBConnectAttempts: p.integer("DB_CONNECT_ATTEMPTS", 30, 1),
		StoreCallTimeout:  p.duration("STORE_CALL_TIMEOUT", 5*time.Second),
		BreakerFailures:   p.integer("BREAKER_MAX_FAILURES", 5, 1),
		BreakerOpenTime:   p.duration("BREAKER_OPEN_TIMEOUT", 30*time.Second),

		RedisURL: p.str("REDIS_URL", ""),

		KafkaBrokers:    p.list("KAFKA_BROKERS"),
		NotifierGroupID: p.str("NOTIFIER_GROUP_ID", "order-notifier-group"),
		DLQGroupID:      p.str("DLQ_GROUP_ID", "dlq-monitor-group"),
		DLQReplay:       p.boolean("DLQ_REPLAY", false),
		DLQReplayDelay:  p.duration("DLQ_REPLAY_DELAY", 30*time.Second),

		BulkConcurrency: p.integer("BULK_CONCURRENCY", 4, 1),

		AWSRegion:      p.str("AWS_REGION", ""),
		SNSEndpoint:    p.str("SNS_ENDPOINT", ""),
		SMSSenderID:    p.str("SMS_SENDER_ID", ""),
		EmailTopicARN:  p.str("EMAIL_TOPIC_ARN", ""),
		WebhookURL:     p.str("NOTIFY_WEBHOOK_URL", ""),
		WebhookTimeout: p.duration("NOTIFY_WEBHOOK_TIMEOUT", 10*time.Second),
	}

	cfg.PostgresDSN = p.str("POSTGRES_DSN", "")
	if cfg.PostgresDSN == "" {
		cfg.PostgresDSN = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			p.str("DB_HOST", "localhost"),
			p.str("DB_PORT", "5432"),
			p.str("DB_USER", "commerce"),
			p.str("DB_PASSWORD", "commerce"),
			p.str("DB_NAME", "commerce"),
			p.str("DB_SSLMODE", "disable"))
	}

	switch cfg.StoreBackend {
	case StoreMemory, StoreMongo, StorePostgres:
	default:
		p.errs = append(p.errs, fmt.Errorf("STORE_BACKEND must be one of memory, mongo, postgres, got %q", cfg.StoreBackend))
	}

	if len(p.errs) > 0 {
		return nil, errors.Join(p.errs...)
	}
	return cfg, nil
}
