package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"

	disabled = "none"
)

type Config struct {
	HTTPAddr      string
	MetricsAddr   string
	PostgresDSN   string
	StorageDriver string
	AutoMigrate   bool

	RedisAddr string
	CacheTTL  time.Duration

	KafkaBrokers    []string
	KafkaTopic      string
	KafkaGroupID    string
	OutboxInterval  time.Duration
	OutboxBatchSize int

	JWTSecret    string
	OTLPEndpoint string
	LogLevel     string

	// ConfirmOnlyAfterExpiry hides confirm_receipt until a windowed transaction has expired.
	ConfirmOnlyAfterExpiry bool
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using default values", "error", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds the config from getenv, applying defaults for unset keys.
func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		HTTPAddr:      get("HTTP_ADDR", ":8080"),
		MetricsAddr:   get("METRICS_ADDR", ":9090"),
		PostgresDSN:   get("POSTGRES_DSN", "host=localhost user=postgres password=postgres dbname=payment_boxes sslmode=disable"),
		StorageDriver: strings.ToLower(get("STORAGE_DRIVER", StorageDriverPostgres)),
		RedisAddr:     get("REDIS_ADDR", "localhost:6379"),
		KafkaTopic:    get("KAFKA_TOPIC", "payment_boxes"),
		KafkaGroupID:  get("KAFKA_GROUP_ID", "payment-box-service"),
		JWTSecret:     get("JWT_SECRET", "supersecret"),
		OTLPEndpoint:  get("OTLP_ENDPOINT", ""),
		LogLevel:      get("LOG_LEVEL", "info"),
	}

	// "none" turns the optional dependency off. Without a metrics listener /metrics moves to the API.
	if cfg.RedisAddr == disabled {
		cfg.RedisAddr = ""
	}
	if cfg.MetricsAddr == disabled {
		cfg.MetricsAddr = ""
	}
	if brokers := get("KAFKA_BROKERS", "localhost:9092"); brokers != disabled {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	var err error
	if cfg.AutoMigrate, err = strconv.ParseBool(get("AUTO_MIGRATE", "true")); err != nil {
		return nil, fmt.Errorf("invalid AUTO_MIGRATE: %w", err)
	}
	if cfg.ConfirmOnlyAfterExpiry, err = strconv.ParseBool(get("CONFIRM_ONLY_AFTER_EXPIRY", "false")); err != nil {
		return nil, fmt.Errorf("invalid CONFIRM_ONLY_AFTER_EXPIRY: %w", err)
	}
	if cfg.CacheTTL, err = time.ParseDuration(get("CACHE_TTL", "5m")); err != nil {
		return nil, fmt.Errorf("invalid CACHE_TTL: %w", err)
	}
	if cfg.OutboxInterval, err = time.ParseDuration(get("OUTBOX_INTERVAL", "1s")); err != nil {
		return nil, fmt.Errorf("invalid OUTBOX_INTERVAL: %w", err)
	}
	if cfg.OutboxBatchSize, err = strconv.Atoi(get("OUTBOX_BATCH_SIZE", "100")); err != nil {
		return nil, fmt.Errorf("invalid OUTBOX_BATCH_SIZE: %w", err)
	}

	if cfg.StorageDriver != StorageDriverPostgres && cfg.StorageDriver != StorageDriverMemory {
		return nil, fmt.Errorf("invalid STORAGE_DRIVER %q: want %s or %s", cfg.StorageDriver, StorageDriverPostgres, StorageDriverMemory)
	}
	if cfg.OutboxInterval <= 0 {
		return nil, fmt.Errorf("OUTBOX_INTERVAL must be positive, got %s", cfg.OutboxInterval)
	}
	if cfg.OutboxBatchSize <= 0 {
		return nil, fmt.Errorf("OUTBOX_BATCH_SIZE must be positive, got %d", cfg.OutboxBatchSize)
	}

	slog.Info("config loaded", "http_addr", cfg.HTTPAddr, "storage_driver", cfg.StorageDriver,
		"redis_addr", cfg.RedisAddr, "kafka_brokers", cfg.KafkaBrokers, "confirm_only_after_expiry", cfg.ConfirmOnlyAfterExpiry)
	return cfg, nil
}
