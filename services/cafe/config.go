package main

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is read once from the environment at startup.
type Config struct {
	Port        string
	StoreDriver string // pgx, postgres, sqlite or memory

	DatabaseHost     string
	DatabasePort     string
	DatabaseUser     string
	DatabasePassword string
	DatabaseName     string
	SQLitePath       string

	SeedFile        string
	CheckoutTimeout time.Duration
	TopItems        int

	RabbitMQURL      string
	RabbitMQExchange string

	OTLPEndpoint   string
	ServiceName    string
	TracingEnabled bool

	LogLevel  string
	LogFormat string
}

func loadConfig() (Config, error) {
	cfg := Config{
		Port:             getEnv("PORT", "8080"),
		StoreDriver:      getEnv("STORE_DRIVER", "pgx"),
		DatabaseHost:     getEnv("DATABASE_HOST", "localhost"),
		DatabasePort:     getEnv("DATABASE_PORT", "5432"),
		DatabaseUser:     getEnv("DATABASE_USER", "root"),
		DatabasePassword: getEnv("DATABASE_PASSWORD", "pass"),
		DatabaseName:     getEnv("DATABASE_NAME", "cafe_db"),
		SQLitePath:       getEnv("SQLITE_PATH", "cafe.db"),
		SeedFile:         getEnv("SEED_FILE", ""),
		RabbitMQURL:      getEnv("RABBITMQ_URL", ""),
		RabbitMQExchange: getEnv("RABBITMQ_EXCHANGE", "cafe_exchange"),
		OTLPEndpoint:     getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		ServiceName:      getEnv("SERVICE_NAME", "cafe-service"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "json"),
	}

	var err error
	if cfg.CheckoutTimeout, err = time.ParseDuration(getEnv("CHECKOUT_TIMEOUT", "5s")); err != nil {
		return Config{}, fmt.Errorf("invalid CHECKOUT_TIMEOUT: %w", err)
	}
	if cfg.TopItems, err = strconv.Atoi(getEnv("TOP_ITEMS", "5")); err != nil {
		return Config{}, fmt.Errorf("invalid TOP_ITEMS: %w", err)
	}
	if cfg.TracingEnabled, err = strconv.ParseBool(getEnv("TRACING_ENABLED", "true")); err != nil {
		return Config{}, fmt.Errorf("invalid TRACING_ENABLED: %w", err)
	}

	switch cfg.StoreDriver {
	case "pgx", "postgres", "sqlite", "memory":
	default:
		return Config{}, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	return cfg, nil
}

func (c Config) postgresDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DatabaseUser,
		c.DatabasePassword,
		c.DatabaseHost,
		c.DatabasePort,
		c.DatabaseName,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
