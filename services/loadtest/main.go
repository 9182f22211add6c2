package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/matheusmosca/cafe-checkout/checkout"
	"github.com/matheusmosca/cafe-checkout/logger"
)

// loadtest submits the same cart many times at once and then checks that no
// ingredient went negative.
func main() {
	log := logger.New(logger.Config{Level: getEnv("LOG_LEVEL", "info"), Format: getEnv("LOG_FORMAT", "text")})

	cfg, err := runConfig()
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := NewRunner(getEnv("TARGET_URL", "http://localhost:8080"), 10*time.Second, log)
	report, err := runner.Run(ctx, cfg)
	if err != nil {
		log.Error("load test failed", "error", err)
		os.Exit(1)
	}

	log.Info("load test finished",
		"requests", cfg.Requests,
		"completed", report.Completed,
		"rejected", report.Rejected,
		"aborted", report.Aborted,
		"failed", report.Failed,
		"by_reason", report.ByReason,
		"duration", report.Duration,
	)

	if len(report.NegativeStock) > 0 {
		log.Error("ingredients oversold", "ingredients", report.NegativeStock)
		os.Exit(2)
	}
}

func runConfig() (RunConfig, error) {
	requests, err := strconv.Atoi(getEnv("REQUESTS", "200"))
	if err != nil {
		return RunConfig{}, fmt.Errorf("invalid REQUESTS: %w", err)
	}
	concurrency, err := strconv.Atoi(getEnv("CONCURRENCY", "20"))
	if err != nil {
		return RunConfig{}, fmt.Errorf("invalid CONCURRENCY: %w", err)
	}
	rps, err := strconv.ParseFloat(getEnv("RPS", "0"), 64)
	if err != nil {
		return RunConfig{}, fmt.Errorf("invalid RPS: %w", err)
	}
	quantity, err := strconv.Atoi(getEnv("QUANTITY", "1"))
	if err != nil {
		return RunConfig{}, fmt.Errorf("invalid QUANTITY: %w", err)
	}

	return RunConfig{
		Requests:    requests,
		Concurrency: concurrency,
		RPS:         rps,
		Items:       []checkout.CartLine{{MenuItemID: getEnv("MENU_ITEM", "latte"), Quantity: quantity}},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
