package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"

	"github.com/matheusmosca/cafe-checkout/analytics"
	"github.com/matheusmosca/cafe-checkout/checkout"
	"github.com/matheusmosca/cafe-checkout/events"
	"github.com/matheusmosca/cafe-checkout/logger"
)

type closingPublisher interface {
	checkout.EventPublisher
	Close() error
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("cafe service stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		tp, err := initTracer(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				log.Warn("error shutting down tracer", "error", err)
			}
		}()

		mp, err := initMetrics(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := mp.Shutdown(context.Background()); err != nil {
				log.Warn("error shutting down meter", "error", err)
			}
		}()
	}

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := provision(ctx, cfg, store, log); err != nil {
		return err
	}

	var publisher closingPublisher = events.Noop{}
	if cfg.RabbitMQURL != "" {
		p, err := events.Dial(ctx, events.Config{URL: cfg.RabbitMQURL, Exchange: cfg.RabbitMQExchange}, log)
		if err != nil {
			return err
		}
		publisher = p
	}
	defer publisher.Close()

	metrics, err := checkout.NewMetrics()
	if err != nil {
		return err
	}

	engine := checkout.NewEngine(store, checkout.EngineConfig{
		Timeout:   cfg.CheckoutTimeout,
		Publisher: publisher,
		Metrics:   metrics,
		Logger:    log,
	})
	aggregator := analytics.NewAggregator(store, cfg.TopItems, log)

	handler := NewCafeHandler(engine, engine.Catalog(), engine.Ledger(), aggregator, store, otel.Tracer("cafe-service"))

	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.TracingEnabled {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	handler.Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("cafe service listening", "port", cfg.Port, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
