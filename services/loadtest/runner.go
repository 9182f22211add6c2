package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/matheusmosca/cafe-checkout/checkout"
)

type RunConfig struct {
	Requests    int
	Concurrency int
	// RPS caps the request rate. Zero means unpaced.
	RPS   float64
	Items []checkout.CartLine
}

// Report tallies checkout outcomes by HTTP status class and the final
// ledger state.
type Report struct {
	Completed     int
	Rejected      int
	Aborted       int
	Failed        int
	ByReason      map[string]int
	Duration      time.Duration
	NegativeStock []string
}

// Runner fires concurrent checkouts against a running cafe service.
type Runner struct {
	client *resty.Client
	logger *slog.Logger
}

func NewRunner(baseURL string, timeout time.Duration, logger *slog.Logger) *Runner {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &Runner{client: client, logger: logger}
}

type checkoutBody struct {
	Items []checkout.CartLine `json:"items"`
}

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

type inventoryBody struct {
	Ingredients []struct {
		ID           string          `json:"id"`
		CurrentStock decimal.Decimal `json:"current_stock"`
	} `json:"ingredients"`
}

func (r *Runner) Run(ctx context.Context, cfg RunConfig) (*Report, error) {
	if cfg.Requests <= 0 || cfg.Concurrency <= 0 {
		return nil, fmt.Errorf("requests and concurrency must be positive")
	}

	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	limiter := rate.NewLimiter(limit, cfg.Concurrency)

	report := &Report{ByReason: map[string]int{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)

	start := time.Now()
	for i := 0; i < cfg.Requests; i++ {
		if err := limiter.Wait(gctx); err != nil {
			break
		}

		g.Go(func() error {
			var failure errorBody
			resp, err := r.client.R().
				SetContext(gctx).
				SetBody(checkoutBody{Items: cfg.Items}).
				SetError(&failure).
				Post("/api/checkout")

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				report.Failed++
				r.logger.Debug("checkout request failed", "error", err)
				return nil
			}

			switch status := resp.StatusCode(); {
			case status == http.StatusCreated:
				report.Completed++
			case status == http.StatusConflict || status == http.StatusBadRequest:
				report.Rejected++
				report.ByReason[failure.Reason]++
			case status >= 500:
				report.Aborted++
				report.ByReason[failure.Reason]++
			default:
				report.Failed++
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	report.Duration = time.Since(start)

	if err := ctx.Err(); err != nil {
		return report, err
	}

	var inventory inventoryBody
	resp, err := r.client.R().SetContext(ctx).SetResult(&inventory).Get("/api/inventory")
	if err != nil {
		return report, fmt.Errorf("failed to read inventory: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return report, fmt.Errorf("failed to read inventory: status %d", resp.StatusCode())
	}
	for _, ingredient := range inventory.Ingredients {
		if ingredient.CurrentStock.IsNegative() {
			report.NegativeStock = append(report.NegativeStock, ingredient.ID)
		}
	}

	return report, nil
}
