package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheusmosca/cafe-checkout/checkout"
)

// fakeCafe sells one unit per checkout until stock runs out.
type fakeCafe struct {
	mu       sync.Mutex
	stock    int
	oversell bool
}

func (f *fakeCafe) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch r.URL.Path {
	case "/api/checkout":
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.stock <= 0 && !f.oversell {
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]string{"error": "insufficient stock", "reason": "insufficient_stock"})
			return
		}
		f.stock--
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "o", "status": "completed"})

	case "/api/inventory":
		f.mu.Lock()
		defer f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{
			"ingredients": []map[string]any{{"id": "x", "current_stock": f.stock}},
		})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestRunner_Run(t *testing.T) {
	// Arrange
	server := httptest.NewServer(&fakeCafe{stock: 7})
	defer server.Close()
	runner := NewRunner(server.URL, 5*time.Second, slog.New(slog.DiscardHandler))

	// Act
	report, err := runner.Run(context.Background(), RunConfig{
		Requests:    20,
		Concurrency: 5,
		Items:       []checkout.CartLine{{MenuItemID: "a", Quantity: 1}},
	})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 7, report.Completed)
	assert.Equal(t, 13, report.Rejected)
	assert.Equal(t, 13, report.ByReason["insufficient_stock"])
	assert.Empty(t, report.NegativeStock)
}

func TestRunner_DetectsOversell(t *testing.T) {
	server := httptest.NewServer(&fakeCafe{stock: 2, oversell: true})
	defer server.Close()
	runner := NewRunner(server.URL, 5*time.Second, slog.New(slog.DiscardHandler))

	report, err := runner.Run(context.Background(), RunConfig{Requests: 4, Concurrency: 2, RPS: 1000})

	require.NoError(t, err)
	assert.Equal(t, 4, report.Completed)
	assert.Equal(t, []string{"x"}, report.NegativeStock)
}

func TestRunner_InvalidConfig(t *testing.T) {
	runner := NewRunner("http://localhost:1", time.Second, slog.New(slog.DiscardHandler))

	_, err := runner.Run(context.Background(), RunConfig{})

	assert.Error(t, err)
}

func TestRunConfig(t *testing.T) {
	t.Setenv("REQUESTS", "10")
	t.Setenv("CONCURRENCY", "2")
	t.Setenv("MENU_ITEM", "espresso")
	t.Setenv("QUANTITY", "3")

	cfg, err := runConfig()

	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Requests)
	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, []checkout.CartLine{{MenuItemID: "espresso", Quantity: 3}}, cfg.Items)

	t.Setenv("RPS", "fast")
	_, err = runConfig()
	assert.ErrorContains(t, err, "RPS")
}
